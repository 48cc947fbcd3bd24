package nibe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replyRead serves inbound read requests with canned register values,
// in the given order of arrival, regardless of request order.
func replyRead(t testing.TB, sock *ChanSocket, values map[uint16]uint32, replyOrder []uint16) {
	t.Helper()
	for range replyOrder {
		recvSent(t, sock) // consume the request frame
	}
	for _, reg := range replyOrder {
		frame := MessageMaster{Address: 0x20, Command: ResponseRead{Register: reg, Value: values[reg]}}
		sock.MockRecv(frame.Bytes())
	}
}

func TestControllerRead(t *testing.T) {
	t.Parallel()

	ctl, conn, sock := NewTestController(t, Config{})
	defer conn.Close()
	defer ctl.Close()

	type result struct {
		value uint32
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		v, err := ctl.Read(ctx, 40004)
		resultCh <- result{v, err}
	}()

	s := recvSent(t, sock)
	assert.Equal(t, MessageSlave{Command: RequestRead{Register: 40004}}.Bytes(), s.Data)
	sock.MockRecv(MessageMaster{Address: 0x20, Command: ResponseRead{Register: 40004, Value: 287}}.Bytes())

	r := <-resultCh
	require.NoError(t, r.err)
	assert.Equal(t, uint32(287), r.value)
}

func TestControllerWrite(t *testing.T) {
	t.Parallel()

	ctl, conn, sock := NewTestController(t, Config{})
	defer conn.Close()
	defer ctl.Close()

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		errCh <- ctl.Write(ctx, 12345, 987654)
	}()

	s := recvSent(t, sock)
	assert.Equal(t, mustHexSpaced("c0 6b 06 39 30 06 12 0f 00 bf"), s.Data)
	sock.MockRecv(MessageMaster{Address: 0x20, Command: ResponseWrite{Register: 12345}}.Bytes())
	require.NoError(t, <-errCh)
}

// Two in-flight reads, replies interleaved out of request order: each
// call must resolve to its own register, never the other's.
func TestControllerConcurrentReads(t *testing.T) {
	t.Parallel()

	ctl, conn, sock := NewTestController(t, Config{})
	defer conn.Close()
	defer ctl.Close()

	values := map[uint16]uint32{100: 0xAAAA, 200: 0xBBBB}

	var wg sync.WaitGroup
	results := make(map[uint16]uint32, 2)
	var rlk sync.Mutex
	for reg := range values {
		reg := reg
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()
			v, err := ctl.Read(ctx, reg)
			assert.NoError(t, err)
			rlk.Lock()
			results[reg] = v
			rlk.Unlock()
		}()
	}

	// wait for both requests, then reply high register first
	replyRead(t, sock, values, []uint16{200, 100})
	wg.Wait()

	assert.Equal(t, values, map[uint16]uint32{100: results[100], 200: results[200]})
}

func TestControllerReadTimeout(t *testing.T) {
	t.Parallel()

	ctl, conn, sock := NewTestController(t, Config{})
	defer conn.Close()
	defer ctl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ctl.Read(ctx, 31337)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err), "expected timeout, got %v", err)
	recvSent(t, sock) // request was still transmitted

	// late reply after timeout: listener is gone, traffic is harmless
	sock.MockRecv(MessageMaster{Address: 0x20, Command: ResponseRead{Register: 31337, Value: 1}}.Bytes())
	select {
	case cmd := <-ctl.Commands():
		assert.Equal(t, ResponseRead{Register: 31337, Value: 1}, cmd)
	case <-time.After(testTimeout):
		t.Fatal("broadcast not re-emitted")
	}
}

// A reply for a different register must not resolve a pending call.
func TestControllerNoCrosstalk(t *testing.T) {
	t.Parallel()

	ctl, conn, sock := NewTestController(t, Config{})
	defer conn.Close()
	defer ctl.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		_, err := ctl.Read(ctx, 1)
		assert.True(t, errors.IsTimeout(err))
	}()

	recvSent(t, sock)
	// same kind, wrong register
	sock.MockRecv(MessageMaster{Address: 0x20, Command: ResponseRead{Register: 2, Value: 7}}.Bytes())
	// right register, wrong kind
	sock.MockRecv(MessageMaster{Address: 0x20, Command: ResponseWrite{Register: 1}}.Bytes())
	<-done
}

func TestControllerListenFanout(t *testing.T) {
	t.Parallel()

	ctl, conn, sock := NewTestController(t, Config{})
	defer conn.Close()
	defer ctl.Close()

	ch1 := make(chan Command, 1)
	ch2 := make(chan Command, 1)
	cancel1 := ctl.Listen(func(cmd Command) { ch1 <- cmd })
	cancel2 := ctl.Listen(func(cmd Command) { ch2 <- cmd })
	defer cancel2()

	broadcast := MessageMaster{Address: 0x20, Command: ResponseData{Parameters: map[uint16]uint16{40004: 30}}}
	sock.MockRecv(broadcast.Bytes())

	expect := ResponseData{Parameters: map[uint16]uint16{40004: 30}}
	for _, ch := range []chan Command{ch1, ch2} {
		select {
		case cmd := <-ch:
			assert.Equal(t, expect, cmd)
		case <-time.After(testTimeout):
			t.Fatal("listener not invoked")
		}
	}

	// cancelled listener must not see further traffic
	cancel1()
	sock.MockRecv(broadcast.Bytes())
	select {
	case cmd := <-ch2:
		assert.Equal(t, expect, cmd)
	case <-time.After(testTimeout):
		t.Fatal("remaining listener not invoked")
	}
	select {
	case cmd := <-ch1:
		t.Fatalf("cancelled listener invoked with %v", cmd)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestControllerBroadcastStream(t *testing.T) {
	t.Parallel()

	ctl, conn, sock := NewTestController(t, Config{})
	defer conn.Close()
	defer ctl.Close()

	// ACK carries no command and must not appear on the broadcast stream
	sock.MockRecv(mustHexSpaced("06"))
	sock.MockRecv(mustHexSpaced("5c 00 20 69 00 49"))

	select {
	case cmd := <-ctl.Commands():
		assert.Equal(t, RequestReadNull{}, cmd)
	case <-time.After(testTimeout):
		t.Fatal("broadcast not delivered")
	}
}
