package tele

import (
	"testing"
	"time"

	"github.com/nibewire/nibewire/log2"
	"github.com/nibewire/nibewire/nibe"
	tele_config "github.com/nibewire/nibewire/tele/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func newTestTele(t testing.TB, conf tele_config.Config) (*Tele, *transportMock) {
	mock := &transportMock{t: t, outBuffer: 32, networkTimeout: testTimeout}
	tele := &Tele{transport: mock}
	require.NoError(t, tele.Init(log2.NewTest(t, log2.LDebug), conf))
	return tele, mock
}

func recvPub(t testing.TB, mock *transportMock) mockPub {
	t.Helper()
	select {
	case p := <-mock.out:
		return p
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for publish")
		return mockPub{}
	}
}

func recvState(t testing.TB, mock *transportMock) string {
	t.Helper()
	select {
	case p := <-mock.outState:
		return string(p)
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for state")
		return ""
	}
}

func TestTeleDisabled(t *testing.T) {
	t.Parallel()
	tele := new(Tele)
	require.NoError(t, tele.Init(log2.NewTest(t, log2.LDebug), tele_config.Config{Enabled: false}))
	tele.Attach(nil)
	tele.Close()
}

func TestTelePublishRegisters(t *testing.T) {
	t.Parallel()
	ctl, conn, sock := nibe.NewTestController(t, nibe.Config{})
	defer conn.Close()
	tele, mock := newTestTele(t, tele_config.Config{Enabled: true})
	tele.Attach(ctl)
	assert.Equal(t, StateOnline, recvState(t, mock))

	sock.MockRecv(nibe.MessageMaster{
		Address: 0x20,
		Command: nibe.ResponseData{Parameters: map[uint16]uint16{40004: 180}},
	}.Bytes())
	p := recvPub(t, mock)
	assert.Equal(t, "register/40004", p.TopicSuffix)
	assert.Equal(t, "180", string(p.Payload))
	assert.True(t, p.Retain)

	sock.MockRecv(nibe.MessageMaster{
		Address: 0x20,
		Command: nibe.ResponseRead{Register: 47011, Value: 95},
	}.Bytes())
	p = recvPub(t, mock)
	assert.Equal(t, "register/47011", p.TopicSuffix)
	assert.Equal(t, "95", string(p.Payload))

	tele.Close()
	assert.Equal(t, StateOffline, recvState(t, mock))
}

func TestTelePublishProduct(t *testing.T) {
	t.Parallel()
	ctl, conn, sock := nibe.NewTestController(t, nibe.Config{})
	defer conn.Close()
	tele, mock := newTestTele(t, tele_config.Config{Enabled: true})
	defer tele.Close()
	tele.Attach(ctl)
	recvState(t, mock)

	sock.MockRecv(nibe.MessageMaster{
		Address: 0x20,
		Command: nibe.ResponseProduct{Unknown: []byte{0x01, 0x02, 0x03}, Product: "F1255-6 R"},
	}.Bytes())
	p := recvPub(t, mock)
	assert.Equal(t, "product", p.TopicSuffix)
	assert.Equal(t, "F1255-6 R", string(p.Payload))
	assert.True(t, p.Retain)
}
