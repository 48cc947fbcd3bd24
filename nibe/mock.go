package nibe

// Public API to test Connection/Controller consumers without real UDP.

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nibewire/nibewire/log2"
)

type mockAddr string

func (mockAddr) Network() string     { return "udp" }
func (self mockAddr) String() string { return string(self) }

func MockPeerAddr(hostport string) net.Addr { return mockAddr(hostport) }

// ChanSocket is a channel-backed Socket. Datagrams written with MockRecv
// come out of ReadFrom; WriteTo lands on Sent. Timeout guards panic
// instead of deadlocking a stuck test.
type ChanSocket struct {
	rx        chan []byte
	tx        chan Sent
	from      net.Addr
	timeout   time.Duration
	closed    chan struct{}
	closeOnce sync.Once
}

// Sent is one outbound datagram with its destination.
type Sent struct {
	Data []byte
	Addr net.Addr
}

func NewChanSocket(timeout time.Duration) *ChanSocket {
	return &ChanSocket{
		rx:      make(chan []byte, 16),
		tx:      make(chan Sent, 16),
		from:    mockAddr("127.0.0.1:9999"),
		timeout: timeout,
		closed:  make(chan struct{}),
	}
}

// SetFrom changes the apparent sender of subsequent MockRecv datagrams.
func (self *ChanSocket) SetFrom(addr net.Addr) { self.from = addr }

// MockRecv injects one inbound datagram.
func (self *ChanSocket) MockRecv(b []byte) {
	select {
	case self.rx <- append([]byte(nil), b...):
	case <-time.After(self.timeout):
		panic("nibe mock ChanSocket.MockRecv timeout guard")
	}
}

// Sent exposes outbound datagrams in transmit order.
func (self *ChanSocket) Sent() <-chan Sent { return self.tx }

func (self *ChanSocket) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case p := <-self.rx:
		return copy(b, p), self.from, nil
	case <-self.closed:
		return 0, nil, io.EOF
	}
}

func (self *ChanSocket) WriteTo(b []byte, addr net.Addr) (int, error) {
	s := Sent{Data: append([]byte(nil), b...), Addr: addr}
	select {
	case self.tx <- s:
		return len(b), nil
	case <-self.closed:
		return 0, io.ErrClosedPipe
	case <-time.After(self.timeout):
		panic("nibe mock ChanSocket.WriteTo timeout guard. send without corresponding Sent() receive")
	}
}

func (self *ChanSocket) Close() error {
	self.closeOnce.Do(func() { close(self.closed) })
	return nil
}

// NewTestConnection wires a Connection over a ChanSocket with test logging.
func NewTestConnection(t testing.TB, conf Config) (*Connection, *ChanSocket) {
	if conf.Host == "" && !conf.AdoptPeer {
		conf.Host = "127.0.0.1"
	}
	sock := NewChanSocket(5 * time.Second)
	conn := NewConnection(log2.NewTest(t, log2.LDebug), sock, conf)
	return conn, sock
}

// NewTestController stacks a Controller on a mocked Connection.
// Close the returned Connection before the test ends.
func NewTestController(t testing.TB, conf Config) (*Controller, *Connection, *ChanSocket) {
	conn, sock := NewTestConnection(t, conf)
	ctl := NewController(conn.Log, conn)
	return ctl, conn, sock
}
