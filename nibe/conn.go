package nibe

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"

	"github.com/nibewire/nibewire/log2"
)

// Default UDP ports of the pump gateway dialect.
const (
	DefaultPortListen = 9999
	DefaultPortRead   = 9999
	DefaultPortWrite  = 10000
)

// Plenty for the largest broadcast frame with worst-case stuffing.
const datagramMaxLength = 1024

// Socket is the datagram endpoint a Connection owns. *net.UDPConn
// implements it; tests substitute ChanSocket.
type Socket interface {
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	WriteTo(b []byte, addr net.Addr) (n int, err error)
	Close() error
}

type Config struct {
	// Host is the pump address. With AdoptPeer the first sender
	// overrides it as peer of record.
	Host       string `hcl:"host"`
	PortListen int    `hcl:"listen_port"`
	PortRead   int    `hcl:"read_port"`
	PortWrite  int    `hcl:"write_port"`
	AdoptPeer  bool   `hcl:"adopt_peer"`
	LogDebug   bool   `hcl:"log_debug"`
}

func (c *Config) normalize() {
	if c.PortListen == 0 {
		c.PortListen = DefaultPortListen
	}
	if c.PortRead == 0 {
		c.PortRead = DefaultPortRead
	}
	if c.PortWrite == 0 {
		c.PortWrite = DefaultPortWrite
	}
}

// Connection owns one datagram socket: sends encoded slave frames to the
// pump and exposes the decoded inbound message stream. Malformed
// datagrams are logged and dropped, they never terminate the stream.
type Connection struct {
	Log   *log2.Log
	alive *alive.Alive
	sock  Socket
	conf  Config
	msgCh chan Message
	last  atomic_clock.Clock

	lk      sync.Mutex
	adopted net.IP
}

// Dial binds the listen socket and starts the receive loop.
func Dial(log *log2.Log, conf Config) (*Connection, error) {
	conf.normalize()
	sock, err := net.ListenUDP("udp4", &net.UDPAddr{Port: conf.PortListen})
	if err != nil {
		return nil, errors.Annotatef(err, "nibe listen port=%d", conf.PortListen)
	}
	return NewConnection(log, sock, conf), nil
}

// NewConnection wraps an already bound socket, mostly for tests.
func NewConnection(log *log2.Log, sock Socket, conf Config) *Connection {
	conf.normalize()
	self := &Connection{
		Log:   log,
		alive: alive.NewAlive(),
		sock:  sock,
		conf:  conf,
		msgCh: make(chan Message, 16),
	}
	self.alive.Add(1)
	go self.recvLoop()
	return self
}

// Send encodes command into a slave frame and transmits it. Read-class
// commands go to the read port, write-class to the write port; anything
// else is a caller error.
func (self *Connection) Send(cmd Command) error {
	var port int
	switch cmd.Code() {
	case CodeRequestRead:
		port = self.conf.PortRead
	case CodeRequestWrite:
		port = self.conf.PortWrite
	default:
		return errors.NotValidf("nibe send command=%02x", cmd.Code())
	}
	host, err := self.peerHost()
	if err != nil {
		return errors.Trace(err)
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return errors.Annotatef(err, "nibe send resolve host=%s", host)
	}
	frame := MessageSlave{Command: cmd}.Bytes()
	_, err = self.sock.WriteTo(frame, addr)
	self.Log.Debugf("nibe TX %x -> %s err=%v", frame, addr, err)
	return errors.Trace(err)
}

// Messages is the decoded inbound stream. Closed when the session stops.
func (self *Connection) Messages() <-chan Message { return self.msgCh }

// SinceLastMessage reports time since the last well-formed inbound frame.
func (self *Connection) SinceLastMessage() time.Duration {
	return atomic_clock.Since(&self.last)
}

func (self *Connection) Close() error {
	self.alive.Stop()
	err := self.sock.Close()
	self.alive.Wait()
	return errors.Trace(err)
}

func (self *Connection) peerHost() (string, error) {
	self.lk.Lock()
	adopted := self.adopted
	self.lk.Unlock()
	if adopted != nil {
		return adopted.String(), nil
	}
	if self.conf.Host == "" {
		return "", errors.NotProvisionedf("nibe peer host")
	}
	return self.conf.Host, nil
}

// checkPeer implements the configured peer policy: adopt the first-seen
// sender, or keep trusting configured host and only log strangers.
func (self *Connection) checkPeer(from net.Addr) {
	host, _, err := net.SplitHostPort(from.String())
	if err != nil {
		return
	}
	if self.conf.AdoptPeer {
		self.lk.Lock()
		defer self.lk.Unlock()
		if self.adopted == nil {
			self.adopted = net.ParseIP(host)
			self.Log.Infof("nibe adopted peer=%s", host)
		}
		return
	}
	if self.conf.Host != "" && host != self.conf.Host {
		self.Log.Errorf("nibe data from unexpected host=%s expected=%s", host, self.conf.Host)
	}
}

func (self *Connection) recvLoop() {
	defer self.alive.Done()
	defer close(self.msgCh)
	buf := make([]byte, datagramMaxLength)
	for self.alive.IsRunning() {
		n, from, err := self.sock.ReadFrom(buf)
		if err != nil {
			if self.alive.IsRunning() {
				self.Log.Errorf("nibe RX socket err=%v", err)
				self.alive.Stop()
			}
			return
		}
		raw := append([]byte(nil), buf[:n]...)
		self.checkPeer(from)
		msg, err := Parse(raw)
		if err != nil {
			self.Log.Errorf("nibe RX %x from=%s err=%v", raw, from, err)
			continue
		}
		self.last.SetNow()
		self.Log.Debugf("nibe RX %x from=%s -> %v", raw, from, msg)
		select {
		case self.msgCh <- msg:
		case <-self.alive.StopChan():
			return
		}
	}
}
