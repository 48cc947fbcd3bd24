package nibe

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/nibewire/nibewire/helpers"
	"github.com/nibewire/nibewire/log2"
)

// Listener observes every Command arriving on the session.
// Invoked from the dispatch goroutine under the listener lock: keep it
// cheap and never call Listen/cancel from inside.
type Listener func(Command)

// Controller multiplexes the single inbound stream to any number of
// concurrent logical operations. Read/Write register a transient
// matcher, send the request and wait for exactly one matching reply
// while unrelated broadcast traffic keeps flowing.
type Controller struct {
	Log   *log2.Log
	conn  *Connection
	alive *alive.Alive

	lk        sync.Mutex
	listeners map[uint32]Listener
	seq       uint32

	bcast chan Command
}

func NewController(log *log2.Log, conn *Connection) *Controller {
	self := &Controller{
		Log:       log,
		conn:      conn,
		alive:     alive.NewAlive(),
		listeners: make(map[uint32]Listener, 8),
		bcast:     make(chan Command, 16),
	}
	self.alive.Add(1)
	go self.dispatchLoop()
	return self
}

// Listen registers fn for the dispatch fan-out and returns its remover.
// Callers must arrange removal on every exit path, typically
//	cancel := c.Listen(fn)
//	defer cancel()
// Removal is synchronized with dispatch: after cancel returns, fn will
// not be invoked again.
func (self *Controller) Listen(fn Listener) (cancel func()) {
	self.lk.Lock()
	id := self.seq
	self.seq++
	self.listeners[id] = fn
	self.lk.Unlock()
	return func() {
		self.lk.Lock()
		delete(self.listeners, id)
		self.lk.Unlock()
	}
}

// Commands re-emits every dispatched Command for external consumers.
// Slow consumers lose messages rather than stall dispatch.
func (self *Controller) Commands() <-chan Command { return self.bcast }

// Read requests one register and waits for the matching reply. Deadline
// and cancellation come from ctx; on expiry the transient listener is
// removed before the timeout error propagates.
func (self *Controller) Read(ctx context.Context, register uint16) (uint32, error) {
	fu := helpers.NewFuture()
	cancel := self.Listen(func(cmd Command) {
		if r, ok := cmd.(ResponseRead); ok && r.Register == register {
			fu.Complete(r)
		}
	})
	defer cancel()

	if err := self.conn.Send(RequestRead{Register: register}); err != nil {
		return 0, errors.Trace(err)
	}
	select {
	case <-fu.Completed():
		return fu.Result().(ResponseRead).Value, nil
	case <-ctx.Done():
		return 0, errors.Timeoutf("nibe read register=%d", register)
	}
}

// Write stores value into register and waits for the acknowledgement.
func (self *Controller) Write(ctx context.Context, register uint16, value uint32) error {
	fu := helpers.NewFuture()
	cancel := self.Listen(func(cmd Command) {
		if w, ok := cmd.(ResponseWrite); ok && w.Register == register {
			fu.Complete(w)
		}
	})
	defer cancel()

	if err := self.conn.Send(RequestWrite{Register: register, Value: value}); err != nil {
		return errors.Trace(err)
	}
	select {
	case <-fu.Completed():
		return nil
	case <-ctx.Done():
		return errors.Timeoutf("nibe write register=%d", register)
	}
}

func (self *Controller) Close() {
	self.alive.Stop()
	self.alive.Wait()
}

// dispatchLoop fans every carried Command out to the listener set in
// datagram arrival order. Holding the lock across the fan-out is what
// guarantees cancel() never races a running listener.
func (self *Controller) dispatchLoop() {
	defer self.alive.Done()
	defer close(self.bcast)
	msgs := self.conn.Messages()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				self.alive.Stop()
				return
			}
			var cmd Command
			switch m := msg.(type) {
			case MessageMaster:
				cmd = m.Command
			case MessageSlave:
				cmd = m.Command
			default:
				// bare ACK/NAK and unknown raw frames carry no command
				continue
			}
			self.lk.Lock()
			for _, fn := range self.listeners {
				fn(cmd)
			}
			self.lk.Unlock()
			select {
			case self.bcast <- cmd:
			default:
				self.Log.Debugf("nibe controller broadcast overflow drop=%v", cmd)
			}
		case <-self.alive.StopChan():
			return
		}
	}
}
