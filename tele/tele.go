package tele

import (
	"fmt"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/nibewire/nibewire/log2"
	"github.com/nibewire/nibewire/nibe"
	tele_config "github.com/nibewire/nibewire/tele/config"
	"github.com/temoto/alive/v2"
)

const defaultNetworkTimeout = 30 * time.Second

const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// Tele contract:
// - Init() fails only with invalid config, network issues ignored
// - register updates are published in background, slow network never
//   blocks the protocol dispatch loop
// - publishes may be lost when the outbound queue is full
type Tele struct {
	enabled   bool
	log       *log2.Log
	transport Transporter
	alive     *alive.Alive
	pubCh     chan pub
	cancel    func()
}

type pub struct {
	topicSuffix string
	payload     []byte
	retain      bool
}

func (self *Tele) Init(log *log2.Log, teleConfig tele_config.Config) error {
	self.enabled = teleConfig.Enabled
	self.log = log.Clone(log2.LInfo)
	if teleConfig.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	if !self.enabled {
		return nil
	}

	self.alive = alive.NewAlive()
	self.pubCh = make(chan pub, 64)

	// test code sets .transport
	if self.transport == nil { // production path
		self.transport = &transportMqtt{}
	}
	if err := self.transport.Init(self.log, teleConfig, []byte(StateOffline)); err != nil {
		return errors.Annotate(err, "tele transport")
	}

	self.alive.Add(1)
	go self.worker()
	self.transport.SendState([]byte(StateOnline))
	return nil
}

// Attach subscribes to the controller stream. Every register value
// carried by data blobs and read responses is published, retained,
// under topicPrefix/register/<number>.
func (self *Tele) Attach(ctl *nibe.Controller) {
	if !self.enabled {
		return
	}
	self.cancel = ctl.Listen(self.onCommand)
}

func (self *Tele) Close() {
	if !self.enabled {
		return
	}
	if self.cancel != nil {
		self.cancel()
	}
	self.alive.Stop()
	self.alive.Wait()
	self.transport.SendState([]byte(StateOffline))
	self.transport.Close()
}

func (self *Tele) onCommand(cmd nibe.Command) {
	switch c := cmd.(type) {
	case nibe.ResponseData:
		for register, value := range c.Parameters {
			self.publishRegister(register, uint32(value))
		}
	case nibe.ResponseRead:
		self.publishRegister(c.Register, c.Value)
	case nibe.ResponseProduct:
		self.push(pub{topicSuffix: "product", payload: []byte(c.Product), retain: true})
	}
}

func (self *Tele) publishRegister(register uint16, value uint32) {
	self.push(pub{
		topicSuffix: fmt.Sprintf("register/%d", register),
		payload:     strconv.AppendUint(nil, uint64(value), 10),
		retain:      true,
	})
}

// Must not block: called from the controller dispatch loop.
func (self *Tele) push(p pub) {
	select {
	case self.pubCh <- p:
	default:
		self.log.Errorf("tele queue full drop topic=%s", p.topicSuffix)
	}
}

func (self *Tele) worker() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	for {
		select {
		case p := <-self.pubCh:
			if !self.transport.Send(p.topicSuffix, p.payload, p.retain) {
				self.log.Errorf("tele publish topic=%s failed", p.topicSuffix)
			}
		case <-stopch:
			return
		}
	}
}
