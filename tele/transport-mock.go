package tele

import (
	"testing"
	"time"

	"github.com/nibewire/nibewire/log2"
	tele_config "github.com/nibewire/nibewire/tele/config"
)

type mockPub struct {
	TopicSuffix string
	Payload     []byte
	Retain      bool
}

type transportMock struct {
	t              testing.TB
	networkTimeout time.Duration
	outBuffer      int
	out            chan mockPub
	outState       chan []byte
}

func (self *transportMock) Init(log *log2.Log, teleConfig tele_config.Config, willPayload []byte) error {
	if self.networkTimeout == 0 {
		self.networkTimeout = defaultNetworkTimeout
	}
	self.out = make(chan mockPub, self.outBuffer)
	self.outState = make(chan []byte, self.outBuffer)
	return nil
}

func (self *transportMock) Close() {}

func (self *transportMock) Send(topicSuffix string, payload []byte, retain bool) bool {
	select {
	case self.out <- mockPub{TopicSuffix: topicSuffix, Payload: payload, Retain: retain}:
		self.t.Logf("mock delivered topic=%s payload=%s", topicSuffix, payload)
	case <-time.After(self.networkTimeout):
		self.t.Logf("mock network timeout")
		return false
	}
	return true
}

func (self *transportMock) SendState(payload []byte) bool {
	select {
	case self.outState <- payload:
		self.t.Logf("mock delivered state=%s", payload)
	case <-time.After(self.networkTimeout):
		self.t.Logf("mock network timeout")
		return false
	}
	return true
}
