package tele

import (
	"github.com/nibewire/nibewire/log2"
	tele_config "github.com/nibewire/nibewire/tele/config"
)

// Tele transport contract:
// - Init fails only with invalid config, ignores network errors
// - Send delivers (with retries) within timeout or fails; success includes ack from receiver
// - hide "connection" concept from upstream API or errors
// - application may start without network available
type Transporter interface {
	Init(log *log2.Log, teleConfig tele_config.Config, willPayload []byte) error
	Send(topicSuffix string, payload []byte, retain bool) bool
	SendState(payload []byte) bool
	Close()
}
