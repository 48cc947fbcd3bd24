// Package nibe implements the byte-oriented serial-over-UDP protocol
// spoken by the heat pump ("master") and its accessories ("slaves"):
// frame codec with byte-stuffing and XOR checksum, the command set, a
// UDP transport session and a request/response correlation layer.
package nibe

import (
	"fmt"
)

// Frame start markers. The start byte doubles as the byte-stuffing key
// and the checksum collision key of its frame type.
const (
	StartMaster byte = 0x5C
	StartSlave  byte = 0xC0
	StartAck    byte = 0x06
	StartNak    byte = 0x15
)

// Message is the outer frame envelope around a Command.
type Message interface {
	// Bytes returns the complete wire frame including stuffing and checksum.
	Bytes() []byte
}

// MessageMaster originates from the heat pump, addressed to one accessory.
type MessageMaster struct {
	Address byte
	Command Command
}

func (self MessageMaster) Bytes() []byte {
	payload := self.Command.Payload()
	raw := make([]byte, 0, len(payload)+6)
	raw = append(raw, StartMaster, 0x00, self.Address, self.Command.Code(), byte(len(payload)))
	raw = append(raw, payload...)
	raw = append(raw, Checksum(raw[2:], StartMaster))
	return Escape(raw, StartMaster)
}
func (self MessageMaster) String() string {
	return fmt.Sprintf("Master(addr=%02x %v)", self.Address, self.Command)
}

// MessageSlave originates from an accessory, no address field.
type MessageSlave struct{ Command Command }

func (self MessageSlave) Bytes() []byte {
	payload := self.Command.Payload()
	raw := make([]byte, 0, len(payload)+4)
	raw = append(raw, StartSlave, self.Command.Code(), byte(len(payload)))
	raw = append(raw, payload...)
	raw = append(raw, Checksum(raw, StartSlave))
	return Escape(raw, StartSlave)
}
func (self MessageSlave) String() string { return fmt.Sprintf("Slave(%v)", self.Command) }

type MessageAck struct{}

func (MessageAck) Bytes() []byte  { return []byte{StartAck} }
func (MessageAck) String() string { return "Ack" }

type MessageNak struct{}

func (MessageNak) Bytes() []byte  { return []byte{StartNak} }
func (MessageNak) String() string { return "Nak" }

// MessageUnknown is the raw passthrough of unrecognized start bytes.
type MessageUnknown struct {
	Start byte
	Data  []byte
}

func (self MessageUnknown) Bytes() []byte {
	return append([]byte{self.Start}, self.Data...)
}
func (self MessageUnknown) String() string {
	return fmt.Sprintf("Unknown(%02x %x)", self.Start, self.Data)
}

// ParseError covers all malformed-frame conditions: empty packet, short
// or mismatched length, checksum mismatch. Always recoverable at stream
// level: drop the datagram, keep receiving.
type ParseError struct {
	Msg string
	Raw []byte
}

func (self ParseError) Error() string {
	if len(self.Raw) == 0 {
		return "nibe: " + self.Msg
	}
	return fmt.Sprintf("nibe: %s raw=%x", self.Msg, self.Raw)
}

func parseErrorf(raw []byte, format string, args ...interface{}) ParseError {
	return ParseError{Msg: fmt.Sprintf(format, args...), Raw: raw}
}

// Unescape reverses byte-stuffing. The first byte is the frame start
// marker and passes through unchanged; afterwards every key byte is an
// escape that yields the byte following it. A stream truncated exactly
// on a trailing key ends silently, callers catch that via length checks.
func Unescape(data []byte, key byte) []byte {
	if len(data) == 0 {
		return nil
	}
	out := make([]byte, 0, len(data))
	out = append(out, data[0])
	for i := 1; i < len(data); i++ {
		if data[i] == key {
			i++
			if i >= len(data) {
				break
			}
		}
		out = append(out, data[i])
	}
	return out
}

// Escape doubles every key byte after the first so a frame body can
// never be confused with a new frame start.
func Escape(data []byte, key byte) []byte {
	if len(data) == 0 {
		return nil
	}
	out := make([]byte, 0, len(data)+2)
	out = append(out, data[0])
	for _, b := range data[1:] {
		if b == key {
			out = append(out, key)
		}
		out = append(out, b)
	}
	return out
}

// Checksum XOR-folds data. A result equal to key would desynchronize
// parsing, so it is substituted with the nibble-swapped key; the
// substitution is symmetric between encode and decode.
func Checksum(data []byte, key byte) byte {
	var result byte
	for _, b := range data {
		result ^= b
	}
	if result == key {
		result = (key << 4) | (key >> 4)
	}
	return result
}

// Parse decodes one datagram into a typed Message. Unrecognized command
// codes inside valid frames decode to CommandUnknown; only structural
// defects return ParseError.
func Parse(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ParseError{Msg: "empty packet"}
	}
	switch data[0] {
	case StartMaster:
		return parseMaster(data)
	case StartSlave:
		return parseSlave(data)
	case StartAck:
		return MessageAck{}, nil
	case StartNak:
		return MessageNak{}, nil
	default:
		return MessageUnknown{Start: data[0], Data: append([]byte(nil), data[1:]...)}, nil
	}
}

// Master frame: 5C 00 <addr> <cmd> <len> <payload> <chk>, checksum over
// addr..payload with the two lead bytes excluded.
func parseMaster(raw []byte) (Message, error) {
	data := Unescape(raw, StartMaster)
	if len(data) < 5 {
		return nil, parseErrorf(raw, "master frame truncated length=%d", len(data))
	}
	dlen := int(data[4])
	if len(data) < dlen+6 {
		return nil, parseErrorf(raw, "invalid packet length declared=%d have=%d", dlen, len(data))
	}
	payload := data[5 : 5+dlen]
	received := data[5+dlen]
	computed := Checksum(data[2:5+dlen], StartMaster)
	if computed != received {
		return nil, parseErrorf(raw, "invalid checksum computed=%02x received=%02x", computed, received)
	}
	cmd, err := decodeCommand(data[3], payload)
	if err != nil {
		return nil, err
	}
	return MessageMaster{Address: data[2], Command: cmd}, nil
}

// Slave frame: C0 <cmd> <len> <payload> <chk>, checksum from the start
// byte through the payload.
func parseSlave(raw []byte) (Message, error) {
	data := Unescape(raw, StartSlave)
	if len(data) < 3 {
		return nil, parseErrorf(raw, "slave frame truncated length=%d", len(data))
	}
	dlen := int(data[2])
	if len(data) < dlen+4 {
		return nil, parseErrorf(raw, "invalid packet length declared=%d have=%d", dlen, len(data))
	}
	payload := data[3 : 3+dlen]
	received := data[3+dlen]
	computed := Checksum(data[0:3+dlen], StartSlave)
	if computed != received {
		return nil, parseErrorf(raw, "invalid checksum computed=%02x received=%02x", computed, received)
	}
	cmd, err := decodeCommand(data[1], payload)
	if err != nil {
		return nil, err
	}
	return MessageSlave{Command: cmd}, nil
}
