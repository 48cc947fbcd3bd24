package nibe

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Command codes on the wire. The set is closed: unlisted codes decode to
// CommandUnknown instead of failing.
const (
	CodeResponseRmu     byte = 0x62
	CodeResponseData    byte = 0x68
	CodeRequestRead     byte = 0x69
	CodeResponseRead    byte = 0x6A
	CodeRequestWrite    byte = 0x6B
	CodeResponseWrite   byte = 0x6C
	CodeResponseProduct byte = 0x6D
)

// RegisterSentinel pads unused groups in bulk data frames.
const RegisterSentinel uint16 = 0xFFFF

// Command is one protocol operation carried inside a frame.
// Payload returns the wire encoding of the variant-specific fields,
// all multi-byte integers little-endian.
type Command interface {
	Code() byte
	Payload() []byte
}

// RequestRead asks the master for the value of one register.
type RequestRead struct{ Register uint16 }

func (RequestRead) Code() byte { return CodeRequestRead }
func (self RequestRead) Payload() []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, self.Register)
	return b
}
func (self RequestRead) String() string { return fmt.Sprintf("RequestRead(%d)", self.Register) }

// RequestReadNull is the zero-payload read request form observed on the
// wire, the master's token frame. Decodes without error.
type RequestReadNull struct{}

func (RequestReadNull) Code() byte      { return CodeRequestRead }
func (RequestReadNull) Payload() []byte { return nil }
func (RequestReadNull) String() string  { return "RequestReadNull" }

// RequestWrite asks the master to store value into register.
type RequestWrite struct {
	Register uint16
	Value    uint32
}

func (RequestWrite) Code() byte { return CodeRequestWrite }
func (self RequestWrite) Payload() []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint16(b[0:2], self.Register)
	binary.LittleEndian.PutUint32(b[2:6], self.Value)
	return b
}
func (self RequestWrite) String() string {
	return fmt.Sprintf("RequestWrite(%d=%d)", self.Register, self.Value)
}

// RequestWriteNull is the zero-payload write request form.
type RequestWriteNull struct{}

func (RequestWriteNull) Code() byte      { return CodeRequestWrite }
func (RequestWriteNull) Payload() []byte { return nil }
func (RequestWriteNull) String() string  { return "RequestWriteNull" }

// ResponseRead carries one register value from the master.
type ResponseRead struct {
	Register uint16
	Value    uint32
}

func (ResponseRead) Code() byte { return CodeResponseRead }
func (self ResponseRead) Payload() []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint16(b[0:2], self.Register)
	binary.LittleEndian.PutUint32(b[2:6], self.Value)
	return b
}
func (self ResponseRead) String() string {
	return fmt.Sprintf("ResponseRead(%d=%d)", self.Register, self.Value)
}

// ResponseWrite acknowledges a write to register.
type ResponseWrite struct{ Register uint16 }

func (ResponseWrite) Code() byte { return CodeResponseWrite }
func (self ResponseWrite) Payload() []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, self.Register)
	return b
}
func (self ResponseWrite) String() string { return fmt.Sprintf("ResponseWrite(%d)", self.Register) }

// ResponseData is the periodic telemetry broadcast: many register/value
// pairs in one frame. Values are 16-bit on the wire.
type ResponseData struct{ Parameters map[uint16]uint16 }

func (ResponseData) Code() byte { return CodeResponseData }

// Payload emits groups sorted by register. Wire order carries no meaning,
// sorting just keeps encoding deterministic. The sentinel is never re-emitted.
func (self ResponseData) Payload() []byte {
	regs := make([]uint16, 0, len(self.Parameters))
	for r := range self.Parameters {
		if r == RegisterSentinel {
			continue
		}
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
	b := make([]byte, 0, len(regs)*4)
	var group [4]byte
	for _, r := range regs {
		binary.LittleEndian.PutUint16(group[0:2], r)
		binary.LittleEndian.PutUint16(group[2:4], self.Parameters[r])
		b = append(b, group[:]...)
	}
	return b
}
func (self ResponseData) String() string {
	return fmt.Sprintf("ResponseData(%d registers)", len(self.Parameters))
}

// ResponseRmu is a vendor blob from room unit accessories, kept verbatim.
type ResponseRmu struct{ Data []byte }

func (ResponseRmu) Code() byte           { return CodeResponseRmu }
func (self ResponseRmu) Payload() []byte { return self.Data }
func (self ResponseRmu) String() string  { return fmt.Sprintf("ResponseRmu(%x)", self.Data) }

// ResponseProduct announces the pump model: 3 opaque bytes then an ASCII name.
type ResponseProduct struct {
	Unknown []byte
	Product string
}

func (ResponseProduct) Code() byte { return CodeResponseProduct }
func (self ResponseProduct) Payload() []byte {
	return append(append([]byte(nil), self.Unknown...), self.Product...)
}
func (self ResponseProduct) String() string {
	return fmt.Sprintf("ResponseProduct(%s)", self.Product)
}

// CommandUnknown preserves payloads of codes outside the known set.
type CommandUnknown struct {
	Kind byte
	Data []byte
}

func (self CommandUnknown) Code() byte      { return self.Kind }
func (self CommandUnknown) Payload() []byte { return self.Data }
func (self CommandUnknown) String() string {
	return fmt.Sprintf("CommandUnknown(%02x %x)", self.Kind, self.Data)
}

func decodeCommand(code byte, payload []byte) (Command, error) {
	switch code {
	case CodeRequestRead:
		if len(payload) == 0 {
			return RequestReadNull{}, nil
		}
		if len(payload) != 2 {
			return nil, parseErrorf(payload, "read request payload length=%d expected 2", len(payload))
		}
		return RequestRead{Register: binary.LittleEndian.Uint16(payload)}, nil

	case CodeRequestWrite:
		if len(payload) == 0 {
			return RequestWriteNull{}, nil
		}
		if len(payload) != 6 {
			return nil, parseErrorf(payload, "write request payload length=%d expected 6", len(payload))
		}
		return RequestWrite{
			Register: binary.LittleEndian.Uint16(payload[0:2]),
			Value:    binary.LittleEndian.Uint32(payload[2:6]),
		}, nil

	case CodeResponseRead:
		if len(payload) != 6 {
			return nil, parseErrorf(payload, "read response payload length=%d expected 6", len(payload))
		}
		return ResponseRead{
			Register: binary.LittleEndian.Uint16(payload[0:2]),
			Value:    binary.LittleEndian.Uint32(payload[2:6]),
		}, nil

	case CodeResponseWrite:
		if len(payload) != 2 {
			return nil, parseErrorf(payload, "write response payload length=%d expected 2", len(payload))
		}
		return ResponseWrite{Register: binary.LittleEndian.Uint16(payload)}, nil

	case CodeResponseData:
		if len(payload)%4 != 0 {
			return nil, parseErrorf(payload, "data payload length=%d expected multiple of 4", len(payload))
		}
		params := make(map[uint16]uint16, len(payload)/4)
		for i := 0; i < len(payload); i += 4 {
			register := binary.LittleEndian.Uint16(payload[i : i+2])
			if register == RegisterSentinel {
				continue
			}
			params[register] = binary.LittleEndian.Uint16(payload[i+2 : i+4])
		}
		return ResponseData{Parameters: params}, nil

	case CodeResponseRmu:
		return ResponseRmu{Data: append([]byte(nil), payload...)}, nil

	case CodeResponseProduct:
		// tolerant of short payloads seen from some firmwares
		unknown := payload
		product := ""
		if len(payload) > 3 {
			unknown, product = payload[:3], string(payload[3:])
		}
		return ResponseProduct{
			Unknown: append([]byte(nil), unknown...),
			Product: product,
		}, nil

	default:
		return CommandUnknown{Kind: code, Data: append([]byte(nil), payload...)}, nil
	}
}
