// Package protocol encodes and decodes the JSON frames exchanged with the
// Max WebSocket API.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version sent in every frame.
const Version = 11

// Opcode selects the operation a frame carries.
type Opcode int

const (
	OpPing         Opcode = 1
	OpHello        Opcode = 6
	OpStartAuth    Opcode = 17
	OpCheckCode    Opcode = 18
	OpLogin        Opcode = 19
	OpLogout       Opcode = 20
	OpSettings     Opcode = 22
	OpContacts     Opcode = 32
	OpContactPhone Opcode = 46
	OpSendMessage  Opcode = 64
	OpDeleteMsg    Opcode = 66
	OpEditMsg      Opcode = 67
	OpMessagePush  Opcode = 128
)

func (o Opcode) String() string {
	switch o {
	case OpPing:
		return "ping"
	case OpHello:
		return "hello"
	case OpStartAuth:
		return "start_auth"
	case OpCheckCode:
		return "check_code"
	case OpLogin:
		return "login"
	case OpLogout:
		return "logout"
	case OpSettings:
		return "settings"
	case OpContacts:
		return "contacts"
	case OpContactPhone:
		return "contact_by_phone"
	case OpSendMessage:
		return "send_message"
	case OpDeleteMsg:
		return "delete_message"
	case OpEditMsg:
		return "edit_message"
	case OpMessagePush:
		return "message_push"
	default:
		return fmt.Sprintf("opcode(%d)", int(o))
	}
}

// Cmd distinguishes requests and pushes from responses.
type Cmd int

const (
	CmdRequest Cmd = 0
	CmdOK      Cmd = 1
	CmdError   Cmd = 3
)

// Frame is one unit on the wire.
type Frame struct {
	Ver     int             `json:"ver"`
	Cmd     Cmd             `json:"cmd"`
	Seq     int64           `json:"seq"`
	Opcode  Opcode          `json:"opcode"`
	Payload json.RawMessage `json:"payload"`
}

// IsResponse reports whether the frame answers a request we sent.
func (f *Frame) IsResponse() bool {
	return f.Cmd != CmdRequest
}

// NewFrame builds a request frame with payload marshaled to JSON.
func NewFrame(seq int64, op Opcode, payload any) (*Frame, error) {
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", op, err)
	}
	return &Frame{Ver: Version, Cmd: CmdRequest, Seq: seq, Opcode: op, Payload: raw}, nil
}

// Encode marshals a frame for the wire.
func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses one frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

// Unmarshal decodes a frame payload into v.
func (f *Frame) Unmarshal(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has empty payload", f.Opcode)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Opcode, err)
	}
	return nil
}
