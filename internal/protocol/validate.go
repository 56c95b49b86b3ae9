package protocol

import (
	"encoding/json"
	"fmt"
)

// validChannels is the set of channels a kernel may send on.
var validChannels = map[string]bool{
	ChannelShell:   true,
	ChannelIOPub:   true,
	ChannelStdin:   true,
	ChannelControl: true,
}

// ValidateKernelMessage parses a raw websocket frame from the kernel.
// Unknown message types are accepted; the envelope must be well formed.
func ValidateKernelMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Header.MsgType == "" {
		return nil, fmt.Errorf("missing 'header.msg_type' field")
	}

	if msg.Channel == "" {
		return nil, fmt.Errorf("missing 'channel' field")
	}

	if !validChannels[msg.Channel] {
		return nil, fmt.Errorf("unknown channel: %s", msg.Channel)
	}

	return &msg, nil
}

// ParentID returns the msg_id of the request this message answers.
func (m *Message) ParentID() string {
	return m.ParentHeader.MsgID
}
