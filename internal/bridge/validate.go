package bridge

import (
	"encoding/json"
	"fmt"
)

// validPluginTypes is the set of allowed plugin→server message types.
var validPluginTypes = map[string]bool{
	TypeCommandInvoke: true,
	TypeRPCResult:     true,
}

// ValidatePluginMessage validates a raw JSON message from the plugin.
// Returns the parsed Message and any validation error.
func ValidatePluginMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validPluginTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	switch msg.Type {
	case TypeCommandInvoke:
		var p CommandInvokePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("missing required field 'name' in %s payload", msg.Type)
		}

	case TypeRPCResult:
		var p RPCResultPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.ID == "" {
			return nil, fmt.Errorf("missing required field 'id' in %s payload", msg.Type)
		}
	}

	return &msg, nil
}
