package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"cellrun/internal/host"
)

// Message is the envelope for all plugin websocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → plugin message types.
const (
	TypeCommandRegister = "command.register"
	TypeRPCCall         = "rpc.call"
	TypeError           = "error"
)

// Plugin → server message types.
const (
	TypeCommandInvoke = "command.invoke"
	TypeRPCResult     = "rpc.result"
)

// Host API methods carried by rpc.call.
const (
	MethodGetCurrentBlock  = "editor.getCurrentBlock"
	MethodGetBlockProperty = "editor.getBlockProperty"
	MethodInsertBlock      = "editor.insertBlock"
	MethodUpdateBlock      = "editor.updateBlock"
	MethodExitEditingMode  = "editor.exitEditingMode"
	MethodShowMsg          = "app.showMsg"
)

// Error codes.
const (
	ErrInvalidMessage    = "INVALID_MESSAGE"
	ErrUnknownCommand    = "UNKNOWN_COMMAND"
	ErrRegistrationFails = "REGISTRATION_FAILED"
)

// Server → plugin payloads.

// CommandRegisterPayload announces a command. Kind is "slash" or "palette".
type CommandRegisterPayload struct {
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Label      string `json:"label,omitempty"`
	Keybinding string `json:"keybinding,omitempty"`
}

type RPCCallPayload struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Plugin → server payloads.

type CommandInvokePayload struct {
	Name string `json:"name"`
}

// RPCResultPayload answers an rpc.call. A non-empty Error fails the call.
type RPCResultPayload struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// rpc.call params.

type BlockPropertyParams struct {
	BlockID string `json:"blockId"`
	Key     string `json:"key"`
}

type InsertBlockParams struct {
	Ref       string         `json:"ref"`
	Content   string         `json:"content"`
	Placement host.Placement `json:"placement"`
}

type UpdateBlockParams struct {
	BlockID string `json:"blockId"`
	Content string `json:"content"`
}

type ExitEditingParams struct {
	BlockID string `json:"blockId"`
}

// ShowMsgParams mirrors app.showMsg. TimeoutMS of 0 uses the host default.
type ShowMsgParams struct {
	Message   string        `json:"message"`
	Status    host.Severity `json:"status"`
	TimeoutMS int64         `json:"timeout,omitempty"`
}

// InsertBlockResult is the result of editor.insertBlock.
type InsertBlockResult struct {
	UUID string `json:"uuid"`
}
