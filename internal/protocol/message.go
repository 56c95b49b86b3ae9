// Package protocol implements the Jupyter messaging envelope spoken over a
// kernel's websocket channels, and decodes iopub traffic into typed events.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version is the Jupyter messaging protocol version sent in headers.
const Version = "5.3"

// Channels multiplexed over a kernel websocket.
const (
	ChannelShell   = "shell"
	ChannelIOPub   = "iopub"
	ChannelStdin   = "stdin"
	ChannelControl = "control"
)

// Shell message types.
const (
	TypeExecuteRequest = "execute_request"
	TypeExecuteReply   = "execute_reply"
)

// IOPub message types.
const (
	TypeStream        = "stream"
	TypeExecuteResult = "execute_result"
	TypeError         = "error"
	TypeStatus        = "status"
	TypeExecuteInput  = "execute_input"
	TypeDisplayData   = "display_data"
)

// Header identifies a message. Jupyter sends an empty object as the parent
// header of unsolicited messages, which decodes to the zero Header.
type Header struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Date     string `json:"date"`
	Version  string `json:"version"`
}

// Message is the envelope for all kernel websocket messages.
type Message struct {
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel"`
	Buffers      []any           `json:"buffers"`
}

// NewMessage creates a client-originated message with a fresh msg_id.
func NewMessage(channel, msgType, session string, content interface{}) (*Message, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	return &Message{
		Header: Header{
			MsgID:    uuid.New().String(),
			MsgType:  msgType,
			Session:  session,
			Username: "cellrun",
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			Version:  Version,
		},
		Metadata: map[string]any{},
		Content:  data,
		Channel:  channel,
		Buffers:  []any{},
	}, nil
}

// ExecuteRequestContent is the content of an execute_request.
type ExecuteRequestContent struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// NewExecuteRequest builds a shell execute_request for code.
func NewExecuteRequest(session, code string) (*Message, error) {
	return NewMessage(ChannelShell, TypeExecuteRequest, session, ExecuteRequestContent{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		StopOnError:     true,
	})
}

// ExecuteReply is the shell reply to an execute_request.
type ExecuteReply struct {
	Status         string `json:"status"` // "ok" | "error" | "aborted"
	ExecutionCount int    `json:"execution_count"`
	EName          string `json:"ename,omitempty"`
	EValue         string `json:"evalue,omitempty"`
}
