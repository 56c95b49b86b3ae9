package protocol

import (
	"encoding/json"
	"fmt"
)

// Event is a decoded iopub message. The set of implementations is closed:
// Stream, ExecuteResult, Error, Status and Other.
type Event interface {
	Kind() string
	event()
}

// Stream is an incremental chunk of stdout or stderr.
type Stream struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// ExecuteResult carries the value of the cell's final expression.
type ExecuteResult struct {
	ExecutionCount int            `json:"execution_count"`
	Data           map[string]any `json:"data"`
}

// Error is an exception raised by the executed code.
type Error struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// Status is a kernel busy/idle lifecycle notice.
type Status struct {
	ExecutionState string `json:"execution_state"`
}

// Other is any message kind cellrun does not interpret.
type Other struct {
	MsgType string
}

func (Stream) Kind() string        { return TypeStream }
func (ExecuteResult) Kind() string { return TypeExecuteResult }
func (Error) Kind() string         { return TypeError }
func (Status) Kind() string        { return TypeStatus }
func (o Other) Kind() string       { return o.MsgType }

func (Stream) event()        {}
func (ExecuteResult) event() {}
func (Error) event()         {}
func (Status) event()        {}
func (Other) event()         {}

// Text returns the text/plain representation of the result, or "".
func (r ExecuteResult) Text() string {
	if s, ok := r.Data["text/plain"].(string); ok {
		return s
	}
	return ""
}

// Decode converts a message into its typed event.
func Decode(msg *Message) (Event, error) {
	switch msg.Header.MsgType {
	case TypeStream:
		var e Stream
		if err := json.Unmarshal(msg.Content, &e); err != nil {
			return nil, fmt.Errorf("invalid content for %s: %w", msg.Header.MsgType, err)
		}
		return e, nil

	case TypeExecuteResult:
		var e ExecuteResult
		if err := json.Unmarshal(msg.Content, &e); err != nil {
			return nil, fmt.Errorf("invalid content for %s: %w", msg.Header.MsgType, err)
		}
		return e, nil

	case TypeError:
		var e Error
		if err := json.Unmarshal(msg.Content, &e); err != nil {
			return nil, fmt.Errorf("invalid content for %s: %w", msg.Header.MsgType, err)
		}
		return e, nil

	case TypeStatus:
		var e Status
		if err := json.Unmarshal(msg.Content, &e); err != nil {
			return nil, fmt.Errorf("invalid content for %s: %w", msg.Header.MsgType, err)
		}
		return e, nil
	}

	return Other{MsgType: msg.Header.MsgType}, nil
}
