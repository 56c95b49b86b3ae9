package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(ChannelShell, TypeExecuteRequest, "sess-1", map[string]string{"code": "1"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Header.MsgType != TypeExecuteRequest {
		t.Errorf("expected type %s, got %s", TypeExecuteRequest, msg.Header.MsgType)
	}
	if msg.Header.MsgID == "" {
		t.Error("expected non-empty msg_id")
	}
	if msg.Header.Session != "sess-1" {
		t.Errorf("expected session sess-1, got %s", msg.Header.Session)
	}
	if msg.Header.Version != Version {
		t.Errorf("expected version %s, got %s", Version, msg.Header.Version)
	}
	if msg.Channel != ChannelShell {
		t.Errorf("expected channel shell, got %s", msg.Channel)
	}
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	a, _ := NewMessage(ChannelShell, TypeExecuteRequest, "s", struct{}{})
	b, _ := NewMessage(ChannelShell, TypeExecuteRequest, "s", struct{}{})
	if a.Header.MsgID == b.Header.MsgID {
		t.Error("expected distinct msg_ids")
	}
}

func TestNewExecuteRequest(t *testing.T) {
	msg, err := NewExecuteRequest("s", "print(1)\n")
	if err != nil {
		t.Fatalf("NewExecuteRequest failed: %v", err)
	}

	var c ExecuteRequestContent
	if err := json.Unmarshal(msg.Content, &c); err != nil {
		t.Fatalf("unmarshal content: %v", err)
	}
	if c.Code != "print(1)\n" {
		t.Errorf("expected code to round-trip, got %q", c.Code)
	}
	if c.AllowStdin {
		t.Error("expected allow_stdin false")
	}

	// Jupyter rejects a null user_expressions.
	data, _ := json.Marshal(msg)
	var raw map[string]map[string]any
	json.Unmarshal(data, &raw)
	if raw["content"]["user_expressions"] == nil {
		t.Error("expected user_expressions to be an object")
	}
}

func TestValidateKernelMessage_Valid(t *testing.T) {
	data := []byte(`{
		"header": {"msg_id": "m2", "msg_type": "stream"},
		"parent_header": {"msg_id": "m1", "msg_type": "execute_request"},
		"metadata": {},
		"content": {"name": "stdout", "text": "hi"},
		"channel": "iopub"
	}`)

	msg, err := ValidateKernelMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
	if msg.ParentID() != "m1" {
		t.Errorf("expected parent m1, got %s", msg.ParentID())
	}
}

func TestValidateKernelMessage_EmptyParentHeader(t *testing.T) {
	data := []byte(`{"header": {"msg_type": "status"}, "parent_header": {}, "content": {"execution_state": "starting"}, "channel": "iopub"}`)

	msg, err := ValidateKernelMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
	if msg.ParentID() != "" {
		t.Errorf("expected empty parent id, got %s", msg.ParentID())
	}
}

func TestValidateKernelMessage_InvalidJSON(t *testing.T) {
	_, err := ValidateKernelMessage([]byte("not json"))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateKernelMessage_MissingType(t *testing.T) {
	_, err := ValidateKernelMessage([]byte(`{"header": {}, "channel": "iopub"}`))
	if err == nil {
		t.Fatal("expected error for missing msg_type")
	}
}

func TestValidateKernelMessage_MissingChannel(t *testing.T) {
	_, err := ValidateKernelMessage([]byte(`{"header": {"msg_type": "status"}}`))
	if err == nil {
		t.Fatal("expected error for missing channel")
	}
}

func TestValidateKernelMessage_UnknownChannel(t *testing.T) {
	_, err := ValidateKernelMessage([]byte(`{"header": {"msg_type": "status"}, "channel": "heartbeat"}`))
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}
}
