package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pulse/messaging-app/internal/chat"
)

func TestParseClientMessage(t *testing.T) {
	data := []byte(`{"type":"message","conversation_id":10,"message":{"type":"text","content":"hello"}}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msgType != TypeMessage {
		t.Errorf("type = %q, want %q", msgType, TypeMessage)
	}

	m, ok := msg.(SubmitMsg)
	if !ok {
		t.Fatalf("decoded into %T, want SubmitMsg", msg)
	}
	if m.ConversationID != 10 {
		t.Errorf("conversation_id = %d, want 10", m.ConversationID)
	}
	if m.Message.Type != "text" || m.Message.Content != "hello" {
		t.Errorf("message = %+v", m.Message)
	}
}

func TestParseClientMessageMedia(t *testing.T) {
	data := []byte(`{"type":"message","conversation_id":3,"message":{"type":"image","content":"caption","media_key":"uploads/a.jpg"}}`)

	_, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m := msg.(SubmitMsg)
	if m.Message.MediaKey != "uploads/a.jpg" {
		t.Errorf("media_key = %q", m.Message.MediaKey)
	}
}

func TestParseClientMessageTyping(t *testing.T) {
	data := []byte(`{"type":"typing","conversation_id":10,"is_typing":true}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msgType != TypeTyping {
		t.Errorf("type = %q, want %q", msgType, TypeTyping)
	}
	m := msg.(TypingMsg)
	if !m.IsTyping || m.ConversationID != 10 {
		t.Errorf("typing = %+v", m)
	}
}

func TestParseClientMessageMarkAsRead(t *testing.T) {
	data := []byte(`{"type":"mark_as_read","conversation_id":10,"message_id":42}`)

	_, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m := msg.(MarkAsReadMsg)
	if m.MessageID != 42 {
		t.Errorf("message_id = %d, want 42", m.MessageID)
	}
}

func TestParseClientMessageErrors(t *testing.T) {
	cases := []struct {
		name        string
		data        string
		unknownType bool
	}{
		{"not json", `{{{`, false},
		{"missing type", `{"conversation_id":1}`, false},
		{"empty type", `{"type":""}`, false},
		{"unknown type", `{"type":"subscribe"}`, true},
		{"server only type", `{"type":"new_message"}`, true},
		{"payload mismatch", `{"type":"mark_as_read","message_id":"not-a-number"}`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseClientMessage([]byte(tc.data))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.Is(err, ErrUnknownType); got != tc.unknownType {
				t.Errorf("errors.Is(err, ErrUnknownType) = %v, want %v (err = %v)", got, tc.unknownType, err)
			}
		})
	}
}

func TestNewServerMessageInjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeNewMessage, NewMessageMsg{
		ConversationID: 10,
		Message: &chat.Message{
			ID:       7,
			SenderID: 1,
			Type:     chat.TypeText,
			Content:  "hi",
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["type"] != TypeNewMessage {
		t.Errorf("type = %v, want %q", m["type"], TypeNewMessage)
	}
	if m["conversation_id"] != float64(10) {
		t.Errorf("conversation_id = %v, want 10", m["conversation_id"])
	}
	if _, ok := m["message"]; !ok {
		t.Error("message payload missing")
	}
}

func TestEnvelopePreservesRaw(t *testing.T) {
	data := []byte(`{"type":"typing","conversation_id":5,"is_typing":false}`)

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "typing" {
		t.Errorf("type = %q", env.Type)
	}

	var m TypingMsg
	if err := json.Unmarshal(env.Raw, &m); err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	if m.ConversationID != 5 {
		t.Errorf("conversation_id = %d, want 5", m.ConversationID)
	}
}
