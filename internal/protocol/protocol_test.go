package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestEncodeDecodeEnvelope(t *testing.T) {
	frame, err := Encode(EventCreateMessage, CreateMessagePayload{Message: "hi", Name: "alice"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	want := `{"event":"createMessage","data":{"message":"hi","name":"alice"}}`
	if string(frame) != want {
		t.Errorf("Encode() = %s, want %s", frame, want)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if env.Event != EventCreateMessage {
		t.Errorf("event = %q, want %q", env.Event, EventCreateMessage)
	}
}

func TestEncodeWithoutPayload(t *testing.T) {
	frame, err := Encode(EventFindAllMessages, nil)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if string(frame) != `{"event":"findAllMessages"}` {
		t.Errorf("Encode() = %s", frame)
	}
}

func TestEncodeTypingFieldName(t *testing.T) {
	frame, err := Encode(EventTyping, TypingPayload{IsTyping: true, Name: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"event":"typing","data":{"isTyping":true,"name":"bob"}}`
	if string(frame) != want {
		t.Errorf("Encode() = %s, want %s", frame, want)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `hello`},
		{"missing event", `{"data":[]}`},
		{"empty event", `{"event":"","data":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.frame)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestIsLifecycle(t *testing.T) {
	for _, name := range []string{EventConnect, EventDisconnect, EventConnectError, EventReconnectAttempt, EventReconnect, EventReconnectFailed} {
		if !IsLifecycle(name) {
			t.Errorf("IsLifecycle(%q) = false", name)
		}
	}
	for _, name := range []string{EventJoin, EventMessage, EventTyping, "bogus"} {
		if IsLifecycle(name) {
			t.Errorf("IsLifecycle(%q) = true", name)
		}
	}
}

func TestDecodeName(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{`"carol"`, "carol", true},
		{`{"name":"carol"}`, "carol", true},
		{`"  dave "`, "dave", true},
		{`{"name":"  "}`, "", false},
		{`""`, "", false},
		{`null`, "", false},
		{``, "", false},
		{`42`, "", false},
		{`["carol"]`, "", false},
		{`{"nick":"carol"}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := DecodeName(json.RawMessage(tt.raw))
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("DecodeName(%s) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDecodeUsers(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		want        []string
		wantSkipped int
		wantOK      bool
	}{
		{"string list", `["alice","bob"]`, []string{"alice", "bob"}, 0, true},
		{"object list", `[{"name":"alice"},{"name":"bob"}]`, []string{"alice", "bob"}, 0, true},
		{"mixed list", `["alice",{"name":"bob"}]`, []string{"alice", "bob"}, 0, true},
		{"single object", `{"name":"alice"}`, []string{"alice"}, 0, true},
		{"single string", `"alice"`, []string{"alice"}, 0, true},
		{"empty list", `[]`, []string{}, 0, true},
		{"invalid elements skipped", `["alice",null,7,{"x":1},""]`, []string{"alice"}, 4, true},
		{"null", `null`, nil, 0, false},
		{"missing", ``, nil, 0, false},
		{"number", `3`, nil, 0, false},
		{"object without name", `{"count":2}`, nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, skipped, ok := DecodeUsers(json.RawMessage(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("users = %#v, want %#v", got, tt.want)
			}
			if skipped != tt.wantSkipped {
				t.Errorf("skipped = %d, want %d", skipped, tt.wantSkipped)
			}
		})
	}
}

func TestDecodeMessages(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		want        []ChatMessage
		wantSkipped int
		wantOK      bool
	}{
		{
			name:   "history",
			raw:    `[{"name":"alice","message":"hi"},{"name":"bob","message":"yo"}]`,
			want:   []ChatMessage{{Name: "alice", Message: "hi"}, {Name: "bob", Message: "yo"}},
			wantOK: true,
		},
		{
			name:   "single object coerced",
			raw:    `{"name":"alice","message":"hi"}`,
			want:   []ChatMessage{{Name: "alice", Message: "hi"}},
			wantOK: true,
		},
		{
			name:   "empty history",
			raw:    `[]`,
			want:   []ChatMessage{},
			wantOK: true,
		},
		{
			name:        "bad element skipped",
			raw:         `[{"name":"alice","message":"hi"},12]`,
			want:        []ChatMessage{{Name: "alice", Message: "hi"}},
			wantSkipped: 1,
			wantOK:      true,
		},
		{name: "null", raw: `null`, wantOK: false},
		{name: "bool", raw: `true`, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, skipped, ok := DecodeMessages(json.RawMessage(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("messages = %#v, want %#v", got, tt.want)
			}
			if skipped != tt.wantSkipped {
				t.Errorf("skipped = %d, want %d", skipped, tt.wantSkipped)
			}
		})
	}
}

func TestDecodeMessageBareString(t *testing.T) {
	m, ok := DecodeMessage(json.RawMessage(`"hello"`))
	if !ok {
		t.Fatal("expected ok")
	}
	if m.Message != "hello" || m.Name != "" {
		t.Errorf("DecodeMessage = %+v", m)
	}
}

func TestDecodeTyping(t *testing.T) {
	tests := []struct {
		raw    string
		want   TypingPayload
		wantOK bool
	}{
		{`{"name":"bob","isTyping":true}`, TypingPayload{IsTyping: true, Name: "bob"}, true},
		{`{"name":"bob","isTyping":false}`, TypingPayload{Name: "bob"}, true},
		{`{"name":"bob"}`, TypingPayload{Name: "bob"}, true},
		{`{"isTyping":true}`, TypingPayload{}, false},
		{`"bob"`, TypingPayload{}, false},
		{`null`, TypingPayload{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := DecodeTyping(json.RawMessage(tt.raw))
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("DecodeTyping(%s) = (%+v, %v), want (%+v, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
