package render

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/cortexuvula/roomchat/internal/lifecycle"
	"github.com/cortexuvula/roomchat/internal/presence"
	"github.com/cortexuvula/roomchat/internal/session"
)

var at = time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC)

func TestIsImageURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://example.com/cat.png", true},
		{"http://example.com/a/b/photo.JPG", true},
		{"https://example.com/pic.webp?size=large", true},
		{"https://example.com/anim.gif", true},
		{"https://example.com/page.html", false},
		{"ftp://example.com/cat.png", false},
		{"/local/cat.png", false},
		{"look at https://example.com/cat.png", false},
		{"", false},
		{"cat.png", false},
	}
	for _, tt := range tests {
		if got := IsImageURL(tt.in); got != tt.want {
			t.Errorf("IsImageURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPresenceLines(t *testing.T) {
	tests := []struct {
		name string
		in   presence.View
		want []string
	}{
		{"unknown", presence.View{}, []string{NoUsersOnline}},
		{"known empty", presence.View{Known: true}, []string{NoOtherUsersOnline}},
		{"users", presence.View{Known: true, Users: []string{"bob", "carol"}}, []string{"bob", "carol"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PresenceLines(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PresenceLines() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntryLine(t *testing.T) {
	tests := []struct {
		name string
		in   session.Entry
		want string
	}{
		{"notice", session.Entry{Notice: true, Body: "carol joined the chat", At: at}, "[09:30:15] * carol joined the chat"},
		{"other", session.Entry{Author: "bob", Body: "hi", At: at}, "[09:30:15] bob: hi"},
		{"self", session.Entry{Author: "alice", Body: "hey", Self: true, At: at}, "[09:30:15] alice (you): hey"},
		{"image", session.Entry{Author: "bob", Body: "https://x.io/a.png", At: at}, "[09:30:15] bob: [image] https://x.io/a.png"},
		{"no author", session.Entry{Body: "orphan", At: at}, "[09:30:15] ?: orphan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EntryLine(tt.in); got != tt.want {
				t.Errorf("EntryLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func sampleView() session.View {
	return session.View{
		Identity: "alice",
		InRoom:   true,
		Status:   lifecycle.Connected,
		Presence: presence.View{Known: true, Users: []string{"bob"}},
		Entries: []session.Entry{
			{ID: "1", Author: "bob", Body: "<b>hi</b><script>alert(1)</script>", At: at},
			{ID: "2", Notice: true, Body: "<carol> joined the chat", At: at},
			{ID: "3", Author: "alice", Body: "https://example.com/cat.png", Self: true, At: at},
		},
		Typing: "bob is typing...",
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	if err := Text(&buf, sampleView()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"== roomchat (connected) as alice ==",
		"Online: bob",
		"[09:30:15] * <carol> joined the chat",
		"alice (you): [image] https://example.com/cat.png",
		"bob is typing...",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHTMLSanitizes(t *testing.T) {
	out, err := HTML(sampleView())
	if err != nil {
		t.Fatalf("HTML() error: %v", err)
	}
	if strings.Contains(out, "<script>") {
		t.Error("script tag survived sanitization")
	}
	if !strings.Contains(out, "<b>hi</b>") {
		t.Error("safe formatting was stripped")
	}
	if !strings.Contains(out, "&lt;carol&gt; joined the chat") {
		t.Error("notice text not escaped")
	}
	if !strings.Contains(out, `<img src="https://example.com/cat.png"`) {
		t.Error("image URL not rendered as img")
	}
	if !strings.Contains(out, `class="message self"`) {
		t.Error("self message not marked")
	}
	if !strings.Contains(out, "bob is typing...") {
		t.Error("typing indicator missing")
	}
}

func TestSanitizeName(t *testing.T) {
	if got := SanitizeName("<i>eve</i>"); got != "eve" {
		t.Errorf("SanitizeName() = %q", got)
	}
}
