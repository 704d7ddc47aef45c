// Package render turns a session.View into terminal text or an HTML
// transcript. It keeps no state.
package render

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/cortexuvula/roomchat/internal/presence"
	"github.com/cortexuvula/roomchat/internal/session"
)

const timeLayout = "15:04:05"

// Presence placeholders.
const (
	NoUsersOnline      = "No users online"
	NoOtherUsersOnline = "No other users online"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
}

// IsImageURL reports whether body is a single http(s) URL to an image file.
func IsImageURL(body string) bool {
	body = strings.TrimSpace(body)
	if body == "" || strings.ContainsAny(body, " \t\n") {
		return false
	}
	u, err := url.Parse(body)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return imageExtensions[strings.ToLower(path.Ext(u.Path))]
}

// PresenceLines returns one line per user, or a single placeholder.
// An unknown registry and a known empty one get different placeholders.
func PresenceLines(p presence.View) []string {
	if !p.Known {
		return []string{NoUsersOnline}
	}
	if len(p.Users) == 0 {
		return []string{NoOtherUsersOnline}
	}
	return p.Users
}

// EntryLine formats one transcript row for a terminal.
func EntryLine(e session.Entry) string {
	ts := e.At.Format(timeLayout)
	if e.Notice {
		return fmt.Sprintf("[%s] * %s", ts, e.Body)
	}
	body := e.Body
	if IsImageURL(body) {
		body = "[image] " + body
	}
	author := e.Author
	if author == "" {
		author = "?"
	}
	if e.Self {
		author += " (you)"
	}
	return fmt.Sprintf("[%s] %s: %s", ts, author, body)
}

// Text writes the whole view: status, users, transcript and typing line.
func Text(w io.Writer, v session.View) error {
	var b strings.Builder
	fmt.Fprintf(&b, "== roomchat (%s)", v.Status)
	if v.InRoom {
		fmt.Fprintf(&b, " as %s", v.Identity)
	}
	b.WriteString(" ==\n")
	fmt.Fprintf(&b, "Online: %s\n", strings.Join(PresenceLines(v.Presence), ", "))
	for _, e := range v.Entries {
		b.WriteString(EntryLine(e))
		b.WriteByte('\n')
	}
	if v.Typing != "" {
		b.WriteString(v.Typing)
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}
