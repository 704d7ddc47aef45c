package render

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/cortexuvula/roomchat/internal/session"
)

var (
	// Names are plain text.
	namePolicy = bluemonday.StrictPolicy()

	// Message bodies may carry basic formatting and links.
	bodyPolicy = bluemonday.UGCPolicy().
			AllowURLSchemes("http", "https", "mailto").
			RequireNoFollowOnLinks(true)
)

// SanitizeName strips all markup from a username.
func SanitizeName(name string) string {
	return strings.TrimSpace(namePolicy.Sanitize(name))
}

// SanitizeBody keeps safe formatting in a message body.
func SanitizeBody(body string) string {
	return strings.TrimSpace(bodyPolicy.Sanitize(body))
}

type htmlEntry struct {
	ID     string
	Class  string
	Author string
	Body   template.HTML
	Image  string
	Time   string
}

type htmlPage struct {
	Identity string
	Status   string
	Users    []string
	Entries  []htmlEntry
	Typing   string
}

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>roomchat transcript</title>
</head>
<body>
<header><span class="status">{{.Status}}</span>{{if .Identity}} <span class="identity">{{.Identity}}</span>{{end}}</header>
<ul class="users">{{range .Users}}<li>{{.}}</li>{{end}}</ul>
<div class="messages">
{{- range .Entries}}
<div class="{{.Class}}" id="{{.ID}}">
{{- if eq .Class "system-message"}}{{.Body}}{{else}}
<div class="message-header">{{.Author}}</div>
<div class="message-body">{{if .Image}}<img src="{{.Image}}" alt="">{{else}}{{.Body}}{{end}}</div>
<div class="message-time">{{.Time}}</div>
{{- end}}
</div>
{{- end}}
</div>
{{if .Typing}}<div class="typing-indicator">{{.Typing}}</div>{{end}}
</body>
</html>
`))

// HTML renders the view as a standalone transcript page. Message bodies are
// sanitized; everything else is escaped.
func HTML(v session.View) (string, error) {
	page := htmlPage{
		Identity: SanitizeName(v.Identity),
		Status:   v.Status.String(),
		Typing:   v.Typing,
	}
	for _, u := range PresenceLines(v.Presence) {
		page.Users = append(page.Users, SanitizeName(u))
	}
	for _, e := range v.Entries {
		he := htmlEntry{ID: e.ID, Time: e.At.Format(timeLayout)}
		switch {
		case e.Notice:
			he.Class = "system-message"
			he.Body = template.HTML(template.HTMLEscapeString(e.Body))
		default:
			he.Class = "message other"
			if e.Self {
				he.Class = "message self"
			}
			he.Author = SanitizeName(e.Author)
			if IsImageURL(e.Body) {
				he.Image = strings.TrimSpace(e.Body)
			} else {
				he.Body = template.HTML(SanitizeBody(e.Body))
			}
		}
		page.Entries = append(page.Entries, he)
	}

	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, page); err != nil {
		return "", err
	}
	return buf.String(), nil
}
