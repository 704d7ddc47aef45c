package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
)

// shape classifies a raw JSON value by its first significant byte.
type shape int

const (
	shapeNone shape = iota // empty or null
	shapeString
	shapeObject
	shapeArray
	shapeOther
)

func shapeOf(raw json.RawMessage) shape {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return shapeNone
	}
	switch b[0] {
	case '"':
		return shapeString
	case '{':
		return shapeObject
	case '[':
		return shapeArray
	default:
		return shapeOther
	}
}

// DecodeName extracts a username from a bare string or a {name} object.
// Surrounding whitespace is trimmed; an empty result is not usable.
func DecodeName(raw json.RawMessage) (string, bool) {
	var name string
	switch shapeOf(raw) {
	case shapeString:
		if err := json.Unmarshal(raw, &name); err != nil {
			return "", false
		}
	case shapeObject:
		var p NamePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", false
		}
		name = p.Name
	default:
		return "", false
	}
	name = strings.TrimSpace(name)
	return name, name != ""
}

// DecodeUsers normalizes a presence snapshot. A list may mix bare names and
// {name} objects; a single name or object is treated as a one-element list.
// skipped counts list elements that carried no usable name. ok is false only
// when the payload carries no list at all (missing, null, or a scalar), which
// callers must keep distinct from a known empty room.
func DecodeUsers(raw json.RawMessage) (names []string, skipped int, ok bool) {
	switch shapeOf(raw) {
	case shapeArray:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, 0, false
		}
		names = make([]string, 0, len(items))
		for _, item := range items {
			if name, ok := DecodeName(item); ok {
				names = append(names, name)
			} else {
				skipped++
			}
		}
		return names, skipped, true
	case shapeString, shapeObject:
		name, ok := DecodeName(raw)
		if !ok {
			return nil, 0, false
		}
		return []string{name}, 0, true
	default:
		return nil, 0, false
	}
}

// DecodeMessage normalizes a single chat message. A bare string is accepted
// as a body without an author.
func DecodeMessage(raw json.RawMessage) (ChatMessage, bool) {
	switch shapeOf(raw) {
	case shapeObject:
		var m ChatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return ChatMessage{}, false
		}
		return m, true
	case shapeString:
		var body string
		if err := json.Unmarshal(raw, &body); err != nil {
			return ChatMessage{}, false
		}
		return ChatMessage{Message: body}, true
	default:
		return ChatMessage{}, false
	}
}

// DecodeMessages normalizes a history payload. A single message is treated
// as a one-element history. skipped counts list elements that were not
// messages.
func DecodeMessages(raw json.RawMessage) (msgs []ChatMessage, skipped int, ok bool) {
	switch shapeOf(raw) {
	case shapeArray:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, 0, false
		}
		msgs = make([]ChatMessage, 0, len(items))
		for _, item := range items {
			if m, ok := DecodeMessage(item); ok {
				msgs = append(msgs, m)
			} else {
				skipped++
			}
		}
		return msgs, skipped, true
	case shapeObject, shapeString:
		m, ok := DecodeMessage(raw)
		if !ok {
			return nil, 0, false
		}
		return []ChatMessage{m}, 0, true
	default:
		return nil, 0, false
	}
}

// DecodeTyping normalizes a typing notification. The name is required; a
// missing isTyping reads as stopped.
func DecodeTyping(raw json.RawMessage) (TypingPayload, bool) {
	if shapeOf(raw) != shapeObject {
		return TypingPayload{}, false
	}
	var p TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return TypingPayload{}, false
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return TypingPayload{}, false
	}
	return p, true
}
