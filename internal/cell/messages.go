package cell

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

var (
	// ErrNoMessages is returned when the messages cell is absent.
	ErrNoMessages = errors.New("messages cell is empty")
	// ErrInvalidMessage is returned when a decoded entry is not an object.
	ErrInvalidMessage = errors.New("invalid message entry")
)

// DecodeMessages reads a pre-built message list out of a cell. Text that does
// not parse as JSON becomes a single user message. The returned list is not
// validated for completeness; see the classify package.
func DecodeMessages(v Value) ([]types.Message, error) {
	switch v.kind {
	case KindEmpty:
		return nil, ErrNoMessages
	case KindText:
		var decoded any
		if err := json.Unmarshal([]byte(v.text), &decoded); err != nil {
			return []types.Message{types.UserMessage(v.text)}, nil
		}
		return fromDecoded(decoded, v.text, true)
	case KindList:
		return fromDecoded(v.items, "", true)
	case KindObject:
		return fromDecoded(v.object, "", true)
	default:
		return []types.Message{types.UserMessage(ExtractText(v))}, nil
	}
}

func fromDecoded(decoded any, raw string, allowSpans bool) ([]types.Message, error) {
	switch d := decoded.(type) {
	case []any:
		if allowSpans && isSpanList(d) {
			flat := joinSpanText(d)
			var again any
			if err := json.Unmarshal([]byte(flat), &again); err != nil {
				return []types.Message{types.UserMessage(flat)}, nil
			}
			switch again.(type) {
			case []any, map[string]any:
				return fromDecoded(again, flat, false)
			default:
				return []types.Message{types.UserMessage(flat)}, nil
			}
		}
		out := make([]types.Message, 0, len(d))
		for i, item := range d {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: entry %d is %T", ErrInvalidMessage, i, item)
			}
			out = append(out, messageFromMap(m))
		}
		return out, nil
	case map[string]any:
		return []types.Message{messageFromMap(d)}, nil
	default:
		if raw == "" {
			raw = fmt.Sprint(d)
		}
		return []types.Message{types.UserMessage(raw)}, nil
	}
}

// isSpanList reports whether every element looks like a rich-text span rather
// than a chat message.
func isSpanList(items []any) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := m["text"]; !ok {
			return false
		}
		if _, ok := m["role"]; ok {
			return false
		}
		if _, ok := m["content"]; ok {
			return false
		}
	}
	return true
}

func messageFromMap(m map[string]any) types.Message {
	role, _ := m["role"].(string)
	var content string
	switch c := m["content"].(type) {
	case nil:
	case string:
		content = c
	default:
		content = ExtractText(FromAny(c))
	}
	return types.Message{Role: strings.TrimSpace(role), Content: content}
}
