// Package cell normalizes the values a host table stores in a cell.
//
// Hosts hand raw decoded JSON to FromAny; every other package works with the
// Value type and the functions in this package, never with the payload.
package cell

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Kind int

const (
	KindEmpty Kind = iota
	KindText
	KindList
	KindObject
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindText:
		return "text"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "other"
	}
}

// Value is a tagged union over the representations a cell can hold.
type Value struct {
	kind   Kind
	text   string
	items  []any
	object map[string]any
	other  any
}

func Empty() Value { return Value{} }

func Text(s string) Value { return Value{kind: KindText, text: s} }

func List(items []any) Value {
	if items == nil {
		items = []any{}
	}
	return Value{kind: KindList, items: items}
}

func Object(obj map[string]any) Value {
	if obj == nil {
		return Empty()
	}
	return Value{kind: KindObject, object: obj}
}

// FromAny wraps a value decoded by encoding/json (or built in the same shape).
func FromAny(v any) Value {
	switch vv := v.(type) {
	case nil:
		return Empty()
	case Value:
		return vv
	case string:
		return Text(vv)
	case []any:
		return List(vv)
	case []map[string]any:
		items := make([]any, len(vv))
		for i, m := range vv {
			items[i] = m
		}
		return List(items)
	case map[string]any:
		return Object(vv)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(vv, &decoded); err != nil {
			return Text(string(vv))
		}
		return FromAny(decoded)
	default:
		return Value{kind: KindOther, other: vv}
	}
}

func (v Value) Kind() Kind { return v.kind }

// IsBlank reports whether a result field may be written: the cell is absent,
// holds text that trims to empty, or holds false or zero.
func IsBlank(v Value) bool {
	switch v.kind {
	case KindEmpty:
		return true
	case KindText:
		return strings.TrimSpace(v.text) == ""
	case KindOther:
		return falsy(v.other)
	default:
		return false
	}
}

// MarshalJSON lets a Value be persisted by hosts that keep records on disk.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindEmpty:
		return []byte("null"), nil
	case KindText:
		return json.Marshal(v.text)
	case KindList:
		return json.Marshal(v.items)
	case KindObject:
		return json.Marshal(v.object)
	default:
		return json.Marshal(v.other)
	}
}

func (v *Value) UnmarshalJSON(raw []byte) error {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode cell: %w", err)
	}
	*v = FromAny(decoded)
	return nil
}
