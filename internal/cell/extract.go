package cell

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ExtractText flattens a cell into plain text. It never fails: the worst case
// is an empty string or a JSON dump of the value.
func ExtractText(v Value) string {
	switch v.kind {
	case KindEmpty:
		return ""
	case KindText:
		return extractString(v.text)
	case KindList:
		return joinSpanText(v.items)
	case KindObject:
		if s, ok := truthy(v.object["text"]); ok {
			return s
		}
		if s, ok := truthy(v.object["content"]); ok {
			return s
		}
		raw, err := json.Marshal(v.object)
		if err != nil {
			return fmt.Sprint(v.object)
		}
		return string(raw)
	default:
		if falsy(v.other) {
			return ""
		}
		return fmt.Sprint(v.other)
	}
}

func extractString(s string) string {
	if !looksLikeArray(s) {
		return s
	}
	var parsed []any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return s
	}
	if len(parsed) == 0 {
		return s
	}
	first, ok := parsed[0].(map[string]any)
	if !ok {
		return s
	}
	if _, ok := truthy(first["text"]); !ok {
		return s
	}
	return joinSpanText(parsed)
}

func looksLikeArray(s string) bool {
	return strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")
}

// joinSpanText concatenates the text property of every element, in order.
func joinSpanText(items []any) string {
	var b strings.Builder
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := truthy(m["text"]); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}

// falsy reports whether a scalar reads as nothing: false, zero or NaN.
func falsy(v any) bool {
	switch vv := v.(type) {
	case nil:
		return true
	case bool:
		return !vv
	case float64:
		return vv == 0 || math.IsNaN(vv)
	case float32:
		return vv == 0 || math.IsNaN(float64(vv))
	case int:
		return vv == 0
	case int64:
		return vv == 0
	case int32:
		return vv == 0
	case uint:
		return vv == 0
	case uint64:
		return vv == 0
	case json.Number:
		f, err := vv.Float64()
		return err == nil && f == 0
	default:
		return false
	}
}

// truthy returns the string form of v when v is a non-empty value.
func truthy(v any) (string, bool) {
	switch vv := v.(type) {
	case nil:
		return "", false
	case string:
		return vv, vv != ""
	case bool:
		if !vv {
			return "", false
		}
		return "true", true
	case float64:
		if vv == 0 {
			return "", false
		}
		return fmt.Sprint(vv), true
	case map[string]any, []any:
		raw, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprint(vv), true
		}
		return string(raw), true
	default:
		return fmt.Sprint(vv), true
	}
}
