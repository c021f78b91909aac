package cell

import (
	"errors"
	"testing"

	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

func TestDecodeMessages(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want []types.Message
	}{
		{
			name: "json message list",
			in:   Text(`[{"role":"user","content":"hi"}]`),
			want: []types.Message{{Role: "user", Content: "hi"}},
		},
		{
			name: "plain text",
			in:   Text("summarize this"),
			want: []types.Message{{Role: "user", Content: "summarize this"}},
		},
		{
			name: "single object",
			in:   Text(`{"role":"system","content":"be brief"}`),
			want: []types.Message{{Role: "system", Content: "be brief"}},
		},
		{
			name: "json scalar",
			in:   Text(`42`),
			want: []types.Message{{Role: "user", Content: "42"}},
		},
		{
			name: "decoded message list",
			in: List([]any{
				map[string]any{"role": "system", "content": "s"},
				map[string]any{"role": "user", "content": "u"},
			}),
			want: []types.Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}},
		},
		{
			name: "spans holding json",
			in: List([]any{
				map[string]any{"type": "text", "text": `[{"role":"user",`},
				map[string]any{"type": "text", "text": `"content":"hi"}]`},
			}),
			want: []types.Message{{Role: "user", Content: "hi"}},
		},
		{
			name: "spans holding prose",
			in: List([]any{
				map[string]any{"type": "text", "text": "just "},
				map[string]any{"type": "text", "text": "text"},
			}),
			want: []types.Message{{Role: "user", Content: "just text"}},
		},
		{
			name: "json string of spans",
			in:   Text(`[{"type":"text","text":"{\"role\":\"user\",\"content\":\"x\"}"}]`),
			want: []types.Message{{Role: "user", Content: "x"}},
		},
		{
			name: "object cell",
			in:   Object(map[string]any{"role": "user", "content": "o"}),
			want: []types.Message{{Role: "user", Content: "o"}},
		},
		{
			name: "span content flattened",
			in: Text(`[{"role":"user","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}]`),
			want: []types.Message{{Role: "user", Content: "ab"}},
		},
		{
			name: "missing role kept for validation",
			in:   Text(`[{"content":"hi"}]`),
			want: []types.Message{{Role: "", Content: "hi"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMessages(tt.in)
			if err != nil {
				t.Fatalf("DecodeMessages: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d messages (%+v), want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("message %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecodeMessages_Empty(t *testing.T) {
	_, err := DecodeMessages(Empty())
	if !errors.Is(err, ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}
}

func TestDecodeMessages_NonObjectEntry(t *testing.T) {
	_, err := DecodeMessages(Text(`[{"role":"user","content":"a"}, "b"]`))
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}
