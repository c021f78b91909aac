//go:build e2e

package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ogulcanaydogan/llm-table-fill/internal/provider"
	"github.com/ogulcanaydogan/llm-table-fill/internal/table/memory"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

type chatBody struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Temperature *float64        `json:"temperature"`
	TopP        *float64        `json:"top_p"`
}

// chatServer answers chat completions by echoing the last user message and
// fails every request whose last message contains "boom".
type chatServer struct {
	mu       sync.Mutex
	requests []chatBody
	auth     []string
}

func (s *chatServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, body)
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		s.mu.Unlock()

		last := ""
		if n := len(body.Messages); n > 0 {
			last = body.Messages[n-1].Content
		}
		if strings.Contains(last, "boom") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "re: " + last}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *chatServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newClient(srv *httptest.Server, providers ...string) *provider.Client {
	opts := []provider.Option{provider.WithHTTPClient(srv.Client())}
	for _, p := range providers {
		opts = append(opts, provider.WithEndpoints(p, provider.Endpoints{Chat: srv.URL}))
	}
	return provider.NewClient(opts...)
}

func articlesHost(t *testing.T, rows map[string]map[string]any, order []string) *memory.Host {
	t.Helper()
	h := memory.New()
	h.AddTable(types.TableMeta{ID: "tblA", Name: "Articles"}, []types.FieldDescriptor{
		{ID: "fldQ", Name: "Question", Type: types.FieldTypeText},
		{ID: "fldM", Name: "Conversation", Type: types.FieldTypeLongText},
		{ID: "fldA", Name: "Answer", Type: types.FieldTypeText},
		{ID: "fldS", Name: "Summary", Type: types.FieldTypeLongText},
	})
	for _, id := range order {
		if err := h.AddRecord("tblA", id, rows[id]); err != nil {
			t.Fatal(err)
		}
	}
	return h
}

func cellText(t *testing.T, h *memory.Host, recordID, fieldID string) string {
	t.Helper()
	rec, ok := h.Record("tblA", recordID)
	if !ok {
		t.Fatalf("record %s missing", recordID)
	}
	raw, err := json.Marshal(rec.Fields[fieldID])
	if err != nil {
		t.Fatal(err)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}
