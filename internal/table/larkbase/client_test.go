package larkbase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ogulcanaydogan/llm-table-fill/internal/cell"
)

type fakeBase struct {
	tokenCalls atomic.Int32
	mu         sync.Mutex
	puts       []map[string]any
	putPaths   []string
	records    []map[string]any
}

func (f *fakeBase) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["app_id"] != "cli_app" || body["app_secret"] != "s3cret" {
			writeJSON(w, map[string]any{"code": 10014, "msg": "app secret invalid"})
			return
		}
		writeJSON(w, map[string]any{"code": 0, "msg": "ok", "tenant_access_token": "t-123", "expire": 7200})
	})
	mux.HandleFunc("GET /open-apis/bitable/v1/apps/app1/tables", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			writeJSON(w, map[string]any{"code": 99991663, "msg": "invalid token"})
			return
		}
		writeJSON(w, envelopeData(map[string]any{
			"items":    []map[string]any{{"table_id": "tbl1", "name": "Leads"}, {"table_id": "tbl2", "name": "Notes"}},
			"has_more": false,
		}))
	})
	mux.HandleFunc("GET /open-apis/bitable/v1/apps/app1/tables/tbl1/fields", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, envelopeData(map[string]any{
			"items": []map[string]any{
				{"field_id": "fldIn", "field_name": "Question", "type": 1},
				{"field_id": "fldOut", "field_name": "Answer", "type": 1},
				{"field_id": "fldNum", "field_name": "Score", "type": 2},
			},
		}))
	})
	mux.HandleFunc("GET /open-apis/bitable/v1/apps/app1/tables/tbl1/records", func(w http.ResponseWriter, r *http.Request) {
		size := r.URL.Query().Get("page_size")
		token := r.URL.Query().Get("page_token")
		if size == "" {
			t.Errorf("page_size missing")
		}
		f.mu.Lock()
		recs := f.records
		f.mu.Unlock()
		half := len(recs) / 2
		if token == "" {
			writeJSON(w, envelopeData(map[string]any{"items": recs[:half], "has_more": true, "page_token": "p2"}))
			return
		}
		writeJSON(w, envelopeData(map[string]any{"items": recs[half:], "has_more": false}))
	})
	mux.HandleFunc("PUT /open-apis/bitable/v1/apps/app1/tables/tbl1/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.puts = append(f.puts, body)
		f.putPaths = append(f.putPaths, r.PathValue("id"))
		f.mu.Unlock()
		writeJSON(w, envelopeData(map[string]any{"record": map[string]any{"record_id": r.PathValue("id")}}))
	})
	return mux
}

func authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer t-123"
}

func envelopeData(data any) map[string]any {
	return map[string]any{"code": 0, "msg": "success", "data": data}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, f *fakeBase) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, AppID: "cli_app", AppSecret: "s3cret", AppToken: "app1"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Config{AppToken: "app1"}, nil); err == nil {
		t.Fatal("expected error without app id")
	}
	if _, err := New(Config{AppID: "a", AppSecret: "b"}, nil); err == nil {
		t.Fatal("expected error without app token")
	}
}

func TestListTablesCachesToken(t *testing.T) {
	f := &fakeBase{}
	c := newTestClient(t, f)
	for i := 0; i < 3; i++ {
		tables, err := c.ListTables(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(tables) != 2 || tables[0].ID != "tbl1" || tables[1].Name != "Notes" {
			t.Fatalf("unexpected tables: %+v", tables)
		}
	}
	if got := f.tokenCalls.Load(); got != 1 {
		t.Fatalf("expected one token request, got %d", got)
	}
}

func TestTokenFailureSurfacesAPIError(t *testing.T) {
	f := &fakeBase{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()
	c, err := New(Config{BaseURL: srv.URL, AppID: "cli_app", AppSecret: "wrong", AppToken: "app1"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.ListTables(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 10014 {
		t.Fatalf("expected api error 10014, got %v", err)
	}
}

func TestListRecordsPagesAndMapsFieldIDs(t *testing.T) {
	f := &fakeBase{records: []map[string]any{
		{"record_id": "rec1", "fields": map[string]any{"Question": "What is Go?"}},
		{"record_id": "rec2", "fields": map[string]any{"Question": []any{map[string]any{"type": "text", "text": "Hi"}}, "Answer": "done"}},
		{"record_id": "rec3", "fields": map[string]any{"Unknown": "x"}},
		{"record_id": "rec4", "fields": map[string]any{}},
	}}
	c := newTestClient(t, f)

	recs, err := c.ListRecords(context.Background(), "tbl1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected 4 records across pages, got %d", len(recs))
	}
	if got := cell.ExtractText(recs[0].Value("fldIn")); got != "What is Go?" {
		t.Fatalf("unexpected input text %q", got)
	}
	if got := cell.ExtractText(recs[1].Value("fldIn")); got != "Hi" {
		t.Fatalf("unexpected span text %q", got)
	}
	if got := cell.ExtractText(recs[1].Value("fldOut")); got != "done" {
		t.Fatalf("unexpected answer %q", got)
	}
	if len(recs[2].Fields) != 0 {
		t.Fatalf("unknown field names should be dropped: %+v", recs[2].Fields)
	}
}

func TestListRecordsHonorsLimit(t *testing.T) {
	f := &fakeBase{records: []map[string]any{
		{"record_id": "rec1", "fields": map[string]any{}},
		{"record_id": "rec2", "fields": map[string]any{}},
		{"record_id": "rec3", "fields": map[string]any{}},
		{"record_id": "rec4", "fields": map[string]any{}},
	}}
	c := newTestClient(t, f)
	recs, err := c.ListRecords(context.Background(), "tbl1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "rec1" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestUpdateRecordSendsFieldNames(t *testing.T) {
	f := &fakeBase{}
	c := newTestClient(t, f)
	err := c.UpdateRecord(context.Background(), "tbl1", "rec9", map[string]any{"fldOut": "answer"})
	if err != nil {
		t.Fatal(err)
	}
	if len(f.puts) != 1 || f.putPaths[0] != "rec9" {
		t.Fatalf("expected one PUT to rec9, got %v", f.putPaths)
	}
	fields, _ := f.puts[0]["fields"].(map[string]any)
	if fields["Answer"] != "answer" {
		t.Fatalf("expected field keyed by name, got %+v", f.puts[0])
	}
}

func TestUpdateRecordRejectsUnknownField(t *testing.T) {
	f := &fakeBase{}
	c := newTestClient(t, f)
	err := c.UpdateRecord(context.Background(), "tbl1", "rec1", map[string]any{"fldMissing": "x"})
	if err == nil || !strings.Contains(err.Error(), "fldMissing") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if len(f.puts) != 0 {
		t.Fatalf("no request expected for unknown field")
	}
}
