// Package memory is an in-process table host. It backs offline runs from a
// JSON file and the tests of the pipeline packages.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ogulcanaydogan/llm-table-fill/internal/cell"
	"github.com/ogulcanaydogan/llm-table-fill/internal/table"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

// Update is one UpdateRecord call as observed by the host.
type Update struct {
	TableID  string
	RecordID string
	Fields   map[string]any
}

type Host struct {
	mu      sync.Mutex
	order   []string
	tables  map[string]*tableData
	updates []Update

	// BeforeUpdate, when set, runs before every write and can fail it.
	BeforeUpdate func(u Update) error
	// ListRecordsErr, when set, fails ListRecords.
	ListRecordsErr error
}

type tableData struct {
	meta    types.TableMeta
	fields  []types.FieldDescriptor
	records []table.Record
}

var _ table.Host = (*Host)(nil)

func New() *Host {
	return &Host{tables: map[string]*tableData{}}
}

func (h *Host) AddTable(meta types.TableMeta, fields []types.FieldDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tables[meta.ID]; !ok {
		h.order = append(h.order, meta.ID)
	}
	h.tables[meta.ID] = &tableData{meta: meta, fields: append([]types.FieldDescriptor(nil), fields...)}
}

// AddRecord appends a record whose values are given as decoded JSON.
func (h *Host) AddRecord(tableID, recordID string, values map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tables[tableID]
	if !ok {
		return fmt.Errorf("table %s not found", tableID)
	}
	fields := make(map[string]cell.Value, len(values))
	for k, v := range values {
		fields[k] = cell.FromAny(v)
	}
	t.records = append(t.records, table.Record{ID: recordID, Fields: fields})
	return nil
}

func (h *Host) ListTables(_ context.Context) ([]types.TableMeta, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.TableMeta, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.tables[id].meta)
	}
	return out, nil
}

func (h *Host) ListFields(_ context.Context, tableID string) ([]types.FieldDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("table %s not found", tableID)
	}
	return append([]types.FieldDescriptor(nil), t.fields...), nil
}

func (h *Host) ListRecords(_ context.Context, tableID string, limit int) ([]table.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ListRecordsErr != nil {
		return nil, h.ListRecordsErr
	}
	t, ok := h.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("table %s not found", tableID)
	}
	n := len(t.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]table.Record, 0, n)
	for _, r := range t.records[:n] {
		out = append(out, copyRecord(r))
	}
	return out, nil
}

func (h *Host) UpdateRecord(_ context.Context, tableID, recordID string, fields map[string]any) error {
	u := Update{TableID: tableID, RecordID: recordID, Fields: copyMap(fields)}
	if hook := h.beforeUpdate(); hook != nil {
		if err := hook(u); err != nil {
			return err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tables[tableID]
	if !ok {
		return fmt.Errorf("table %s not found", tableID)
	}
	for i := range t.records {
		if t.records[i].ID != recordID {
			continue
		}
		if t.records[i].Fields == nil {
			t.records[i].Fields = map[string]cell.Value{}
		}
		for k, v := range fields {
			t.records[i].Fields[k] = cell.FromAny(v)
		}
		h.updates = append(h.updates, u)
		return nil
	}
	return fmt.Errorf("record %s not found in %s", recordID, tableID)
}

func (h *Host) beforeUpdate() func(Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.BeforeUpdate
}

// Updates returns the writes applied so far, in order.
func (h *Host) Updates() []Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Update(nil), h.updates...)
}

// Record returns a copy of a stored record.
func (h *Host) Record(tableID, recordID string) (table.Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tables[tableID]
	if !ok {
		return table.Record{}, false
	}
	for _, r := range t.records {
		if r.ID == recordID {
			return copyRecord(r), true
		}
	}
	return table.Record{}, false
}

type fileTable struct {
	ID      string                  `json:"id"`
	Name    string                  `json:"name"`
	Fields  []types.FieldDescriptor `json:"fields"`
	Records []fileRecord            `json:"records"`
}

type fileRecord struct {
	ID     string                `json:"id"`
	Fields map[string]cell.Value `json:"fields"`
}

type fileDoc struct {
	Tables []fileTable `json:"tables"`
}

// LoadFile reads a host snapshot written by SaveFile.
func LoadFile(path string) (*Host, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table file %s: %w", path, err)
	}
	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse table file %s: %w", path, err)
	}
	h := New()
	for _, ft := range doc.Tables {
		h.AddTable(types.TableMeta{ID: ft.ID, Name: ft.Name}, ft.Fields)
		t := h.tables[ft.ID]
		for _, fr := range ft.Records {
			t.records = append(t.records, table.Record{ID: fr.ID, Fields: fr.Fields})
		}
	}
	return h, nil
}

func (h *Host) SaveFile(path string) error {
	h.mu.Lock()
	doc := fileDoc{Tables: make([]fileTable, 0, len(h.order))}
	for _, id := range h.order {
		t := h.tables[id]
		ft := fileTable{ID: t.meta.ID, Name: t.meta.Name, Fields: t.fields, Records: make([]fileRecord, 0, len(t.records))}
		for _, r := range t.records {
			ft.Records = append(ft.Records, fileRecord{ID: r.ID, Fields: r.Fields})
		}
		doc.Tables = append(doc.Tables, ft)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal table file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write table file: %w", err)
	}
	return os.Rename(tmp, path)
}

func copyRecord(r table.Record) table.Record {
	fields := make(map[string]cell.Value, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return table.Record{ID: r.ID, Fields: fields}
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
