package larkbase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ogulcanaydogan/llm-table-fill/internal/cell"
	"github.com/ogulcanaydogan/llm-table-fill/internal/table"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

var _ table.Host = (*Client)(nil)

type page[T any] struct {
	Items     []T    `json:"items"`
	HasMore   bool   `json:"has_more"`
	PageToken string `json:"page_token"`
}

type tableItem struct {
	TableID string `json:"table_id"`
	Name    string `json:"name"`
}

type fieldItem struct {
	FieldID   string `json:"field_id"`
	FieldName string `json:"field_name"`
	Type      int    `json:"type"`
}

type recordItem struct {
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

// fieldIndex maps between field ids and display names for one table.
type fieldIndex struct {
	byName map[string]string
	byID   map[string]string
}

// listAll follows page tokens until the host reports no more items or max
// items were collected; limit <= 0 means no limit.
func listAll[T any](ctx context.Context, c *Client, path string, pageSize, limit int) ([]T, error) {
	var out []T
	token := ""
	for {
		q := url.Values{}
		q.Set("page_size", strconv.Itoa(pageSize))
		if token != "" {
			q.Set("page_token", token)
		}
		var p page[T]
		if err := c.do(ctx, http.MethodGet, path, q, nil, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Items...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if !p.HasMore || p.PageToken == "" {
			return out, nil
		}
		token = p.PageToken
	}
}

func (c *Client) ListTables(ctx context.Context) ([]types.TableMeta, error) {
	items, err := listAll[tableItem](ctx, c, c.appPath("tables"), 100, 0)
	if err != nil {
		return nil, err
	}
	out := make([]types.TableMeta, 0, len(items))
	for _, it := range items {
		out = append(out, types.TableMeta{ID: it.TableID, Name: it.Name})
	}
	return out, nil
}

func (c *Client) ListFields(ctx context.Context, tableID string) ([]types.FieldDescriptor, error) {
	items, err := listAll[fieldItem](ctx, c, c.appPath("tables", url.PathEscape(tableID), "fields"), 100, 0)
	if err != nil {
		return nil, err
	}
	out := make([]types.FieldDescriptor, 0, len(items))
	idx := fieldIndex{byName: map[string]string{}, byID: map[string]string{}}
	for _, it := range items {
		out = append(out, types.FieldDescriptor{ID: it.FieldID, Name: it.FieldName, Type: it.Type})
		idx.byName[it.FieldName] = it.FieldID
		idx.byID[it.FieldID] = it.FieldName
	}
	c.fieldsMu.Lock()
	c.fields[tableID] = idx
	c.fieldsMu.Unlock()
	return out, nil
}

func (c *Client) index(ctx context.Context, tableID string) (fieldIndex, error) {
	c.fieldsMu.Lock()
	idx, ok := c.fields[tableID]
	c.fieldsMu.Unlock()
	if ok {
		return idx, nil
	}
	if _, err := c.ListFields(ctx, tableID); err != nil {
		return fieldIndex{}, err
	}
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	return c.fields[tableID], nil
}

// ListRecords returns up to limit records with cells keyed by field id.
func (c *Client) ListRecords(ctx context.Context, tableID string, limit int) ([]table.Record, error) {
	idx, err := c.index(ctx, tableID)
	if err != nil {
		return nil, err
	}
	pageSize := c.cfg.PageSize
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}
	items, err := listAll[recordItem](ctx, c, c.appPath("tables", url.PathEscape(tableID), "records"), pageSize, limit)
	if err != nil {
		return nil, err
	}
	out := make([]table.Record, 0, len(items))
	for _, it := range items {
		fields := make(map[string]cell.Value, len(it.Fields))
		for name, v := range it.Fields {
			id, ok := idx.byName[name]
			if !ok {
				continue
			}
			fields[id] = cell.FromAny(v)
		}
		out = append(out, table.Record{ID: it.RecordID, Fields: fields})
	}
	return out, nil
}

// UpdateRecord writes fields, keyed by field id, to one record.
func (c *Client) UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]any) error {
	idx, err := c.index(ctx, tableID)
	if err != nil {
		return err
	}
	byName := make(map[string]any, len(fields))
	for id, v := range fields {
		name, ok := idx.byID[id]
		if !ok {
			return fmt.Errorf("field %s not found in table %s", id, tableID)
		}
		byName[name] = v
	}
	path := c.appPath("tables", url.PathEscape(tableID), "records", url.PathEscape(recordID))
	return c.do(ctx, http.MethodPut, path, nil, map[string]any{"fields": byName}, nil)
}
