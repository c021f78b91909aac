// Package table defines the host table boundary and the table/field loader.
package table

import (
	"context"

	"github.com/ogulcanaydogan/llm-table-fill/internal/cell"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

// DefaultRecordLimit is the ceiling on records fetched for one run.
const DefaultRecordLimit = 5000

// Record is one table row with its cells keyed by field id.
type Record struct {
	ID     string
	Fields map[string]cell.Value
}

// Value returns the cell for fieldID, or an empty cell when absent.
func (r Record) Value(fieldID string) cell.Value {
	if r.Fields == nil {
		return cell.Empty()
	}
	return r.Fields[fieldID]
}

// Host is the spreadsheet host's table API.
type Host interface {
	ListTables(ctx context.Context) ([]types.TableMeta, error)
	ListFields(ctx context.Context, tableID string) ([]types.FieldDescriptor, error)
	ListRecords(ctx context.Context, tableID string, limit int) ([]Record, error)
	UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]any) error
}
