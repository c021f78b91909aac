package table

import (
	"context"
	"fmt"
	"strings"

	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

// Loader fetches table and field metadata for selection.
type Loader struct {
	Host Host
}

func NewLoader(host Host) *Loader {
	return &Loader{Host: host}
}

func (l *Loader) Tables(ctx context.Context) ([]types.TableMeta, error) {
	tables, err := l.Host.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list tables: %v", types.ErrLoad, err)
	}
	return tables, nil
}

// Table looks a table up by id, falling back to an exact name match.
func (l *Loader) Table(ctx context.Context, ref string) (types.TableMeta, error) {
	tables, err := l.Tables(ctx)
	if err != nil {
		return types.TableMeta{}, err
	}
	ref = strings.TrimSpace(ref)
	for _, t := range tables {
		if t.ID == ref {
			return t, nil
		}
	}
	for _, t := range tables {
		if t.Name == ref {
			return t, nil
		}
	}
	return types.TableMeta{}, fmt.Errorf("%w: table %q not found", types.ErrLoad, ref)
}

// TextFields lists the fields of tableID that hold short or long text.
func (l *Loader) TextFields(ctx context.Context, tableID string) ([]types.FieldDescriptor, error) {
	fields, err := l.Host.ListFields(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: list fields %s: %v", types.ErrLoad, tableID, err)
	}
	return FilterText(fields), nil
}

func FilterText(fields []types.FieldDescriptor) []types.FieldDescriptor {
	out := make([]types.FieldDescriptor, 0, len(fields))
	for _, f := range fields {
		if f.IsText() {
			out = append(out, f)
		}
	}
	return out
}

// ResolveFields maps field references (ids or display names) to ids among the
// given text fields. Unknown references are an error.
func ResolveFields(fields []types.FieldDescriptor, refs []string) ([]string, error) {
	byID := make(map[string]string, len(fields))
	byName := make(map[string]string, len(fields))
	for _, f := range fields {
		byID[f.ID] = f.ID
		byName[f.Name] = f.ID
	}
	out := make([]string, 0, len(refs))
	var unknown []string
	for _, ref := range refs {
		if id, ok := byID[ref]; ok {
			out = append(out, id)
			continue
		}
		if id, ok := byName[ref]; ok {
			out = append(out, id)
			continue
		}
		unknown = append(unknown, ref)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown or non-text fields: %s", types.ErrInvalidConfig, strings.Join(unknown, ", "))
	}
	return out, nil
}
