package types

const (
	FieldTypeText     = 1
	FieldTypeLongText = 2
)

type TableMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type FieldDescriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

// IsText reports whether the field can be selected as an input or result field.
func (f FieldDescriptor) IsText() bool {
	return f.Type == FieldTypeText || f.Type == FieldTypeLongText
}

// RowWorkItem is the classified work for a single record.
type RowWorkItem struct {
	RecordID string    `json:"record_id"`
	Messages []Message `json:"messages"`
	Fields   []string  `json:"fields"`
}
