package types

import "strings"

// Mode selects how the outbound message list is built for each row.
type Mode string

const (
	ModeSeparated Mode = "separated"
	ModeMessages  Mode = "messages"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderDoubao     = "doubao"
	ProviderUniAPI     = "uniapi"
)

// RunConfiguration is the snapshot taken when a run is submitted. It is never
// mutated after validation.
type RunConfiguration struct {
	Table         string   `yaml:"table" json:"table" validate:"required"`
	Mode          Mode     `yaml:"mode" json:"mode" validate:"required,oneof=separated messages"`
	SystemPrompt  string   `yaml:"system_prompt" json:"system_prompt,omitempty" validate:"required_if=Mode separated"`
	InputFields   []string `yaml:"input_fields" json:"input_fields,omitempty" validate:"dive,required"`
	MessagesField string   `yaml:"messages_field" json:"messages_field,omitempty" validate:"required_if=Mode messages"`
	Provider      string   `yaml:"provider" json:"provider" validate:"required,oneof=openrouter doubao uniapi"`
	Model         string   `yaml:"model" json:"model" validate:"required"`
	Credential    string   `yaml:"-" json:"-" validate:"required"`
	ResultFields  []string `yaml:"result_fields" json:"result_fields" validate:"required,min=1,dive,required"`
	Temperature   *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP          *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// Normalize trims user-entered identifiers and lowercases enum-like values.
func (c RunConfiguration) Normalize() RunConfiguration {
	c.Table = strings.TrimSpace(c.Table)
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	if c.Mode == "" {
		c.Mode = ModeSeparated
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.Model = strings.TrimSpace(c.Model)
	c.Credential = strings.TrimSpace(c.Credential)
	c.MessagesField = strings.TrimSpace(c.MessagesField)
	c.InputFields = trimAll(c.InputFields)
	c.ResultFields = trimAll(c.ResultFields)
	return c
}

func trimAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}
