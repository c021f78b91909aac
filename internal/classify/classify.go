// Package classify decides, per record, whether a run has work to do and
// builds the message list for that work.
package classify

import (
	"errors"
	"strings"

	"github.com/ogulcanaydogan/llm-table-fill/internal/cell"
	"github.com/ogulcanaydogan/llm-table-fill/internal/table"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/schema"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipAlreadyFilled   SkipReason = "already_filled"
	SkipEmptyInput      SkipReason = "empty_input"
	SkipInvalidMessages SkipReason = "invalid_messages"
)

// Outcome is either a work item or a skip. Detail explains invalid message
// lists and is meant for logs only.
type Outcome struct {
	RecordID string
	Item     *types.RowWorkItem
	Skip     SkipReason
	Detail   []string
}

func (o Outcome) Skipped() bool { return o.Item == nil }

// validateMessages is swapped in tests.
var validateMessages = func(msgs []types.Message) ([]string, error) {
	return schema.Validate(schema.Messages, msgs)
}

// Classify expects cfg field references to be resolved to field ids.
func Classify(cfg types.RunConfiguration, rec table.Record) Outcome {
	out := Outcome{RecordID: rec.ID}

	eligible := EligibleFields(cfg.ResultFields, rec)
	if len(eligible) == 0 {
		out.Skip = SkipAlreadyFilled
		return out
	}

	var msgs []types.Message
	switch cfg.Mode {
	case types.ModeMessages:
		decoded, err := cell.DecodeMessages(rec.Value(cfg.MessagesField))
		if errors.Is(err, cell.ErrNoMessages) {
			out.Skip = SkipEmptyInput
			return out
		}
		if err != nil {
			out.Skip = SkipInvalidMessages
			out.Detail = []string{err.Error()}
			return out
		}
		problems, err := validateMessages(decoded)
		if err != nil {
			problems = append(problems, err.Error())
		}
		if len(problems) > 0 {
			out.Skip = SkipInvalidMessages
			out.Detail = problems
			return out
		}
		msgs = decoded
	default:
		text := JoinInputs(cfg.InputFields, rec)
		if text == "" {
			out.Skip = SkipEmptyInput
			return out
		}
		msgs = []types.Message{types.SystemMessage(cfg.SystemPrompt), types.UserMessage(text)}
	}

	out.Item = &types.RowWorkItem{RecordID: rec.ID, Messages: msgs, Fields: eligible}
	return out
}

// EligibleFields returns the result fields of rec that are still blank, in
// configured order.
func EligibleFields(resultFields []string, rec table.Record) []string {
	out := make([]string, 0, len(resultFields))
	for _, id := range resultFields {
		if cell.IsBlank(rec.Value(id)) {
			out = append(out, id)
		}
	}
	return out
}

// JoinInputs concatenates the extracted text of every input field that does
// not trim to empty. Kept parts are not trimmed and no separator is added.
func JoinInputs(inputFields []string, rec table.Record) string {
	var b strings.Builder
	for _, id := range inputFields {
		text := cell.ExtractText(rec.Value(id))
		if strings.TrimSpace(text) == "" {
			continue
		}
		b.WriteString(text)
	}
	return b.String()
}

// All classifies records in order.
func All(cfg types.RunConfiguration, recs []table.Record) []Outcome {
	out := make([]Outcome, 0, len(recs))
	for _, r := range recs {
		out = append(out, Classify(cfg, r))
	}
	return out
}
