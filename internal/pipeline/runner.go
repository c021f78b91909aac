// Package pipeline runs one table fill submission end to end.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ogulcanaydogan/llm-table-fill/internal/classify"
	"github.com/ogulcanaydogan/llm-table-fill/internal/config"
	"github.com/ogulcanaydogan/llm-table-fill/internal/dispatch"
	"github.com/ogulcanaydogan/llm-table-fill/internal/logging"
	"github.com/ogulcanaydogan/llm-table-fill/internal/observability"
	"github.com/ogulcanaydogan/llm-table-fill/internal/report"
	"github.com/ogulcanaydogan/llm-table-fill/internal/table"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is the user-visible outcome of a run.
type Notice struct {
	Level   NoticeLevel
	Message string
}

type Runner struct {
	Host        table.Host
	Sender      dispatch.Sender
	BatchSize   int
	RecordLimit int
	Progress    *dispatch.Progress
	Log         logrus.FieldLogger
	OnRow       func(dispatch.RowResult)
	Notify      func(Notice)

	now   func() time.Time
	newID func() string
}

// Run validates cfg, resolves its table and field references, fetches and
// classifies every record and dispatches the work. Configuration problems
// return ErrInvalidConfig before anything runs; failures after that return
// ErrRun. The report is filled in either case once the run started.
func (r *Runner) Run(ctx context.Context, cfg types.RunConfiguration) (rep report.RunReport, err error) {
	cfg = cfg.Normalize()
	if err := config.Validate(cfg); err != nil {
		r.notify(NoticeError, err.Error())
		return report.RunReport{}, err
	}

	now := r.now
	if now == nil {
		now = time.Now
	}
	newID := r.newID
	if newID == nil {
		newID = uuid.NewString
	}
	base := r.Log
	if base == nil {
		base = logging.Discard()
	}

	rep = report.RunReport{
		RunID:     newID(),
		Table:     cfg.Table,
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		Mode:      string(cfg.Mode),
		StartedAt: now(),
		Skipped:   map[string]int{},
	}
	log := base.WithFields(logrus.Fields{
		"run_id":   rep.RunID,
		"provider": cfg.Provider,
		"model":    cfg.Model,
		"mode":     cfg.Mode,
	})

	ctx, span := observability.StartSpan(ctx, "pipeline.run",
		attribute.String("run.id", rep.RunID),
		attribute.String("provider", cfg.Provider),
		attribute.String("model", cfg.Model),
	)
	defer func() {
		rep.FinishedAt = now()
		if err != nil {
			rep.Error = err.Error()
			log.WithError(err).Error("run failed")
			r.notify(NoticeError, err.Error())
		} else {
			log.WithFields(logrus.Fields{
				"written":      rep.Written,
				"field_errors": rep.FieldErrors,
				"skipped":      rep.Skipped,
			}).Info("run finished")
			r.notify(NoticeSuccess, successMessage(rep))
		}
		observability.EndSpan(span, err)
	}()

	resolved, names, err := r.resolve(ctx, cfg)
	if err != nil {
		return rep, err
	}
	rep.Table = names.table
	log = log.WithField("table", resolved.Table)

	limit := r.RecordLimit
	if limit <= 0 {
		limit = table.DefaultRecordLimit
	}
	records, err := r.Host.ListRecords(ctx, resolved.Table, limit)
	if err != nil {
		return rep, fmt.Errorf("%w: fetch records: %w", types.ErrRun, err)
	}
	rep.TotalRows = len(records)
	span.SetAttributes(attribute.Int("run.rows", len(records)))
	log.WithField("rows", len(records)).Info("run started")

	outcomes := classify.All(resolved, records)
	d := &dispatch.Dispatcher{
		Sender:    r.Sender,
		Writer:    r.Host,
		BatchSize: r.BatchSize,
		Progress:  r.Progress,
		Log:       log,
		OnRow:     r.OnRow,
	}
	res, err := d.Run(ctx, resolved, outcomes)
	fillReport(&rep, res, names.fields)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", types.ErrRun, err)
	}
	return rep, nil
}

type displayNames struct {
	table  string
	fields map[string]string
}

// resolve maps the table and every field reference to host ids.
func (r *Runner) resolve(ctx context.Context, cfg types.RunConfiguration) (types.RunConfiguration, displayNames, error) {
	loader := table.NewLoader(r.Host)
	meta, err := loader.Table(ctx, cfg.Table)
	if err != nil {
		return cfg, displayNames{}, err
	}
	fields, err := loader.TextFields(ctx, meta.ID)
	if err != nil {
		return cfg, displayNames{}, err
	}

	names := displayNames{table: meta.Name, fields: make(map[string]string, len(fields))}
	for _, f := range fields {
		names.fields[f.ID] = f.Name
	}

	out := cfg
	out.Table = meta.ID
	if out.ResultFields, err = table.ResolveFields(fields, cfg.ResultFields); err != nil {
		return cfg, names, err
	}
	switch cfg.Mode {
	case types.ModeMessages:
		ids, err := table.ResolveFields(fields, []string{cfg.MessagesField})
		if err != nil {
			return cfg, names, err
		}
		out.MessagesField = ids[0]
	default:
		if out.InputFields, err = table.ResolveFields(fields, cfg.InputFields); err != nil {
			return cfg, names, err
		}
	}
	return out, names, nil
}

func fillReport(rep *report.RunReport, res dispatch.Result, fieldNames map[string]string) {
	rep.Processed = res.Processed
	rep.Written = res.Written
	rep.FieldErrors = res.FieldErrors
	for reason, n := range res.Skipped {
		rep.Skipped[string(reason)] = n
	}
	for _, row := range res.Rows {
		out := report.RowOutcome{RecordID: row.RecordID}
		switch {
		case row.Skip != classify.SkipNone:
			out.Status = report.RowSkipped
			out.SkipReason = string(row.Skip)
		case row.Written:
			out.Status = report.RowWritten
		default:
			out.Status = report.RowUnwritten
		}
		for id := range row.Values {
			out.Fields = append(out.Fields, displayName(fieldNames, id))
		}
		for _, id := range row.Failed {
			out.FailedFields = append(out.FailedFields, displayName(fieldNames, id))
		}
		sort.Strings(out.Fields)
		sort.Strings(out.FailedFields)
		rep.Rows = append(rep.Rows, out)
	}
}

func displayName(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}

func successMessage(rep report.RunReport) string {
	msg := fmt.Sprintf("Processing complete: %d of %d rows written", rep.Written, rep.TotalRows)
	if rep.FieldErrors > 0 {
		msg += fmt.Sprintf(", %d field errors", rep.FieldErrors)
	}
	return msg
}

func (r *Runner) notify(level NoticeLevel, msg string) {
	if r.Notify != nil {
		r.Notify(Notice{Level: level, Message: msg})
	}
}
