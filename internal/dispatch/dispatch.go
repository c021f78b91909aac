// Package dispatch drives classified rows through the provider in
// sequential batches and writes results back to the table.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/llm-table-fill/internal/classify"
	"github.com/ogulcanaydogan/llm-table-fill/internal/logging"
	"github.com/ogulcanaydogan/llm-table-fill/internal/observability"
	"github.com/ogulcanaydogan/llm-table-fill/internal/provider"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

// DefaultBatchSize is the number of rows processed concurrently.
const DefaultBatchSize = 20

// ErrorPrefix starts every placeholder written for a failed field.
const ErrorPrefix = "Error: "

type Sender interface {
	Send(ctx context.Context, req provider.Request) (string, error)
}

type Writer interface {
	UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]any) error
}

// RowResult describes what happened to one row.
type RowResult struct {
	RecordID string
	Skip     classify.SkipReason
	// Values holds what was written, keyed by field id, placeholders included.
	Values map[string]string
	// Failed lists the field ids that received a placeholder.
	Failed  []string
	Written bool
}

type Result struct {
	Rows        []RowResult
	Processed   int
	Written     int
	FieldErrors int
	Skipped     map[classify.SkipReason]int
}

type Dispatcher struct {
	Sender    Sender
	Writer    Writer
	BatchSize int
	Progress  *Progress
	Log       logrus.FieldLogger
	// OnRow, when set, is called once per finished row from the row's
	// goroutine.
	OnRow func(RowResult)
}

// Run processes outcomes in order. cfg must carry resolved table and field
// ids. The returned error is a run-level failure; per-field failures are
// written as placeholders and reported in Result.
func (d *Dispatcher) Run(ctx context.Context, cfg types.RunConfiguration, outcomes []classify.Outcome) (Result, error) {
	progress := d.Progress
	if progress == nil {
		progress = NewProgress()
	}
	log := d.Log
	if log == nil {
		log = logging.Discard()
	}
	size := d.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	progress.Start(len(outcomes))
	defer progress.Reset()

	res := Result{Skipped: map[classify.SkipReason]int{}}
	rows := make([]RowResult, len(outcomes))
	for start := 0; start < len(outcomes); start += size {
		if err := ctx.Err(); err != nil {
			return d.finish(res, rows[:start]), err
		}
		end := start + size
		if end > len(outcomes) {
			end = len(outcomes)
		}
		if err := d.runBatch(ctx, cfg, start/size, outcomes[start:end], rows[start:end], progress, log); err != nil {
			return d.finish(res, rows[:end]), err
		}
	}
	progress.Complete()
	return d.finish(res, rows), nil
}

func (d *Dispatcher) finish(res Result, rows []RowResult) Result {
	for _, r := range rows {
		if r.RecordID == "" {
			continue
		}
		res.Rows = append(res.Rows, r)
		if r.Skip != classify.SkipNone {
			res.Skipped[r.Skip]++
			continue
		}
		res.Processed++
		res.FieldErrors += len(r.Failed)
		if r.Written {
			res.Written++
		}
	}
	return res
}

func (d *Dispatcher) runBatch(ctx context.Context, cfg types.RunConfiguration, index int, batch []classify.Outcome, out []RowResult, progress *Progress, log logrus.FieldLogger) (err error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.batch",
		attribute.Int("batch.index", index),
		attribute.Int("batch.rows", len(batch)),
	)
	defer func() { observability.EndSpan(span, err) }()

	g, gctx := errgroup.WithContext(ctx)
	for i := range batch {
		g.Go(func() error {
			row, err := d.runRow(gctx, cfg, batch[i], log)
			if err != nil {
				return err
			}
			out[i] = row
			progress.Advance()
			if d.OnRow != nil {
				d.OnRow(row)
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) runRow(ctx context.Context, cfg types.RunConfiguration, o classify.Outcome, log logrus.FieldLogger) (RowResult, error) {
	row := RowResult{RecordID: o.RecordID, Skip: o.Skip}
	if o.Skipped() {
		if o.Skip == classify.SkipInvalidMessages {
			log.WithFields(logrus.Fields{"record": o.RecordID, "problems": o.Detail}).Warn("skipping row with invalid messages")
		}
		return row, nil
	}
	item := o.Item

	var (
		mu     sync.Mutex
		values = make(map[string]string, len(item.Fields))
		failed []string
	)
	var g errgroup.Group
	for _, field := range item.Fields {
		g.Go(func() error {
			content, err := d.Sender.Send(ctx, provider.Request{
				Provider:    cfg.Provider,
				Credential:  cfg.Credential,
				Model:       cfg.Model,
				Messages:    item.Messages,
				Temperature: cfg.Temperature,
				TopP:        cfg.TopP,
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithFields(logrus.Fields{"record": item.RecordID, "field": field}).WithError(err).Warn("field call failed")
				content = ErrorPrefix + err.Error()
				mu.Lock()
				failed = append(failed, field)
				mu.Unlock()
			}
			mu.Lock()
			values[field] = content
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return row, err
	}

	row.Values = values
	row.Failed = failed
	if len(values) == 0 {
		return row, nil
	}
	fields := make(map[string]any, len(values))
	for k, v := range values {
		fields[k] = v
	}
	if err := d.Writer.UpdateRecord(ctx, cfg.Table, item.RecordID, fields); err != nil {
		if ctx.Err() != nil {
			return row, ctx.Err()
		}
		return row, fmt.Errorf("write record %s: %w", item.RecordID, err)
	}
	row.Written = true
	log.WithFields(logrus.Fields{"record": item.RecordID, "fields": len(fields), "failed": len(failed)}).Debug("row written")
	return row, nil
}
