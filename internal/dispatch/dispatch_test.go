package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ogulcanaydogan/llm-table-fill/internal/cell"
	"github.com/ogulcanaydogan/llm-table-fill/internal/classify"
	"github.com/ogulcanaydogan/llm-table-fill/internal/provider"
	"github.com/ogulcanaydogan/llm-table-fill/internal/table/memory"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

type senderFunc func(ctx context.Context, req provider.Request) (string, error)

func (f senderFunc) Send(ctx context.Context, req provider.Request) (string, error) { return f(ctx, req) }

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type loggingWriter struct {
	inner Writer
	log   *eventLog
}

func (w loggingWriter) UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]any) error {
	err := w.inner.UpdateRecord(ctx, tableID, recordID, fields)
	w.log.add("wrote %s", recordID)
	return err
}

func baseConfig(resultFields ...string) types.RunConfiguration {
	return types.RunConfiguration{
		Table:        "tbl",
		Mode:         types.ModeSeparated,
		SystemPrompt: "sys",
		InputFields:  []string{"in"},
		Provider:     types.ProviderOpenRouter,
		Model:        "m",
		Credential:   "sk-test-credential",
		ResultFields: resultFields,
	}
}

func newHost(t *testing.T, n int, fields ...string) *memory.Host {
	t.Helper()
	h := memory.New()
	descs := []types.FieldDescriptor{{ID: "in", Name: "In", Type: types.FieldTypeText}}
	for _, f := range fields {
		descs = append(descs, types.FieldDescriptor{ID: f, Name: f, Type: types.FieldTypeText})
	}
	h.AddTable(types.TableMeta{ID: "tbl", Name: "Table"}, descs)
	for i := 0; i < n; i++ {
		if err := h.AddRecord("tbl", recID(i), map[string]any{"in": "input " + recID(i)}); err != nil {
			t.Fatal(err)
		}
	}
	return h
}

func recID(i int) string { return fmt.Sprintf("r%02d", i) }

func workOutcomes(n int, fields ...string) []classify.Outcome {
	out := make([]classify.Outcome, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, classify.Outcome{
			RecordID: recID(i),
			Item: &types.RowWorkItem{
				RecordID: recID(i),
				Messages: []types.Message{types.UserMessage("input " + recID(i))},
				Fields:   fields,
			},
		})
	}
	return out
}

func TestBatchesAreSequential(t *testing.T) {
	for n := 1; n <= 7; n++ {
		for b := 1; b <= 4; b++ {
			t.Run(fmt.Sprintf("n=%d,b=%d", n, b), func(t *testing.T) {
				events := &eventLog{}
				host := newHost(t, n, "out")
				d := &Dispatcher{
					Sender: senderFunc(func(_ context.Context, req provider.Request) (string, error) {
						events.add("send %s", strings.TrimPrefix(req.Messages[0].Content, "input "))
						return "ok", nil
					}),
					Writer:    loggingWriter{inner: host, log: events},
					BatchSize: b,
				}
				if _, err := d.Run(context.Background(), baseConfig("out"), workOutcomes(n, "out")); err != nil {
					t.Fatal(err)
				}

				position := map[string]int{}
				for i, e := range events.snapshot() {
					position[e] = i
				}
				for start := 0; start+b < n; start += b {
					lastWrite := -1
					for i := start; i < start+b && i < n; i++ {
						if p := position["wrote "+recID(i)]; p > lastWrite {
							lastWrite = p
						}
					}
					for i := start + b; i < start+2*b && i < n; i++ {
						if position["send "+recID(i)] < lastWrite {
							t.Fatalf("row %s sent before batch starting at %d finished writing: %v", recID(i), start, events.snapshot())
						}
					}
				}
			})
		}
	}
}

func TestFieldFailureIsIsolated(t *testing.T) {
	host := newHost(t, 2, "good", "bad")
	var fieldCalls sync.Map
	d := &Dispatcher{
		Sender: senderFunc(func(_ context.Context, req provider.Request) (string, error) {
			// the first call for r00 fails, the rest succeed
			if req.Messages[0].Content == "input r00" {
				if _, loaded := fieldCalls.LoadOrStore("r00", true); !loaded {
					return "", &provider.StatusError{Code: 500, Status: "Internal Server Error"}
				}
			}
			return "generated", nil
		}),
		Writer:    host,
		BatchSize: 1,
	}
	res, err := d.Run(context.Background(), baseConfig("good", "bad"), workOutcomes(2, "good", "bad"))
	if err != nil {
		t.Fatal(err)
	}
	if res.FieldErrors != 1 || res.Written != 2 || res.Processed != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	r0, _ := host.Record("tbl", "r00")
	texts := []string{cell.ExtractText(r0.Value("good")), cell.ExtractText(r0.Value("bad"))}
	var placeholders, generated int
	for _, s := range texts {
		switch {
		case s == "Error: API call failed: Internal Server Error":
			placeholders++
		case s == "generated":
			generated++
		}
	}
	if placeholders != 1 || generated != 1 {
		t.Fatalf("row r00 cells = %v", texts)
	}

	r1, _ := host.Record("tbl", "r01")
	if cell.ExtractText(r1.Value("good")) != "generated" || cell.ExtractText(r1.Value("bad")) != "generated" {
		t.Fatalf("row r01 not fully written: %+v", r1)
	}
}

func TestOneWritePerRow(t *testing.T) {
	host := newHost(t, 3, "a", "b", "c")
	d := &Dispatcher{
		Sender: senderFunc(func(context.Context, provider.Request) (string, error) { return "x", nil }),
		Writer: host,
	}
	if _, err := d.Run(context.Background(), baseConfig("a", "b", "c"), workOutcomes(3, "a", "b", "c")); err != nil {
		t.Fatal(err)
	}
	updates := host.Updates()
	if len(updates) != 3 {
		t.Fatalf("expected 3 writes, got %d", len(updates))
	}
	for _, u := range updates {
		if len(u.Fields) != 3 {
			t.Fatalf("write for %s covered %d fields", u.RecordID, len(u.Fields))
		}
	}
}

func TestSkippedRowsAdvanceProgressWithoutCalls(t *testing.T) {
	host := newHost(t, 3, "out")
	outcomes := workOutcomes(1, "out")
	outcomes = append(outcomes,
		classify.Outcome{RecordID: "r01", Skip: classify.SkipEmptyInput},
		classify.Outcome{RecordID: "r02", Skip: classify.SkipAlreadyFilled},
	)
	var calls int
	var mu sync.Mutex
	var seen []int
	p := NewProgress()
	p.Observe(func(v int) { seen = append(seen, v) })
	d := &Dispatcher{
		Sender: senderFunc(func(context.Context, provider.Request) (string, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return "x", nil
		}),
		Writer:    host,
		BatchSize: 1,
		Progress:  p,
	}
	res, err := d.Run(context.Background(), baseConfig("out"), outcomes)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 || len(host.Updates()) != 1 {
		t.Fatalf("calls=%d writes=%d", calls, len(host.Updates()))
	}
	if res.Skipped[classify.SkipEmptyInput] != 1 || res.Skipped[classify.SkipAlreadyFilled] != 1 {
		t.Fatalf("skipped = %v", res.Skipped)
	}
	want := []int{33, 67, 100, 0}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("progress = %v, want %v", seen, want)
	}
	if p.Value() != 0 {
		t.Fatal("progress must reset after the run")
	}
}

func TestWriteFailureAbortsRun(t *testing.T) {
	host := newHost(t, 4, "out")
	boom := errors.New("quota exceeded")
	host.BeforeUpdate = func(u memory.Update) error {
		if u.RecordID == "r01" {
			return boom
		}
		return nil
	}
	events := &eventLog{}
	var seen []int
	p := NewProgress()
	p.Observe(func(v int) { seen = append(seen, v) })
	d := &Dispatcher{
		Sender: senderFunc(func(_ context.Context, req provider.Request) (string, error) {
			events.add("send %s", req.Messages[0].Content)
			return "x", nil
		}),
		Writer:    host,
		BatchSize: 2,
		Progress:  p,
	}
	_, err := d.Run(context.Background(), baseConfig("out"), workOutcomes(4, "out"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
	for _, e := range events.snapshot() {
		if e == "send input r02" || e == "send input r03" {
			t.Fatalf("second batch must not start: %v", events.snapshot())
		}
	}
	for _, v := range seen {
		if v == 100 {
			t.Fatalf("progress reached 100 on a failed run: %v", seen)
		}
	}
	if p.Value() != 0 || seen[len(seen)-1] != 0 {
		t.Fatalf("progress not reset: %v", seen)
	}
}

func TestCancellationStopsWithoutWriting(t *testing.T) {
	host := newHost(t, 3, "out")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{}, 3)
	d := &Dispatcher{
		Sender: senderFunc(func(ctx context.Context, _ provider.Request) (string, error) {
			started <- struct{}{}
			<-ctx.Done()
			return "", ctx.Err()
		}),
		Writer:    host,
		BatchSize: 1,
	}
	go func() {
		<-started
		cancel()
	}()
	_, err := d.Run(ctx, baseConfig("out"), workOutcomes(3, "out"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := len(host.Updates()); n != 0 {
		t.Fatalf("expected no writes, got %d", n)
	}
}

func TestOnRowCallback(t *testing.T) {
	host := newHost(t, 2, "out")
	var mu sync.Mutex
	var got []string
	d := &Dispatcher{
		Sender: senderFunc(func(context.Context, provider.Request) (string, error) { return "x", nil }),
		Writer: host,
		OnRow: func(r RowResult) {
			mu.Lock()
			got = append(got, r.RecordID)
			mu.Unlock()
		},
	}
	if _, err := d.Run(context.Background(), baseConfig("out"), workOutcomes(2, "out")); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("callbacks = %v", got)
	}
}
