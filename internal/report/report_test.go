package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleReport() RunReport {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return RunReport{
		RunID:       "6f1c2d1e-0000-4000-8000-000000000001",
		Table:       "tblArticles",
		Provider:    "openrouter",
		Model:       "openai/gpt-4o-mini",
		Mode:        "separated",
		StartedAt:   start,
		FinishedAt:  start.Add(1500 * time.Millisecond),
		TotalRows:   3,
		Processed:   1,
		Written:     1,
		FieldErrors: 1,
		Skipped:     map[string]int{"empty_input": 1, "already_filled": 1},
		Rows: []RowOutcome{
			{RecordID: "rec1", Status: RowWritten, Fields: []string{"Summary", "Tags"}, FailedFields: []string{"Tags"}},
			{RecordID: "rec2", Status: RowSkipped, SkipReason: "empty_input"},
			{RecordID: "rec3", Status: RowSkipped, SkipReason: "already_filled"},
		},
	}
}

func TestBuildMarkdown_Success(t *testing.T) {
	md := BuildMarkdown(sampleReport())
	for _, want := range []string{
		"# Table Fill Run Report",
		"Status: **SUCCESS**",
		"Provider / Model: `openrouter` / `openai/gpt-4o-mini`",
		"Duration: `1.5s`",
		"| 3 | 1 | 1 | 1 | 2 |",
		"- already_filled: `1`",
		"| rec1 | written | Summary, Tags | Tags |",
		"| rec2 | skipped (empty_input) | - | - |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
	if strings.Index(md, "already_filled") > strings.Index(md, "- empty_input") {
		t.Error("skip reasons should be sorted")
	}
}

func TestBuildMarkdown_Failure(t *testing.T) {
	r := sampleReport()
	r.Error = "run failed: write record rec1: a|b"
	md := BuildMarkdown(r)
	if !strings.Contains(md, "Status: **FAILED**") {
		t.Error("missing FAILED status")
	}
	if !strings.Contains(md, `a\|b`) {
		t.Error("pipe characters must be escaped")
	}
}

func TestBuildMarkdown_Empty(t *testing.T) {
	md := BuildMarkdown(RunReport{})
	if strings.Contains(md, "## Rows") || strings.Contains(md, "Started:") {
		t.Errorf("empty report should omit rows and timing:\n%s", md)
	}
}

func TestWriteAndReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	if err := WriteJSON(path, sampleReport()); err != nil {
		t.Fatal(err)
	}
	got, err := ReadJSON(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != sampleReport().RunID || len(got.Rows) != 3 || got.Skipped["empty_input"] != 1 {
		t.Fatalf("unexpected report %+v", got)
	}
	if got.Duration() != 1500*time.Millisecond {
		t.Fatalf("duration = %v", got.Duration())
	}
}

func TestReadJSONErrors(t *testing.T) {
	if _, err := ReadJSON(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadJSON(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWriteMarkdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.md")
	if err := WriteMarkdown(path, sampleReport()); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), "# Table Fill Run Report") {
		t.Fatal("unexpected markdown content")
	}
}
