package report

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

func BuildMarkdown(r RunReport) string {
	status := "SUCCESS"
	if !r.Succeeded() {
		status = "FAILED"
	}
	var b strings.Builder
	b.WriteString("# Table Fill Run Report\n\n")
	b.WriteString(fmt.Sprintf("- Status: **%s**\n", status))
	b.WriteString(fmt.Sprintf("- Run ID: `%s`\n", r.RunID))
	b.WriteString(fmt.Sprintf("- Table: `%s`\n", r.Table))
	b.WriteString(fmt.Sprintf("- Provider / Model: `%s` / `%s`\n", r.Provider, r.Model))
	b.WriteString(fmt.Sprintf("- Mode: `%s`\n", r.Mode))
	if !r.StartedAt.IsZero() {
		b.WriteString(fmt.Sprintf("- Started: `%s`\n", r.StartedAt.UTC().Format(time.RFC3339)))
		b.WriteString(fmt.Sprintf("- Duration: `%s`\n", r.Duration().Round(time.Millisecond)))
	}
	if r.Error != "" {
		b.WriteString(fmt.Sprintf("- Error: %s\n", escape(r.Error)))
	}

	b.WriteString("\n## Totals\n\n")
	b.WriteString("| Rows | Processed | Written | Field Errors | Skipped |\n")
	b.WriteString("|---:|---:|---:|---:|---:|\n")
	b.WriteString(fmt.Sprintf("| %d | %d | %d | %d | %d |\n", r.TotalRows, r.Processed, r.Written, r.FieldErrors, totalSkipped(r.Skipped)))

	if len(r.Skipped) > 0 {
		b.WriteString("\n### Skipped\n\n")
		reasons := make([]string, 0, len(r.Skipped))
		for reason := range r.Skipped {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			b.WriteString(fmt.Sprintf("- %s: `%d`\n", reason, r.Skipped[reason]))
		}
	}

	if len(r.Rows) > 0 {
		b.WriteString("\n## Rows\n\n")
		b.WriteString("| Record | Status | Fields | Failed |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, row := range r.Rows {
			status := row.Status
			if row.SkipReason != "" {
				status += " (" + row.SkipReason + ")"
			}
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n", row.RecordID, status, list(row.Fields), list(row.FailedFields)))
		}
	}
	return b.String()
}

func WriteMarkdown(path string, r RunReport) error {
	return os.WriteFile(path, []byte(BuildMarkdown(r)), 0o644)
}

func totalSkipped(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return escape(strings.Join(items, ", "))
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
