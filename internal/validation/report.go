package validation

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ReportRow is one rule failure: a bar that failed RuleID at TimestampNanos.
type ReportRow struct {
	Symbol         string
	TimestampNanos int64
	RuleID         RuleID
}

// Report is the ordered set of rule failures for one (job, symbol) pair,
// one (symbol, timestamp_ns, reason) row per failing check.
type Report struct {
	JobID  string
	Symbol string
	Rows   []ReportRow
}

// FileName is the canonical report filename: <job_id>_<symbol>.csv.
func (r Report) FileName() string {
	return fmt.Sprintf("%s_%s.csv", r.JobID, r.Symbol)
}

// WriteCSV persists the report under dir with atomic replace semantics:
// symbol, ts_ns, reason columns, UTF-8, LF line endings, no header.
func (r Report) WriteCSV(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("validation: create report dir: %w", err)
	}
	path := filepath.Join(dir, r.FileName())
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("validation: create report file: %w", err)
	}

	w := csv.NewWriter(f)
	w.UseCRLF = false
	for _, row := range r.Rows {
		record := []string{row.Symbol, strconv.FormatInt(row.TimestampNanos, 10), string(row.RuleID)}
		if err := w.Write(record); err != nil {
			f.Close()
			return "", fmt.Errorf("validation: write report row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", fmt.Errorf("validation: flush report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("validation: close report file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("validation: replace report file: %w", err)
	}
	return path, nil
}
