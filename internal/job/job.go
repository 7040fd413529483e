// Package job implements the IngestionJob aggregate: the coordinator-scoped
// unit of work for one (symbol, trading_date), its state machine, and the
// optimistic-concurrency version token the repository layer persists it
// under.
package job

import (
	"time"

	"github.com/joeyda3rd/marketpipe/internal/bar"
)

// State is a position in IngestionJob's declared transition DAG:
// pending -> in_progress -> {completed, failed}.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// IngestionJob is the aggregate root coordinating ingestion for one symbol
// on one trading date. It never references OHLCVBar instances directly
// (only counts), keeping the aggregate boundary crisp.
type IngestionJob struct {
	ID          bar.IngestionJobId
	Symbol      bar.Symbol
	TradingDate bar.TradingDate
	Range       bar.TimeRange
	State       State
	BarCount    int
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Version     int64
}

// New constructs a job in the pending state with version 1.
func New(symbol bar.Symbol, date bar.TradingDate, r bar.TimeRange) IngestionJob {
	return IngestionJob{
		ID:          bar.NewIngestionJobId(symbol, date),
		Symbol:      symbol,
		TradingDate: date,
		Range:       r,
		State:       StatePending,
		Version:     1,
	}
}

const entityName = "IngestionJob"

// Start transitions pending -> in_progress.
func (j *IngestionJob) Start(now time.Time) error {
	if j.State != StatePending {
		return bar.NewInvariantViolation(entityName, "start_from_pending", "job must be pending to start")
	}
	j.State = StateInProgress
	j.StartedAt = &now
	j.Version++
	return nil
}

// Complete transitions in_progress -> completed, recording the bar count
// persisted for this job.
func (j *IngestionJob) Complete(now time.Time, barCount int) error {
	if j.State != StateInProgress {
		return bar.NewInvariantViolation(entityName, "complete_from_in_progress", "job must be in_progress to complete")
	}
	j.State = StateCompleted
	j.CompletedAt = &now
	j.BarCount = barCount
	j.Version++
	return nil
}

// Fail transitions in_progress -> failed, recording the terminal reason.
// A pending job may also fail directly (e.g. it was never picked up
// before the batch was cancelled).
func (j *IngestionJob) Fail(now time.Time, reason string) error {
	if j.State != StateInProgress && j.State != StatePending {
		return bar.NewInvariantViolation(entityName, "fail_from_active", "job must be pending or in_progress to fail")
	}
	j.State = StateFailed
	j.CompletedAt = &now
	j.Error = reason
	j.Version++
	return nil
}

// IsTerminal reports whether the job has reached completed or failed.
func (j *IngestionJob) IsTerminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}
