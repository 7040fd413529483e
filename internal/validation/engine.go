package validation

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/jobstore"
	"github.com/joeyda3rd/marketpipe/internal/storage"
)

// Summary is the result of validating one job's partitions.
type Summary struct {
	JobID        string
	Total        int
	Passed       int
	FailedByRule map[RuleID]int
	ReportPath   string
}

// Engine validates a job's 1-minute partition against the rule set and
// materializes a CSV failure report. It never deletes or mutates bars —
// validation only classifies.
type Engine struct {
	storage           *storage.Engine
	jobs              jobstore.Repository
	reportDir         string
	priceUpperBound   int64
	checkTradingHours bool
	log               *logrus.Entry
	metrics           *metrics
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithPriceUpperBound overrides DefaultPriceUpperBound for price_reasonableness.
func WithPriceUpperBound(bound int64) Option {
	return func(e *Engine) { e.priceUpperBound = bound }
}

// WithTradingHoursCheck enables the optional trading_hours rule.
func WithTradingHoursCheck(enabled bool) Option {
	return func(e *Engine) { e.checkTradingHours = enabled }
}

// WithLogger attaches a structured logger.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics registers the engine's per-rule failure counter against reg
// (the bootstrap registry's private *prometheus.Registry).
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = newMetrics(reg) }
}

// New constructs a validation Engine. reportDir is the directory CSV
// reports are written under, one file per (job_id, symbol).
func New(store *storage.Engine, jobs jobstore.Repository, reportDir string, opts ...Option) *Engine {
	e := &Engine{
		storage:         store,
		jobs:            jobs,
		reportDir:       reportDir,
		priceUpperBound: DefaultPriceUpperBound,
		log:             logrus.NewEntry(logrus.StandardLogger()),
		metrics:         newMetrics(nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateJob reads the 1-minute partition for jobID's (symbol, trading
// date), evaluates every rule in Rules against each bar, and writes a
// CSV report of the failing rows.
func (e *Engine) ValidateJob(ctx context.Context, jobID bar.IngestionJobId) (Summary, error) {
	j, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return Summary{}, fmt.Errorf("validation: load job %s: %w", jobID.String(), err)
	}

	bars, err := e.storage.Read(ctx, bar.Frame1m, j.Symbol, j.Range)
	if err != nil {
		return Summary{}, fmt.Errorf("validation: read partition for %s: %w", jobID.String(), err)
	}

	ruleCtx := RuleContext{
		Symbol:            j.Symbol,
		Date:              j.TradingDate,
		Frame:             bar.Frame1m,
		PriceUpperBound:   e.priceUpperBound,
		CheckTradingHours: e.checkTradingHours,
	}

	summary := Summary{JobID: jobID.String(), Total: len(bars), FailedByRule: make(map[RuleID]int)}
	report := Report{JobID: jobID.String(), Symbol: j.Symbol.String()}

	for _, b := range bars {
		passedAll := true
		for _, rule := range Rules {
			if rule.Check(b, ruleCtx) {
				continue
			}
			passedAll = false
			summary.FailedByRule[rule.ID]++
			e.metrics.observeFailure(rule.ID)
			report.Rows = append(report.Rows, ReportRow{
				Symbol:         b.Symbol().String(),
				TimestampNanos: b.Timestamp().UnixNano(),
				RuleID:         rule.ID,
			})
		}
		if passedAll {
			summary.Passed++
		}
	}

	path, err := report.WriteCSV(e.reportDir)
	if err != nil {
		return Summary{}, err
	}
	summary.ReportPath = path

	e.log.WithFields(logrus.Fields{
		"job_id": jobID.String(),
		"total":  summary.Total,
		"passed": summary.Passed,
	}).Info("validation: job validated")

	return summary, nil
}
