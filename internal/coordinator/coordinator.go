// Package coordinator fans out one worker per (symbol, trading_date)
// pair, each running an IngestionJob to completion against a single
// vendor Provider, honoring that vendor's rate budget and persisting
// checkpoints as it goes. A worker's failure never aborts its siblings.
package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/checkpoint"
	"github.com/joeyda3rd/marketpipe/internal/eventbus"
	"github.com/joeyda3rd/marketpipe/internal/job"
	"github.com/joeyda3rd/marketpipe/internal/jobstore"
	"github.com/joeyda3rd/marketpipe/internal/provider"
	"github.com/joeyda3rd/marketpipe/internal/storage"
)

// Config bounds one Coordinator's worker pool and backpressure policy.
type Config struct {
	// MaxWorkers is the hard concurrency ceiling for one ExecuteJob call.
	MaxWorkers int
	// MinWorkers is the floor backpressure will never reduce concurrency
	// below.
	MinWorkers int
	// WaitThreshold is the per-worker fetch duration above which the
	// coordinator treats the vendor as rate-constrained and proactively
	// retires a worker slot for subsequent launches.
	WaitThreshold time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.MinWorkers <= 0 {
		c.MinWorkers = 1
	}
	if c.MinWorkers > c.MaxWorkers {
		c.MinWorkers = c.MaxWorkers
	}
	if c.WaitThreshold <= 0 {
		c.WaitThreshold = 5 * time.Second
	}
}

// JobResult reports one (symbol, date) job's terminal outcome.
type JobResult struct {
	JobID    bar.IngestionJobId
	Symbol   bar.Symbol
	Date     bar.TradingDate
	State    job.State
	BarCount int
	Error    string
}

// BatchResult is the outcome of one ExecuteJob call.
type BatchResult struct {
	Results []JobResult
}

// Completed returns the subset of results that reached StateCompleted.
func (r BatchResult) Completed() []JobResult {
	var out []JobResult
	for _, jr := range r.Results {
		if jr.State == job.StateCompleted {
			out = append(out, jr)
		}
	}
	return out
}

// Failed returns the subset of results that reached StateFailed.
func (r BatchResult) Failed() []JobResult {
	var out []JobResult
	for _, jr := range r.Results {
		if jr.State == job.StateFailed {
			out = append(out, jr)
		}
	}
	return out
}

// Coordinator orchestrates ingestion for a batch of (symbol, date) pairs
// against a single vendor Provider.
type Coordinator struct {
	storage     *storage.Engine
	jobs        jobstore.Repository
	checkpoints checkpoint.Store
	bus         *eventbus.Bus
	provider    provider.Provider
	cfg         Config
	log         *logrus.Entry
}

// New constructs a Coordinator. bus may be nil to skip event
// publication (e.g. in tests that only assert on the returned
// BatchResult).
func New(store *storage.Engine, jobs jobstore.Repository, checkpoints checkpoint.Store, bus *eventbus.Bus, prov provider.Provider, cfg Config, log *logrus.Entry) *Coordinator {
	cfg.setDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		storage:     store,
		jobs:        jobs,
		checkpoints: checkpoints,
		bus:         bus,
		provider:    prov,
		cfg:         cfg,
		log:         log,
	}
}

// ExecuteJob constructs one pending IngestionJob per (symbol, date) pair,
// then runs each to completion under a bounded worker pool. A worker's
// failure never aborts its siblings; cancelling
// ctx aborts the launch of any job not yet started and propagates
// cooperatively into in-flight workers, which persist a failed{cancelled}
// terminal state before returning rather than leaving a job in_progress.
func (c *Coordinator) ExecuteJob(ctx context.Context, symbols []bar.Symbol, dates []bar.TradingDate) (BatchResult, error) {
	var jobs []job.IngestionJob
	for _, sym := range symbols {
		for _, date := range dates {
			r, err := bar.NewTimeRange(date.StartOfDay(), date.EndOfDay())
			if err != nil {
				return BatchResult{}, fmt.Errorf("coordinator: build range for %s/%s: %w", sym.String(), date.String(), err)
			}
			j := job.New(sym, date, r)
			if _, err := c.jobs.Save(ctx, &j, j.Version-1); err != nil {
				return BatchResult{}, fmt.Errorf("coordinator: persist pending job %s: %w", j.ID.String(), err)
			}
			jobs = append(jobs, j)
		}
	}

	results := make([]JobResult, len(jobs))

	sem := make(chan struct{}, c.cfg.MaxWorkers)
	for i := 0; i < c.cfg.MaxWorkers; i++ {
		sem <- struct{}{}
	}
	var retired int32 // slots permanently withheld by backpressure, bounded by MaxWorkers-MinWorkers

	g, gctx := errgroup.WithContext(ctx)

	for i := range jobs {
		i := i
		j := jobs[i]

		if gctx.Err() != nil {
			c.markCancelled(&j, &results[i])
			continue
		}

		select {
		case <-sem:
		case <-gctx.Done():
			c.markCancelled(&j, &results[i])
			continue
		}

		g.Go(func() error {
			defer c.release(sem, &retired)
			waited := c.runWorker(gctx, &j, &results[i])
			if waited > c.cfg.WaitThreshold {
				c.engageBackpressure(&retired)
			}
			return nil
		})
	}
	_ = g.Wait()

	return BatchResult{Results: results}, nil
}

// release returns a worker's semaphore slot to the pool, unless
// backpressure has marked a slot for permanent retirement this batch.
func (c *Coordinator) release(sem chan struct{}, retired *int32) {
	for {
		r := atomic.LoadInt32(retired)
		if r <= 0 {
			sem <- struct{}{}
			return
		}
		if atomic.CompareAndSwapInt32(retired, r, r-1) {
			return
		}
	}
}

// engageBackpressure permanently withholds one concurrency slot for the
// remainder of this batch, down to c.cfg.MinWorkers, when a worker's
// fetch call took long enough to suggest the vendor is rate-constrained.
func (c *Coordinator) engageBackpressure(retired *int32) {
	for {
		r := atomic.LoadInt32(retired)
		active := c.cfg.MaxWorkers - int(r)
		if active <= c.cfg.MinWorkers {
			return
		}
		if atomic.CompareAndSwapInt32(retired, r, r+1) {
			c.log.WithField("active_workers", active-1).Warn("coordinator: backpressure engaged, reducing concurrency")
			return
		}
	}
}

// runWorker drives one job from in_progress through its terminal state,
// returning the FetchBars call's wall-clock duration for the caller's
// backpressure decision.
func (c *Coordinator) runWorker(ctx context.Context, j *job.IngestionJob, out *JobResult) time.Duration {
	*out = JobResult{JobID: j.ID, Symbol: j.Symbol, Date: j.TradingDate}

	if err := j.Start(timeNow()); err != nil {
		c.finishFailed(ctx, j, out, fmt.Sprintf("start: %v", err))
		return 0
	}
	if _, err := c.jobs.Save(ctx, j, j.Version-1); err != nil {
		c.finishFailed(ctx, j, out, fmt.Sprintf("persist start: %v", err))
		return 0
	}

	startNanos, err := checkpoint.EffectiveStart(ctx, c.checkpoints, j.Symbol, j.Range.Start.UnixNano())
	if err != nil {
		c.finishFailed(ctx, j, out, fmt.Sprintf("load checkpoint: %v", err))
		return 0
	}
	if startNanos >= j.Range.End.UnixNano() {
		c.finishCompleted(ctx, j, out, 0)
		return 0
	}
	effectiveRange, err := bar.NewTimeRange(bar.TimestampFromNanos(startNanos), j.Range.End)
	if err != nil {
		c.finishFailed(ctx, j, out, fmt.Sprintf("effective range: %v", err))
		return 0
	}

	fetchStart := timeNow()
	bars, err := c.provider.FetchBars(ctx, j.Symbol, effectiveRange)
	waited := timeNow().Sub(fetchStart)
	if err != nil {
		if ctx.Err() != nil {
			c.markCancelled(j, out)
			return waited
		}
		c.finishFailed(ctx, j, out, fmt.Sprintf("fetch_bars: %v", err))
		return waited
	}

	if len(bars) > 0 {
		key := storage.PartitionKey{Frame: bar.Frame1m, Symbol: j.Symbol, Date: j.TradingDate}
		if _, err := c.storage.Write(ctx, key, j.ID.String(), bars); err != nil {
			c.finishFailed(ctx, j, out, fmt.Sprintf("storage write: %v", err))
			return waited
		}
		maxTs := bars[0].Timestamp()
		for _, b := range bars[1:] {
			if b.Timestamp().After(maxTs) {
				maxTs = b.Timestamp()
			}
		}
		if err := c.checkpoints.Set(ctx, j.Symbol, maxTs.UnixNano()); err != nil {
			c.finishFailed(ctx, j, out, fmt.Sprintf("checkpoint: %v", err))
			return waited
		}
	}

	if ctx.Err() != nil {
		c.markCancelled(j, out)
		return waited
	}

	c.finishCompleted(ctx, j, out, len(bars))
	return waited
}

func (c *Coordinator) finishCompleted(ctx context.Context, j *job.IngestionJob, out *JobResult, barCount int) {
	if err := j.Complete(timeNow(), barCount); err != nil {
		c.finishFailed(ctx, j, out, fmt.Sprintf("complete: %v", err))
		return
	}
	if _, err := c.jobs.Save(ctx, j, j.Version-1); err != nil {
		c.finishFailed(ctx, j, out, fmt.Sprintf("persist completion: %v", err))
		return
	}
	out.State = job.StateCompleted
	out.BarCount = barCount
	c.log.WithFields(logrus.Fields{"job_id": j.ID.String(), "bar_count": barCount}).Info("coordinator: job completed")
	if c.bus != nil {
		c.bus.Publish(eventbus.IngestionJobCompleted{
			Envelope: eventbus.NewEnvelope(j.ID.String()+"-completed", j.ID.String(), timeNow()),
			JobID:    j.ID.String(),
			Symbols:  []string{j.Symbol.String()},
			BarCount: barCount,
		})
	}
}

// finishFailed persists j's failed state on a detached context, so a
// cancelled ctx never prevents recording the terminal state itself; a
// cancelled worker must not leave a job stuck in_progress.
func (c *Coordinator) finishFailed(ctx context.Context, j *job.IngestionJob, out *JobResult, reason string) {
	persistCtx := context.WithoutCancel(ctx)
	if err := j.Fail(timeNow(), reason); err != nil {
		c.log.WithError(err).Error("coordinator: invalid fail transition")
	} else if _, err := c.jobs.Save(persistCtx, j, j.Version-1); err != nil {
		c.log.WithError(err).Error("coordinator: persist failed job")
	}
	out.State = job.StateFailed
	out.Error = reason
	c.log.WithFields(logrus.Fields{"job_id": j.ID.String(), "reason": reason}).Warn("coordinator: job failed")
	if c.bus != nil {
		c.bus.Publish(eventbus.IngestionJobFailed{
			Envelope: eventbus.NewEnvelope(j.ID.String()+"-failed", j.ID.String(), timeNow()),
			JobID:    j.ID.String(),
			Reason:   reason,
		})
	}
}

// markCancelled records reason=cancelled for a job that was either never
// launched (batch cancelled before its turn) or returned from a fetch
// already in flight when ctx was cancelled. It never uses ctx directly
// since ctx may already be done.
func (c *Coordinator) markCancelled(j *job.IngestionJob, out *JobResult) {
	c.finishFailed(context.Background(), j, out, "cancelled")
}

// timeNow is a seam so tests never depend on wall-clock time creeping
// into StartedAt/CompletedAt or an event's OccurredAt during comparisons.
var timeNow = func() time.Time { return time.Now().UTC() }
