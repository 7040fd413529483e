// Package aggregation rolls a completed job's 1-minute partition up
// into the coarser 5m/15m/1h/1d frames and writes the results back
// through the Storage Engine. The rollup is a pure in-memory transform
// over an already-fetched batch; one trading day is ~390 bars per
// symbol, so no SQL engine is needed in-process.
package aggregation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/eventbus"
	"github.com/joeyda3rd/marketpipe/internal/jobstore"
	"github.com/joeyda3rd/marketpipe/internal/storage"
)

// Result reports the rows materialized per target frame for one job.
type Result struct {
	JobID         string
	FramesWritten map[bar.Frame]int
}

// Engine rolls a job's 1m partition up into bar.TargetFrames.
type Engine struct {
	storage *storage.Engine
	jobs    jobstore.Repository
	bus     *eventbus.Bus
	log     *logrus.Entry
}

// New constructs an aggregation Engine. bus may be nil in tests that
// don't care about event publication.
func New(store *storage.Engine, jobs jobstore.Repository, bus *eventbus.Bus, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{storage: store, jobs: jobs, bus: bus, log: log}
}

// Aggregate reads jobID's 1-minute partition, rolls it into every target
// frame, and writes each non-empty result back through the Storage
// Engine, publishing AggregationCompleted on success or AggregationFailed
// on failure.
func (e *Engine) Aggregate(ctx context.Context, jobID bar.IngestionJobId) (Result, error) {
	j, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		e.fail(jobID, fmt.Sprintf("load job: %v", err))
		return Result{}, fmt.Errorf("aggregation: load job %s: %w", jobID.String(), err)
	}

	dayRange, err := bar.NewTimeRange(j.TradingDate.StartOfDay(), j.TradingDate.EndOfDay())
	if err != nil {
		e.fail(jobID, fmt.Sprintf("derive day range: %v", err))
		return Result{}, fmt.Errorf("aggregation: derive day range for %s: %w", jobID.String(), err)
	}

	oneMinBars, err := e.storage.Read(ctx, bar.Frame1m, j.Symbol, dayRange)
	if err != nil {
		e.fail(jobID, fmt.Sprintf("read 1m partition: %v", err))
		return Result{}, fmt.Errorf("aggregation: read 1m partition for %s: %w", jobID.String(), err)
	}

	result := Result{JobID: jobID.String(), FramesWritten: make(map[bar.Frame]int)}
	var frameNames []string

	for _, frame := range bar.TargetFrames {
		aggBars, err := RollupFrame(oneMinBars, frame)
		if err != nil {
			e.fail(jobID, fmt.Sprintf("rollup %s: %v", frame, err))
			return Result{}, fmt.Errorf("aggregation: rollup %s for %s: %w", frame, jobID.String(), err)
		}
		if len(aggBars) == 0 {
			continue
		}

		byDate := groupByDate(aggBars)
		written := 0
		for date, rows := range byDate {
			key := storage.PartitionKey{Frame: frame, Symbol: j.Symbol, Date: date}
			if _, err := e.storage.Write(ctx, key, jobID.String(), rows); err != nil {
				e.fail(jobID, fmt.Sprintf("write %s: %v", frame, err))
				return Result{}, fmt.Errorf("aggregation: write %s partition for %s: %w", frame, jobID.String(), err)
			}
			written += len(rows)
		}
		result.FramesWritten[frame] = written
		frameNames = append(frameNames, string(frame))
	}

	if e.bus != nil {
		e.bus.Publish(eventbus.AggregationCompleted{
			Envelope: eventbus.NewEnvelope(jobID.String()+"-agg", jobID.String(), timeNow()),
			JobID:    jobID.String(),
			Frames:   frameNames,
		})
	}

	e.log.WithFields(logrus.Fields{"job_id": jobID.String(), "frames": frameNames}).Info("aggregation: job aggregated")
	return result, nil
}

func (e *Engine) fail(jobID bar.IngestionJobId, reason string) {
	e.log.WithFields(logrus.Fields{"job_id": jobID.String(), "reason": reason}).Error("aggregation: job failed")
	if e.bus != nil {
		e.bus.Publish(eventbus.AggregationFailed{
			Envelope: eventbus.NewEnvelope(jobID.String()+"-agg-failed", jobID.String(), timeNow()),
			JobID:    jobID.String(),
			Reason:   reason,
		})
	}
}

// RollupFrame buckets 1-minute bars by (symbol, BucketStart(frame)) and
// emits one rolled-up bar per non-empty bucket. Input need not be
// pre-sorted; output is sorted by (symbol, bucket_start).
func RollupFrame(oneMin []bar.OHLCVBar, frame bar.Frame) ([]bar.OHLCVBar, error) {
	type bucketKey struct {
		symbol string
		start  int64
	}
	buckets := make(map[bucketKey][]bar.OHLCVBar)
	var keys []bucketKey

	for _, b := range oneMin {
		start := frame.BucketStart(b.Timestamp()).UnixNano()
		k := bucketKey{symbol: b.Symbol().String(), start: start}
		if _, ok := buckets[k]; !ok {
			keys = append(keys, k)
		}
		buckets[k] = append(buckets[k], b)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].start < keys[j].start
	})

	out := make([]bar.OHLCVBar, 0, len(keys))
	for _, k := range keys {
		rows := buckets[k]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp().Before(rows[j].Timestamp()) })
		agg, err := rollupBucket(rows, frame)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

// rollupBucket computes one aggregated bar from the 1-minute bars
// belonging to a single (symbol, bucket) group, already sorted by
// timestamp ascending.
func rollupBucket(rows []bar.OHLCVBar, frame bar.Frame) (bar.OHLCVBar, error) {
	first := rows[0]
	last := rows[len(rows)-1]

	high := first.High()
	low := first.Low()
	volume := bar.Volume{}
	var tradeCount *int64
	tradeCountKnown := true
	vwapNumerator := bar.ZeroPrice()
	anyVWAPMissing := false

	for _, r := range rows {
		if r.High().Cmp(high) > 0 {
			high = r.High()
		}
		if r.Low().Cmp(low) < 0 {
			low = r.Low()
		}
		volume = volume.Add(r.Volume())

		if r.TradeCount() == nil {
			tradeCountKnown = false
		} else if tradeCountKnown {
			v := r.TradeCount()
			if tradeCount == nil {
				sum := *v
				tradeCount = &sum
			} else {
				sum := *tradeCount + *v
				tradeCount = &sum
			}
		}

		if r.VWAP() == nil {
			anyVWAPMissing = true
		} else if !anyVWAPMissing {
			vwapNumerator = vwapNumerator.Add(r.VWAP().Mul(bar.PriceFromVolume(r.Volume())))
		}
	}
	if !tradeCountKnown {
		tradeCount = nil
	}

	var vwap *bar.Price
	if !anyVWAPMissing && !volume.IsZero() {
		v := vwapNumerator.DivInt64(int64(volume.Uint64()))
		vwap = &v
	}

	bucketStart := frame.BucketStart(first.Timestamp())

	agg, err := bar.NewOHLCVBar(bar.NewBarParams{
		Symbol:     first.Symbol(),
		Timestamp:  bucketStart,
		Open:       first.Open(),
		High:       high,
		Low:        low,
		Close:      last.Close(),
		Volume:     volume,
		TradeCount: tradeCount,
		VWAP:       vwap,
		Session:    first.Session(),
		Currency:   first.Currency(),
		Source:     first.Source(),
		Frame:      frame,
	})
	if err != nil {
		return bar.OHLCVBar{}, fmt.Errorf("aggregation: rollup bucket: %w", err)
	}
	return agg, nil
}

func groupByDate(bars []bar.OHLCVBar) map[bar.TradingDate][]bar.OHLCVBar {
	out := make(map[bar.TradingDate][]bar.OHLCVBar)
	for _, b := range bars {
		out[b.Date()] = append(out[b.Date()], b)
	}
	return out
}

// timeNow is a seam so tests never depend on wall-clock time creeping
// into an event's OccurredAt during comparisons.
var timeNow = func() time.Time { return time.Now().UTC() }
