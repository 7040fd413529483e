// Package retention implements the age-based pruning sweep: delete
// partitions and job records older than a cutoff date. Carried as a
// plain library function rather than a standing service; a thin caller
// invokes Prune once and exits, the core never schedules its own sweeps.
package retention

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/eventbus"
	"github.com/joeyda3rd/marketpipe/internal/jobstore"
	"github.com/joeyda3rd/marketpipe/internal/storage"
)

// Result reports what one Prune call removed.
type Result struct {
	PartitionsDeleted int
	JobsDeleted       int
}

// Prune removes every storage partition and job record dated strictly
// before cutoff, publishing DataPruned once per data type removed.
// Checkpoints are deliberately left untouched: a checkpoint is a single
// per-symbol cursor with no trading-date of its own, so it carries no
// age to prune by (clearing it would only force a costly full re-ingest
// on the next run for no storage benefit).
func Prune(ctx context.Context, store *storage.Engine, jobs jobstore.Repository, bus *eventbus.Bus, cutoff bar.TradingDate, log *logrus.Entry) (Result, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	partitions, err := store.ListPartitions()
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, key := range partitions {
		if !key.Date.Before(cutoff) {
			continue
		}
		if err := store.DeletePartition(key); err != nil {
			return result, err
		}
		result.PartitionsDeleted++
	}

	jobsDeleted, err := jobs.DeleteBefore(ctx, cutoff)
	if err != nil {
		return result, err
	}
	result.JobsDeleted = jobsDeleted

	log.WithFields(logrus.Fields{
		"cutoff":             cutoff.String(),
		"partitions_deleted": result.PartitionsDeleted,
		"jobs_deleted":       result.JobsDeleted,
	}).Info("retention: prune complete")

	if bus != nil {
		now := timeNow()
		if result.PartitionsDeleted > 0 {
			bus.Publish(eventbus.DataPruned{
				Envelope: eventbus.NewEnvelope("prune-partitions-"+cutoff.String(), cutoff.String(), now),
				DataType: "partition",
				Amount:   result.PartitionsDeleted,
				Cutoff:   now,
			})
		}
		if result.JobsDeleted > 0 {
			bus.Publish(eventbus.DataPruned{
				Envelope: eventbus.NewEnvelope("prune-jobs-"+cutoff.String(), cutoff.String(), now),
				DataType: "job",
				Amount:   result.JobsDeleted,
				Cutoff:   now,
			})
		}
	}

	return result, nil
}

// timeNow is a seam so tests never depend on wall-clock time creeping
// into an event's OccurredAt/Cutoff during comparisons.
var timeNow = func() time.Time { return time.Now().UTC() }
