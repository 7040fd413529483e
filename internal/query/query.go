// Package query is the analytic read surface over the partition tree: a
// lazy row loader plus a refreshable logical-view registration hook an
// external SQL engine calls. The storage layer guarantees only the
// Hive-style layout and the canonical column schema; any engine that can
// read Parquet with partition pushdown on (frame, symbol, date) can
// serve queries, and this package is the in-process convenience path.
package query

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/storage"
)

// Service exposes the query operations an external CLI or SQL engine
// invokes: Load for row streaming, RegisterViews for logical views, and
// Partitions/Integrity/Stats for tree inspection.
type Service struct {
	store *storage.Engine
	log   *logrus.Entry
}

// New constructs a query Service over the given storage engine.
func New(store *storage.Engine, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{store: store, log: log}
}

// Load streams every bar for symbol within [r.Start, r.End) at the given
// frame. Partitions are read one trading day at a time as the caller
// advances, so a multi-month range never loads the whole result into
// memory up front.
func (s *Service) Load(ctx context.Context, frame bar.Frame, symbol bar.Symbol, r bar.TimeRange) *Rows {
	return &Rows{
		ctx:    ctx,
		store:  s.store,
		frame:  frame,
		symbol: symbol,
		r:      r,
		day:    r.Start.Date(),
		last:   bar.TimestampFromNanos(r.End.UnixNano() - 1).Date(),
	}
}

// Partitions lists every materialized (frame, symbol, date) key.
func (s *Service) Partitions() ([]storage.PartitionKey, error) {
	return s.store.ListPartitions()
}

// Integrity reports row count and timestamp bounds for one partition.
func (s *Service) Integrity(key storage.PartitionKey) (storage.PartitionStats, error) {
	return s.store.ValidateIntegrity(key)
}

// Stats reports partition, file, and byte totals for the whole tree.
func (s *Service) Stats() (storage.EngineStats, error) {
	return s.store.Stats()
}

// Rows is a lazy cursor over the bars Load matched. Callers loop
// Next/Bar and then check Err, the database/sql iteration shape.
type Rows struct {
	ctx    context.Context
	store  *storage.Engine
	frame  bar.Frame
	symbol bar.Symbol
	r      bar.TimeRange

	day  bar.TradingDate
	last bar.TradingDate
	done bool

	buf []bar.OHLCVBar
	idx int
	cur bar.OHLCVBar
	err error
}

// Next advances the cursor, reading the next trading day's partition
// when the current buffer is exhausted. It returns false at the end of
// the range or on the first error.
func (rw *Rows) Next() bool {
	if rw.err != nil {
		return false
	}
	for rw.idx >= len(rw.buf) {
		if rw.done {
			return false
		}
		if err := rw.ctx.Err(); err != nil {
			rw.err = err
			return false
		}
		if err := rw.loadDay(); err != nil {
			rw.err = err
			return false
		}
	}
	rw.cur = rw.buf[rw.idx]
	rw.idx++
	return true
}

// loadDay reads the current day's slice of the requested range into the
// buffer and advances the day cursor.
func (rw *Rows) loadDay() error {
	lo := rw.day.StartOfDay()
	if rw.r.Start.After(lo) {
		lo = rw.r.Start
	}
	hi := rw.day.EndOfDay()
	if rw.r.End.Before(hi) {
		hi = rw.r.End
	}
	if rw.day.Equal(rw.last) {
		rw.done = true
	} else {
		rw.day = rw.day.EndOfDay().Date()
	}

	dayRange, err := bar.NewTimeRange(lo, hi)
	if err != nil {
		return fmt.Errorf("query: day range %s: %w", rw.day.String(), err)
	}
	bars, err := rw.store.Read(rw.ctx, rw.frame, rw.symbol, dayRange)
	if err != nil {
		return err
	}
	rw.buf = bars
	rw.idx = 0
	return nil
}

// Bar returns the row Next positioned the cursor on.
func (rw *Rows) Bar() bar.OHLCVBar { return rw.cur }

// Err returns the first error the cursor hit, if any.
func (rw *Rows) Err() error { return rw.err }

// ViewDef describes one logical view over the partition tree: a stable
// name and the file glob a SQL engine points its Parquet reader at.
// Partition key columns (frame, symbol, date) are recoverable from the
// Hive-style path segments by any engine with hive-partitioning support.
type ViewDef struct {
	Name     string
	Frame    bar.Frame
	PathGlob string
}

// ViewRegistrar is implemented by the embedding SQL engine. RegisterView
// must be idempotent: re-registering an existing name replaces it, which
// is what makes the hook refreshable after new partitions land.
type ViewRegistrar interface {
	RegisterView(ctx context.Context, view ViewDef) error
}

// RegisterViews registers one logical view per frame (bars_1m, bars_5m,
// ...) against reg. Safe to call again after ingestion or aggregation
// adds partitions; registrars replace views by name.
func (s *Service) RegisterViews(ctx context.Context, reg ViewRegistrar) error {
	for _, frame := range bar.AllFrames {
		view := ViewDef{
			Name:     "bars_" + string(frame),
			Frame:    frame,
			PathGlob: filepath.Join(s.store.Root(), "frame="+string(frame), "symbol=*", "date=*", "*.parquet"),
		}
		if err := reg.RegisterView(ctx, view); err != nil {
			return fmt.Errorf("query: register view %s: %w", view.Name, err)
		}
		s.log.WithField("view", view.Name).Debug("query: view registered")
	}
	return nil
}
