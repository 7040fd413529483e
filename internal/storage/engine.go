package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet"
	"github.com/apache/arrow/go/v15/parquet/file"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/joeyda3rd/marketpipe/internal/bar"
)

// PartitionKey identifies one Hive-style partition directory:
// frame=<frame>/symbol=<symbol>/date=<date>.
type PartitionKey struct {
	Frame  bar.Frame
	Symbol bar.Symbol
	Date   bar.TradingDate
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("frame=%s/symbol=%s/date=%s", k.Frame, k.Symbol.String(), k.Date.String())
}

func (k PartitionKey) dir(root string) string {
	return filepath.Join(root,
		"frame="+string(k.Frame),
		"symbol="+k.Symbol.String(),
		"date="+k.Date.String(),
	)
}

// PartitionStats summarizes one partition file for integrity checks and
// operator visibility.
type PartitionStats struct {
	Key       PartitionKey
	RowCount  int
	MinTS     bar.Timestamp
	MaxTS     bar.Timestamp
	Monotonic bool
}

// Engine is the columnar storage engine: one Hive-partitioned tree of
// Parquet files per (frame, symbol, date), with partition-exclusive
// locking and dedup-on-append.
type Engine struct {
	root    string
	codec   CodecMode
	mem     memory.Allocator
	log     *logrus.Entry
	metrics *metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures an Engine at Open time.
type Option func(*Engine)

// WithCodec overrides the default fast codec (e.g.
// WithCodec(CodecHighRatio) for smaller files at lower write throughput).
func WithCodec(mode CodecMode) Option {
	return func(e *Engine) { e.codec = mode }
}

// WithLogger attaches a structured logger.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics registers the engine's write/conflict counters against reg
// (the bootstrap registry's private *prometheus.Registry). Without this
// option the engine still tracks nothing; no metric falls back to the
// global default registry.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = newMetrics(reg) }
}

// Open prepares the storage engine rooted at dir, creating it if absent.
func Open(dir string, opts ...Option) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "open", Path: dir, Err: err}
	}
	e := &Engine{
		root:    dir,
		codec:   CodecFast,
		mem:     memory.NewGoAllocator(),
		log:     logrus.NewEntry(logrus.StandardLogger()),
		metrics: newMetrics(nil),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Root returns the partition tree's root directory, for readers that
// address files directly (external SQL engines, view registration).
func (e *Engine) Root() string { return e.root }

func (e *Engine) partitionLock(key PartitionKey) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := key.String()
	l, ok := e.locks[k]
	if !ok {
		l = &sync.Mutex{}
		e.locks[k] = l
	}
	return l
}

// Write appends bars to the partition identified by (frame, symbol, date),
// merging with any existing file, deduplicating by (symbol, timestamp)
// with first-write-wins, and replacing the file atomically. All bars must
// already belong to the same partition; Write returns an error otherwise.
func (e *Engine) Write(ctx context.Context, key PartitionKey, jobID string, bars []bar.OHLCVBar) (string, error) {
	for _, b := range bars {
		if b.Frame() != key.Frame || !b.Symbol().Equal(key.Symbol) || !b.Date().Equal(key.Date) {
			return "", &StorageError{Op: "write", Path: key.String(), Err: fmt.Errorf("bar %s/%s does not belong to partition", b.Symbol().String(), b.Timestamp().Time())}
		}
	}

	lock := e.partitionLock(key)
	lock.Lock()
	defer lock.Unlock()

	dir := key.dir(e.root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &StorageError{Op: "write", Path: dir, Err: err}
	}
	path := filepath.Join(dir, jobID+".parquet")

	merged := bars
	if _, err := os.Stat(path); err == nil {
		existing, err := e.readFile(path)
		if err != nil {
			return "", err
		}
		merged = append(append([]bar.OHLCVBar{}, existing...), bars...)
	} else if !os.IsNotExist(err) {
		return "", &StorageError{Op: "write", Path: path, Err: err}
	}
	beforeDedup := len(merged)
	merged = sortAndDedupBars(merged)

	tmp := path + ".tmp"
	if err := e.writeFile(tmp, merged); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", &StorageError{Op: "write", Path: path, Err: err}
	}
	e.metrics.observeWrite(string(key.Frame), beforeDedup-len(merged))
	return path, nil
}

func (e *Engine) writeFile(path string, bars []bar.OHLCVBar) error {
	f, err := os.Create(path)
	if err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	defer f.Close()

	rec := barsToRecord(e.mem, bars)
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(e.codec.compression()),
		parquet.WithMaxRowGroupLength(10_000),
	)
	fw, err := pqarrow.NewFileWriter(arrowSchema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := fw.Close(); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (e *Engine) readFile(path string) ([]bar.OHLCVBar, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, e.mem)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	table, err := fr.ReadTable(context.Background())
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	defer table.Release()

	var out []bar.OHLCVBar
	tr := array.NewTableReader(table, table.NumRows())
	defer tr.Release()
	for tr.Next() {
		out = append(out, recordToBars(tr.Record())...)
	}
	return out, nil
}

// Read loads every bar for symbol in [start, end) at the given frame,
// merged across partition files and deduplicated oldest-file-wins.
func (e *Engine) Read(ctx context.Context, frame bar.Frame, symbol bar.Symbol, r bar.TimeRange) ([]bar.OHLCVBar, error) {
	var out []bar.OHLCVBar
	lastDate := bar.TimestampFromNanos(r.End.UnixNano() - 1).Date()
	for d := r.Start.Date(); ; d = d.StartOfDay().Add(24 * time.Hour).Date() {
		key := PartitionKey{Frame: frame, Symbol: symbol, Date: d}
		bars, err := e.readPartition(key)
		if err != nil {
			return nil, err
		}
		out = append(out, bars...)
		if d.Equal(lastDate) {
			break
		}
	}

	filtered := out[:0]
	for _, b := range out {
		if !b.Timestamp().Before(r.Start) && b.Timestamp().Before(r.End) {
			filtered = append(filtered, b)
		}
	}
	filtered = sortAndDedupBars(filtered)
	return filtered, nil
}

// readPartition merges every job-scoped file under one partition directory,
// oldest file (by modification time) first, so sortAndDedupBars' "first
// occurrence wins" rule resolves cross-job collisions the same way it
// resolves within-call collisions.
func (e *Engine) readPartition(key PartitionKey) ([]bar.OHLCVBar, error) {
	paths, err := e.partitionFilePaths(key)
	if err != nil || len(paths) == 0 {
		return nil, err
	}
	var out []bar.OHLCVBar
	for _, p := range paths {
		bars, err := e.readFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, bars...)
	}
	return out, nil
}

// partitionFilePaths lists every job-scoped file within a partition
// directory, oldest-modified first, or nil if the partition has no data.
func (e *Engine) partitionFilePaths(key PartitionKey) ([]string, error) {
	dir := key.dir(e.root)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list_partition_files", Path: dir, Err: err}
	}
	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".parquet" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, &StorageError{Op: "list_partition_files", Path: dir, Err: err}
		}
		files = append(files, fileInfo{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.Before(files[j].modTime)
		}
		return files[i].path < files[j].path
	})
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}


// ListPartitions enumerates every materialized (frame, symbol, date) key.
func (e *Engine) ListPartitions() ([]PartitionKey, error) {
	var out []PartitionKey
	frameDirs, err := os.ReadDir(e.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list_partitions", Path: e.root, Err: err}
	}
	for _, fd := range frameDirs {
		frame, ok := parsePrefixed(fd.Name(), "frame=")
		if !ok {
			continue
		}
		symDirs, err := os.ReadDir(filepath.Join(e.root, fd.Name()))
		if err != nil {
			continue
		}
		for _, sd := range symDirs {
			symStr, ok := parsePrefixed(sd.Name(), "symbol=")
			if !ok {
				continue
			}
			dateDirs, err := os.ReadDir(filepath.Join(e.root, fd.Name(), sd.Name()))
			if err != nil {
				continue
			}
			for _, dd := range dateDirs {
				dateStr, ok := parsePrefixed(dd.Name(), "date=")
				if !ok {
					continue
				}
				symbol, err := bar.NewSymbol(symStr)
				if err != nil {
					continue
				}
				date, err := bar.NewTradingDate(dateStr)
				if err != nil {
					continue
				}
				out = append(out, PartitionKey{Frame: bar.Frame(frame), Symbol: symbol, Date: date})
			}
		}
	}
	return out, nil
}

func parsePrefixed(name, prefix string) (string, bool) {
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return "", false
	}
	return name[len(prefix):], true
}

// EngineStats summarizes the whole partition tree for diagnostics.
type EngineStats struct {
	Partitions int
	Files      int
	Bytes      int64
}

// Stats walks the partition tree and reports partition, file, and byte
// totals.
func (e *Engine) Stats() (EngineStats, error) {
	keys, err := e.ListPartitions()
	if err != nil {
		return EngineStats{}, err
	}
	stats := EngineStats{Partitions: len(keys)}
	for _, key := range keys {
		paths, err := e.partitionFilePaths(key)
		if err != nil {
			return EngineStats{}, err
		}
		for _, p := range paths {
			info, err := os.Stat(p)
			if err != nil {
				return EngineStats{}, &StorageError{Op: "stats", Path: p, Err: err}
			}
			stats.Files++
			stats.Bytes += info.Size()
		}
	}
	return stats, nil
}

// DeletePartition removes a partition directory entirely.
func (e *Engine) DeletePartition(key PartitionKey) error {
	lock := e.partitionLock(key)
	lock.Lock()
	defer lock.Unlock()
	dir := key.dir(e.root)
	if err := os.RemoveAll(dir); err != nil {
		return &StorageError{Op: "delete_partition", Path: dir, Err: err}
	}
	return nil
}

// ValidateIntegrity reports row count, min/max timestamp, and whether
// timestamps are strictly increasing for one partition.
func (e *Engine) ValidateIntegrity(key PartitionKey) (PartitionStats, error) {
	bars, err := e.readPartition(key)
	if err != nil {
		return PartitionStats{}, err
	}
	bars = sortAndDedupBars(bars)
	stats := PartitionStats{Key: key, RowCount: len(bars), Monotonic: true}
	if len(bars) == 0 {
		return stats, nil
	}
	stats.MinTS = bars[0].Timestamp()
	stats.MaxTS = bars[0].Timestamp()
	for i, b := range bars {
		if b.Timestamp().Before(stats.MinTS) {
			stats.MinTS = b.Timestamp()
		}
		if b.Timestamp().After(stats.MaxTS) {
			stats.MaxTS = b.Timestamp()
		}
		if i > 0 && !bars[i-1].Timestamp().Before(b.Timestamp()) {
			stats.Monotonic = false
		}
	}
	return stats, nil
}
