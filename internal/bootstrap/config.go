// Package bootstrap is the one place the process wires every component
// together: the event bus, per-vendor rate limiters and providers, the
// checkpoint/job repositories, the storage engine, the Prometheus
// registry, and the logger. Settings come from bare
// os.Getenv-with-default reads; config-file loading belongs to the
// embedding process, so no file or flag library is wired here.
package bootstrap

import "os"

// Config is every environment-derived setting the registry needs to
// construct its dependencies.
type Config struct {
	// DB selects the checkpoint/job repository backing: "memory"
	// (default, no persistence across restarts), "postgres", or "sqlite".
	DB string
	// DBURL is the Postgres connection string, read when DB=postgres.
	DBURL string
	// DataDir is the storage engine's partition tree root.
	DataDir string
	// MetricsDBPath is the SQLite file checkpoints/jobs are persisted to
	// when DB=sqlite, kept distinct from DataDir so the small
	// metadata database can live on different storage than the bulk
	// columnar data.
	MetricsDBPath string
	// ReportDir is where the Validation Engine writes its per-(job,
	// symbol) CSV reports.
	ReportDir string
	// Vendor is which concrete provider adapter to construct: "alpaca"
	// or "polygon".
	Vendor string
	// MaxWorkers bounds the Ingestion Coordinator's worker pool.
	MaxWorkers int
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// LoadConfig reads every setting except MaxWorkers from its environment
// variable, falling back to a sane local default for each. MaxWorkers is
// not read from the environment; it is always 4.
func LoadConfig() Config {
	return Config{
		DB:            getenvDefault("MP_DB", "memory"),
		DBURL:         os.Getenv("MP_DB_URL"),
		DataDir:       getenvDefault("MP_DATA_DIR", "./data"),
		MetricsDBPath: getenvDefault("METRICS_DB_PATH", "./data/marketpipe.db"),
		ReportDir:     getenvDefault("MP_REPORT_DIR", "./data/reports"),
		Vendor:        getenvDefault("MP_VENDOR", "alpaca"),
		MaxWorkers:    4,
	}
}
