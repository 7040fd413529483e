package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/joeyda3rd/marketpipe/internal/aggregation"
	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/checkpoint"
	"github.com/joeyda3rd/marketpipe/internal/eventbus"
	"github.com/joeyda3rd/marketpipe/internal/jobstore"
	"github.com/joeyda3rd/marketpipe/internal/provider"
	"github.com/joeyda3rd/marketpipe/internal/provider/alpaca"
	"github.com/joeyda3rd/marketpipe/internal/query"
	"github.com/joeyda3rd/marketpipe/internal/provider/polygon"
	"github.com/joeyda3rd/marketpipe/internal/ratelimit"
	"github.com/joeyda3rd/marketpipe/internal/storage"
	"github.com/joeyda3rd/marketpipe/internal/validation"
)

// Registry is the single process-wide object: the
// event bus, the per-vendor rate limiters, the repository handles, the
// storage engine, and the private Prometheus registry every metric in
// this module is registered against. Nothing else in the codebase keeps
// package-level state; every other component takes these as constructor
// arguments.
type Registry struct {
	Config Config

	Bus         *eventbus.Bus
	Checkpoints checkpoint.Store
	Jobs        jobstore.Repository
	Storage     *storage.Engine
	Metrics     *prometheus.Registry
	Log         *logrus.Logger

	Validation  *validation.Engine
	Aggregation *aggregation.Engine
	Query       *query.Service

	limiters map[string]*ratelimit.Limiter

	closers []func(context.Context) error
}

// Init constructs every core collaborator from cfg, wires the
// validation-on-ingestion and aggregation-on-validation subscriptions
// exactly once, and returns the ready-to-use Registry. Nothing subscribes
// at import time; this is the sole wiring point.
func Init(ctx context.Context, cfg Config) (*Registry, error) {
	log := logrus.StandardLogger()
	metrics := prometheus.NewRegistry()
	bus := eventbus.New(log.WithField("component", "eventbus"))

	checkpoints, jobs, closers, err := openRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.DataDir,
		storage.WithLogger(log.WithField("component", "storage")),
		storage.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open storage engine: %w", err)
	}

	validationEngine := validation.New(store, jobs, cfg.ReportDir, validation.WithMetrics(metrics))
	aggregationEngine := aggregation.New(store, jobs, bus, log.WithField("component", "aggregation"))
	queryService := query.New(store, log.WithField("component", "query"))

	r := &Registry{
		Config:      cfg,
		Bus:         bus,
		Checkpoints: checkpoints,
		Jobs:        jobs,
		Storage:     store,
		Metrics:     metrics,
		Log:         log,
		Validation:  validationEngine,
		Aggregation: aggregationEngine,
		Query:       queryService,
		limiters:    make(map[string]*ratelimit.Limiter),
		closers:     closers,
	}

	r.wireHandlers()
	return r, nil
}

// openRepositories constructs the checkpoint/job backing named by
// cfg.DB, returning their shared close functions.
func openRepositories(ctx context.Context, cfg Config) (checkpoint.Store, jobstore.Repository, []func(context.Context) error, error) {
	switch cfg.DB {
	case "", "memory":
		return checkpoint.NewMemoryStore(), jobstore.NewMemoryRepository(), nil, nil

	case "postgres":
		cp, err := checkpoint.OpenPostgresStore(ctx, cfg.DBURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bootstrap: open postgres checkpoint store: %w", err)
		}
		js, err := jobstore.OpenPostgresRepository(ctx, cfg.DBURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bootstrap: open postgres job repository: %w", err)
		}
		return cp, js, []func(context.Context) error{
			func(context.Context) error { cp.Close(); return nil },
			func(context.Context) error { js.Close(); return nil },
		}, nil

	case "sqlite":
		cp, err := checkpoint.OpenSQLiteStore(ctx, cfg.MetricsDBPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bootstrap: open sqlite checkpoint store: %w", err)
		}
		js, err := jobstore.OpenSQLiteRepository(ctx, cfg.MetricsDBPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bootstrap: open sqlite job repository: %w", err)
		}
		return cp, js, []func(context.Context) error{
			func(context.Context) error { return cp.Close() },
			func(context.Context) error { return js.Close() },
		}, nil

	default:
		return nil, nil, nil, fmt.Errorf("bootstrap: unknown MP_DB backing %q", cfg.DB)
	}
}

// wireHandlers subscribes the validation handler to IngestionJobCompleted
// and the aggregation handler to ValidationCompleted, exactly once —
// the ingestion->validation->aggregation control flow. Both
// handlers run inline on the publisher's goroutine, so they stay
// non-blocking by doing nothing but one bounded disk read/write per job.
func (r *Registry) wireHandlers() {
	r.Bus.Subscribe(eventbus.TypeIngestionJobCompleted, func(evt eventbus.Event) {
		e := evt.(eventbus.IngestionJobCompleted)
		jobID := bar.ParseIngestionJobId(e.JobID)

		summary, err := r.Validation.ValidateJob(context.Background(), jobID)
		if err != nil {
			r.Bus.Publish(eventbus.ValidationFailed{
				Envelope: eventbus.NewEnvelope(e.JobID+"-validation-failed", e.JobID, e.OccurredAt),
				JobID:    e.JobID,
				Reason:   err.Error(),
			})
			return
		}
		r.Bus.Publish(eventbus.ValidationCompleted{
			Envelope: eventbus.NewEnvelope(e.JobID+"-validation-completed", e.JobID, e.OccurredAt),
			JobID:    e.JobID,
			Total:    summary.Total,
			Passed:   summary.Passed,
			Failed:   summary.Total - summary.Passed,
		})
	})

	r.Bus.Subscribe(eventbus.TypeValidationCompleted, func(evt eventbus.Event) {
		e := evt.(eventbus.ValidationCompleted)
		jobID := bar.ParseIngestionJobId(e.JobID)
		if _, err := r.Aggregation.Aggregate(context.Background(), jobID); err != nil {
			r.Log.WithError(err).WithField("job_id", e.JobID).Error("bootstrap: aggregation handler failed")
		}
	})
}

// VendorLimiter returns the shared ratelimit.Limiter for vendor, constructing
// it from hint on first use. A vendor's limiter is shared by every
// worker contending for that vendor's budget, so this
// must only ever be called through the Registry, never constructed ad
// hoc per worker.
func (r *Registry) VendorLimiter(vendor string, hint provider.RateLimitHint) *ratelimit.Limiter {
	if l, ok := r.limiters[vendor]; ok {
		return l
	}
	l := ratelimit.New(vendor, hint.Capacity, hint.RefillRate, r.Metrics, r.Log.WithField("component", "ratelimit"))
	r.limiters[vendor] = l
	return l
}

// Provider constructs the configured vendor's provider.Provider, sharing
// that vendor's Registry-owned rate limiter.
func (r *Registry) Provider() (provider.Provider, error) {
	switch r.Config.Vendor {
	case "alpaca":
		limiter := r.VendorLimiter("alpaca", alpaca.New().RateLimitHint())
		return alpaca.NewClient(limiter, r.Log.WithField("component", "provider"), r.Metrics), nil
	case "polygon":
		limiter := r.VendorLimiter("polygon", polygon.New().RateLimitHint())
		return polygon.NewClient(limiter, r.Log.WithField("component", "provider"), r.Metrics), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown vendor %q", r.Config.Vendor)
	}
}

// Close marks the event bus closed (no further Publish calls reach any
// handler) and then closes every repository connection Init opened.
// Storage partition writes are already synchronous, so there is nothing
// else to drain.
func (r *Registry) Close(ctx context.Context) error {
	r.Bus.Close()
	for _, closeFn := range r.closers {
		if err := closeFn(ctx); err != nil {
			return err
		}
	}
	return nil
}
