// Package ratelimit wraps golang.org/x/time/rate.Limiter with vendor
// pushback and observability hooks: a blocking and a cooperative entry
// point sharing one admission path, a NotifyRetryAfter hard floor, and
// {provider,mode}-labeled metrics.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Limiter enforces a single vendor's requests-per-window budget. One
// instance is shared by every caller contending for that vendor's
// budget; FIFO admission order is native to rate.Limiter's internal
// reservation queue, so admission order equals arrival order.
type Limiter struct {
	provider string
	rl       *rate.Limiter
	metrics  *metrics
	log      *logrus.Entry

	// pushbackUntilNanos is the hard floor set by NotifyRetryAfter:
	// no admission is granted before this instant. Overlapping
	// pushbacks extend to the maximum deadline, never sum.
	pushbackUntilNanos int64
}

// New constructs a Limiter with the given token bucket capacity and
// refill rate (tokens/sec), labeled by provider for metrics and logging.
// reg may be nil to skip metrics registration (e.g. in tests).
func New(provider string, capacity int, refillRate float64, reg prometheus.Registerer, log *logrus.Entry) *Limiter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Limiter{
		provider: provider,
		rl:       rate.NewLimiter(rate.Limit(refillRate), capacity),
		metrics:  newMetrics(reg),
		log:      log.WithField("provider", provider),
	}
}

// NotifyRetryAfter drains the bucket and forces every caller, current and
// new, to wait at least d before the next admission. Overlapping
// pushbacks extend to the maximum deadline rather than summing.
func (l *Limiter) NotifyRetryAfter(d time.Duration) {
	if d <= 0 {
		return
	}
	// Consume whatever tokens are currently available. Without this the
	// bucket silently refills to full capacity while the floor runs and
	// the first callers after it expires are admitted as one burst;
	// drained, they resume at the refill rate.
	now := time.Now()
	if n := int(l.rl.Tokens()); n > 0 {
		l.rl.AllowN(now, n)
	}
	deadline := now.Add(d).UnixNano()
	for {
		cur := atomic.LoadInt64(&l.pushbackUntilNanos)
		if cur >= deadline {
			return
		}
		if atomic.CompareAndSwapInt64(&l.pushbackUntilNanos, cur, deadline) {
			l.metrics.observePushback(l.provider)
			l.log.WithError(&RateLimited{Provider: l.provider, RetryAfter: d}).Warn("ratelimit: vendor pushback applied")
			return
		}
	}
}

// Acquire blocks (the parallel-thread entry point) until a token is
// available or ctx's deadline expires.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.acquire(ctx, ModeSync)
}

// AcquireAsync is the cooperative entry point with equivalent semantics
// to Acquire, returning a channel closed once a token has been granted.
// It does not return until the underlying acquire has resolved, so the
// channel it hands back is closed at once or immediately after. The
// returned channel never sends a value, only closes; a non-nil error is
// returned if ctx is done before a token is granted, including when a
// pushback floor outlasts ctx's deadline (the error then arrives when the
// deadline expires).
func (l *Limiter) AcquireAsync(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.acquire(ctx, ModeAsync)
		close(ch)
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Limiter) acquire(ctx context.Context, mode string) error {
	start := time.Now()

	if floor := atomic.LoadInt64(&l.pushbackUntilNanos); floor > 0 {
		wait := time.Until(time.Unix(0, floor))
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				l.recordWait(mode, start)
				return l.timeoutOrCancel(ctx, mode)
			}
		}
	}

	if err := l.rl.Wait(ctx); err != nil {
		l.recordWait(mode, start)
		return l.timeoutOrCancel(ctx, mode)
	}

	l.recordWait(mode, start)
	l.metrics.observeAdmission(l.provider, mode)
	return nil
}

func (l *Limiter) recordWait(mode string, start time.Time) {
	l.metrics.observeWait(l.provider, mode, time.Since(start).Seconds())
}

// timeoutOrCancel maps a failed wait to the caller-visible error.
// rate.Limiter.Wait refuses up front when the needed wait would overrun
// the context deadline, before ctx.Err() is non-nil, so anything that is
// not an explicit cancellation counts as a deadline timeout.
func (l *Limiter) timeoutOrCancel(ctx context.Context, mode string) error {
	if err := ctx.Err(); err != nil && err != context.DeadlineExceeded {
		return err
	}
	return &TimeoutError{Provider: l.provider, Mode: mode}
}
