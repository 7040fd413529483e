// Package fakeprovider implements a deterministic provider.Provider for
// tests and local development: regular-session bar emission, Retry-After
// pushback, bad-row normalization failures, and persistent vendor errors
// can all be staged without an actual HTTP vendor.
package fakeprovider

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/provider"
	"github.com/joeyda3rd/marketpipe/internal/ratelimit"
)

// RowFault injects a single malformed row into an otherwise valid minute
// session, by minute offset from the session start.
type RowFault struct {
	MinuteOffset int
	BadHighLow   bool // high < low, fails ohlc_consistency / NormalizationError
}

// Provider emits regular-session 1-minute bars (09:30-16:00, 390 bars per
// trading day) for whichever symbols are configured, optionally failing a
// named symbol persistently, or a named symbol intermittently with
// Retry-After pushback on its first N calls.
type Provider struct {
	limiter *ratelimit.Limiter

	mu              sync.Mutex
	failSymbols     map[string]bool
	retryAfterCalls map[string]int // symbol -> calls remaining that return a pushback signal
	retryAfterSecs  int
	faults          map[string][]RowFault // symbol -> faults
	callCount       int64
}

// New constructs a fake provider sharing limiter (the same kind the
// bootstrap Registry builds for a real vendor), so rate-limiter
// behavior under concurrent fake-provider workers is exercised too.
func New(limiter *ratelimit.Limiter) *Provider {
	return &Provider{
		limiter:         limiter,
		failSymbols:     make(map[string]bool),
		retryAfterCalls: make(map[string]int),
		faults:          make(map[string][]RowFault),
	}
}

// FailPersistently configures symbol to always return a ProviderError,
// as a vendor stuck returning 500s would.
func (p *Provider) FailPersistently(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSymbols[symbol] = true
}

// RetryAfter configures symbol to signal a Retry-After pushback on its
// next n FetchBars calls before succeeding. seconds is forwarded to the
// shared rate limiter's NotifyRetryAfter.
func (p *Provider) RetryAfter(symbol string, n int, seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retryAfterCalls[symbol] = n
	p.retryAfterSecs = seconds
}

// InjectRowFault configures symbol's session to contain a malformed bar
// at the given minute offset; the bad row is skipped as a
// NormalizationError, sibling rows unaffected.
func (p *Provider) InjectRowFault(symbol string, fault RowFault) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[symbol] = append(p.faults[symbol], fault)
}

// CallCount reports how many times FetchBars has been invoked, for tests
// asserting retry/backoff behavior.
func (p *Provider) CallCount() int64 { return atomic.LoadInt64(&p.callCount) }

func (p *Provider) GetMetadata() provider.Metadata {
	return provider.Metadata{
		Name:                "fake",
		SupportedTimeframes: []bar.Frame{bar.Frame1m},
		RateLimitHint:       provider.RateLimitHint{Capacity: 5, RefillRate: 5},
	}
}

func (p *Provider) TestConnection(_ context.Context) (bool, error) { return true, nil }

// Minute-of-day bounds of the emitted regular session (09:30-16:00
// UTC-proxy, 390 bars per full trading day).
const (
	sessionOpenMinute  = 9*60 + 30
	sessionCloseMinute = 16 * 60
)

// FetchBars emits one bar per minute boundary where r intersects the
// regular session window, applying whatever fault/failure/pushback this
// symbol was configured with. Minutes outside the session are skipped,
// so a full-day range still yields 390 bars.
func (p *Provider) FetchBars(ctx context.Context, symbol bar.Symbol, r bar.TimeRange) ([]bar.OHLCVBar, error) {
	atomic.AddInt64(&p.callCount, 1)

	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	shouldFail := p.failSymbols[symbol.String()]
	remaining := p.retryAfterCalls[symbol.String()]
	secs := p.retryAfterSecs
	faults := append([]RowFault(nil), p.faults[symbol.String()]...)
	if remaining > 0 {
		p.retryAfterCalls[symbol.String()] = remaining - 1
	}
	p.mu.Unlock()

	if shouldFail {
		return nil, &provider.ProviderError{Vendor: "fake", StatusCode: 500, Msg: "persistent upstream failure"}
	}

	if remaining > 0 {
		if p.limiter != nil && secs > 0 {
			p.limiter.NotifyRetryAfter(time.Duration(secs) * time.Second)
		}
		return nil, &provider.ProviderError{Vendor: "fake", StatusCode: 429, Msg: "rate limited"}
	}

	faultByMinute := make(map[int]RowFault, len(faults))
	for _, f := range faults {
		faultByMinute[f.MinuteOffset] = f
	}

	var out []bar.OHLCVBar
	for ts := r.Start; ts.Before(r.End); ts = ts.Add(time.Minute) {
		minuteOfDay := int(ts.UnixNano() / bar.NanosPerMinute % (24 * 60))
		if minuteOfDay < sessionOpenMinute || minuteOfDay >= sessionCloseMinute {
			continue
		}
		f, faulted := faultByMinute[minuteOfDay-sessionOpenMinute]

		open, _ := bar.NewPriceFromString("100.0000", false)
		high, _ := bar.NewPriceFromString("101.0000", false)
		low, _ := bar.NewPriceFromString("99.0000", false)
		cls, _ := bar.NewPriceFromString("100.5000", false)
		vol, _ := bar.NewVolume(1000)

		if faulted && f.BadHighLow {
			high, low = low, high // high < low: NormalizationError, row dropped
		}

		b, err := bar.NewOHLCVBar(bar.NewBarParams{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
			Volume:    vol,
			Frame:     bar.Frame1m,
			Source:    "fake",
		})
		if err != nil {
			// Normalization failure: skip-with-report, sibling rows proceed.
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

