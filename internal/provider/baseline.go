package provider

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/ratelimit"
)

// retryableStatuses are the HTTP codes the baseline retries regardless of
// the adapter's own ShouldRetry policy.
var retryableStatuses = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}

const (
	backoffBase    = 1.5
	maxAttempts    = 6
	requestTimeout = 15 * time.Second
)

type restyAuthCarrier struct{ req *resty.Request }

func (c restyAuthCarrier) SetHeader(key, value string) AuthCarrier {
	c.req.SetHeader(key, value)
	return c
}

func (c restyAuthCarrier) SetQueryParam(key, value string) AuthCarrier {
	c.req.SetQueryParam(key, value)
	return c
}

// BaselineClient implements Provider's shared HTTP behavior: pagination,
// retry with jittered backoff, rate limiting, and normalization into
// bar.OHLCVBar, delegating vendor-specific framing to a VendorAdapter.
type BaselineClient struct {
	adapter VendorAdapter
	http    *resty.Client
	limiter *ratelimit.Limiter
	log     *logrus.Entry
	metrics *metrics
}

// ClientOption configures a BaselineClient at construction time.
type ClientOption func(*BaselineClient)

// WithMetrics registers the client's retry counter against reg (the
// bootstrap registry's private *prometheus.Registry).
func WithMetrics(reg prometheus.Registerer) ClientOption {
	return func(c *BaselineClient) { c.metrics = newMetrics(reg) }
}

// NewBaselineClient constructs a client for the given adapter, sharing
// the supplied rate limiter (the bootstrap Registry owns one limiter per
// vendor, not per client instance).
func NewBaselineClient(adapter VendorAdapter, limiter *ratelimit.Limiter, log *logrus.Entry, opts ...ClientOption) *BaselineClient {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &BaselineClient{
		adapter: adapter,
		http:    resty.New().SetBaseURL(adapter.BaseURL()).SetTimeout(requestTimeout),
		limiter: limiter,
		log:     log.WithField("vendor", adapter.Name()),
		metrics: newMetrics(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *BaselineClient) GetMetadata() Metadata {
	return Metadata{
		Name:                c.adapter.Name(),
		SupportedTimeframes: c.adapter.SupportedTimeframes(),
		RateLimitHint:       c.adapter.RateLimitHint(),
	}
}

func (c *BaselineClient) TestConnection(ctx context.Context) (bool, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return false, err
	}
	req := c.http.R().SetContext(ctx)
	c.adapter.Authenticate(restyAuthCarrier{req})
	resp, err := req.Get(c.adapter.EndpointPath(bar.Symbol{}))
	if err != nil {
		return false, nil
	}
	return resp.StatusCode() < 500, nil
}

// FetchBars produces a complete, ordered, deduplicated bar sequence for
// symbol over r, following cursors until the adapter reports none left.
func (c *BaselineClient) FetchBars(ctx context.Context, symbol bar.Symbol, r bar.TimeRange) ([]bar.OHLCVBar, error) {
	var out []bar.OHLCVBar
	cursor := ""

	for {
		body, err := c.fetchPage(ctx, symbol, r, cursor)
		if err != nil {
			return out, err
		}

		rows, err := c.adapter.ParseResponse(body)
		if err != nil {
			return out, &ProviderError{Vendor: c.adapter.Name(), Msg: fmt.Sprintf("parse response: %v", err)}
		}

		for _, row := range rows {
			b, err := c.normalize(symbol, row)
			if err != nil {
				// Skipped-with-report: one malformed row never
				// aborts the rest of the fetch; it is dropped and the
				// adapter continues to the next row/page.
				c.log.WithError(err).WithField("symbol", symbol.String()).Warn("provider: dropping row that failed normalization")
				continue
			}
			if r.Contains(b.Timestamp()) {
				out = append(out, b)
			}
		}

		next, ok := c.adapter.NextCursor(body)
		if !ok {
			break
		}
		cursor = next
	}

	dedupeAndSort(&out)
	return out, nil
}

func (c *BaselineClient) normalize(symbol bar.Symbol, row RawBar) (bar.OHLCVBar, error) {
	open, err := bar.NewPriceFromString(row.Open, false)
	if err != nil {
		return bar.OHLCVBar{}, &NormalizationError{Vendor: c.adapter.Name(), Symbol: symbol.String(), Err: err}
	}
	high, err := bar.NewPriceFromString(row.High, false)
	if err != nil {
		return bar.OHLCVBar{}, &NormalizationError{Vendor: c.adapter.Name(), Symbol: symbol.String(), Err: err}
	}
	low, err := bar.NewPriceFromString(row.Low, false)
	if err != nil {
		return bar.OHLCVBar{}, &NormalizationError{Vendor: c.adapter.Name(), Symbol: symbol.String(), Err: err}
	}
	cls, err := bar.NewPriceFromString(row.Close, false)
	if err != nil {
		return bar.OHLCVBar{}, &NormalizationError{Vendor: c.adapter.Name(), Symbol: symbol.String(), Err: err}
	}
	vol, err := bar.NewVolume(row.Volume)
	if err != nil {
		return bar.OHLCVBar{}, &NormalizationError{Vendor: c.adapter.Name(), Symbol: symbol.String(), Err: err}
	}
	var vwap *bar.Price
	if row.VWAP != nil {
		v, err := bar.NewPriceFromString(*row.VWAP, true)
		if err != nil {
			return bar.OHLCVBar{}, &NormalizationError{Vendor: c.adapter.Name(), Symbol: symbol.String(), Err: err}
		}
		vwap = &v
	}

	b, err := bar.NewOHLCVBar(bar.NewBarParams{
		Symbol:     symbol,
		Timestamp:  bar.TimestampFromNanos(row.TimestampNanos),
		Open:       open,
		High:       high,
		Low:        low,
		Close:      cls,
		Volume:     vol,
		TradeCount: row.TradeCount,
		VWAP:       vwap,
		Frame:      bar.Frame1m,
		Source:     c.adapter.Name(),
	})
	if err != nil {
		return bar.OHLCVBar{}, &NormalizationError{Vendor: c.adapter.Name(), Symbol: symbol.String(), Err: err}
	}
	return b, nil
}

// fetchPage performs one rate-limited, retried HTTP request for a page
// of results, honoring Retry-After pushback on 429.
func (c *BaselineClient) fetchPage(ctx context.Context, symbol bar.Symbol, r bar.TimeRange, cursor string) ([]byte, error) {
	var body []byte
	attempt := 0

	op := func() error {
		attempt++
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req := c.http.R().SetContext(ctx)
		c.adapter.Authenticate(restyAuthCarrier{req})
		for k, v := range c.adapter.BuildRequestParams(symbol, r.Start.UnixNano(), r.End.UnixNano(), cursor) {
			req.SetQueryParam(k, v)
		}

		resp, err := req.Get(c.adapter.EndpointPath(symbol))
		if err != nil {
			if attempt >= maxAttempts {
				return backoff.Permanent(&ProviderError{Vendor: c.adapter.Name(), Msg: maskSecrets(err.Error())})
			}
			return err
		}

		status := resp.StatusCode()
		if status == 429 {
			if ra := resp.Header().Get("Retry-After"); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil {
					c.limiter.NotifyRetryAfter(time.Duration(secs) * time.Second)
				}
			}
		}

		if retryableStatuses[status] || c.adapter.ShouldRetry(status, resp.Body()) {
			c.metrics.observeRetry(c.adapter.Name(), strconv.Itoa(status))
			if attempt >= maxAttempts {
				return backoff.Permanent(&ProviderError{Vendor: c.adapter.Name(), StatusCode: status, Msg: "exhausted retries"})
			}
			return fmt.Errorf("retryable status %d", status)
		}

		if status < 200 || status >= 300 {
			return backoff.Permanent(&ProviderError{Vendor: c.adapter.Name(), StatusCode: status, Msg: "non-retryable status"})
		}

		body = resp.Body()
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newJitteredBackoff(), ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// newJitteredBackoff waits 200ms * base^n before retry n (capped at 30s),
// randomized by +/-20%, so a wait can fall below the unjittered value as
// well as above it; the jitter is not one-sided. At most maxAttempts tries
// are made in total.
func newJitteredBackoff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.Multiplier = backoffBase
	exp.RandomizationFactor = 0.2
	exp.InitialInterval = 200 * time.Millisecond
	exp.MaxInterval = 30 * time.Second
	return backoff.WithMaxRetries(exp, maxAttempts-1)
}

func dedupeAndSort(bars *[]bar.OHLCVBar) {
	b := *bars
	sort.SliceStable(b, func(i, j int) bool {
		return b[i].Timestamp().Before(b[j].Timestamp())
	})
	seen := make(map[int64]bool, len(b))
	out := b[:0]
	for _, v := range b {
		key := v.Timestamp().UnixNano()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	*bars = out
}
