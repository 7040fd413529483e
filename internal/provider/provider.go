// Package provider presents a vendor-neutral market data surface over
// HTTP, hiding pagination, retry/backoff, rate limiting, and response
// normalization behind one baseline client that concrete vendor adapters
// configure rather than reimplement.
package provider

import (
	"context"

	"github.com/joeyda3rd/marketpipe/internal/bar"
)

// RateLimitHint describes the vendor's documented budget; the bootstrap
// Registry uses it to size the shared ratelimit.Limiter it constructs per
// vendor.
type RateLimitHint struct {
	Capacity   int
	RefillRate float64
}

// Metadata describes a provider's identity and capabilities.
type Metadata struct {
	Name                string
	SupportedTimeframes []bar.Frame
	RateLimitHint       RateLimitHint
}

// Provider is the vendor-neutral surface the coordinator depends on.
type Provider interface {
	FetchBars(ctx context.Context, symbol bar.Symbol, r bar.TimeRange) ([]bar.OHLCVBar, error)
	GetMetadata() Metadata
	TestConnection(ctx context.Context) (bool, error)
}

// RawBar is the vendor-format-agnostic shape a VendorAdapter's
// ParseResponse extracts from a response body, before normalization into
// bar.OHLCVBar.
type RawBar struct {
	TimestampNanos int64
	Open           string
	High           string
	Low            string
	Close          string
	Volume         int64
	TradeCount     *int64
	VWAP           *string
}

// VendorAdapter is the set of per-vendor extension points a concrete
// adapter (alpaca, polygon, ...) implements; BaselineClient supplies
// everything else (pagination, retry, rate limiting, normalization).
type VendorAdapter interface {
	Name() string
	BaseURL() string
	EndpointPath(symbol bar.Symbol) string
	BuildRequestParams(symbol bar.Symbol, startNanos, endNanos int64, cursor string) map[string]string
	Authenticate(req AuthCarrier)
	NextCursor(body []byte) (cursor string, ok bool)
	ParseResponse(body []byte) ([]RawBar, error)
	ShouldRetry(statusCode int, body []byte) bool
	SupportedTimeframes() []bar.Frame
	RateLimitHint() RateLimitHint
}

// AuthCarrier abstracts the subset of *resty.Request an adapter needs to
// attach credentials, so adapters don't import resty directly.
type AuthCarrier interface {
	SetHeader(key, value string) AuthCarrier
	SetQueryParam(key, value string) AuthCarrier
}
