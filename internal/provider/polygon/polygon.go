// Package polygon adapts Polygon.io's aggregates API to the
// provider.Provider surface: query-parameter authentication, URL-based
// cursor pagination, and Polygon's aggregates JSON shape.
package polygon

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/provider"
	"github.com/joeyda3rd/marketpipe/internal/ratelimit"
)

const (
	vendorName = "polygon"
	baseURL    = "https://api.polygon.io"
)

// Adapter implements provider.VendorAdapter for Polygon.io.
type Adapter struct {
	apiKey string
}

// New reads MP_POLYGON_API_KEY (the generic MP_<VENDOR>_API_KEY
// credential pattern).
func New() *Adapter {
	return &Adapter{apiKey: os.Getenv("MP_POLYGON_API_KEY")}
}

func (a *Adapter) Name() string    { return vendorName }
func (a *Adapter) BaseURL() string { return baseURL }

func (a *Adapter) EndpointPath(symbol bar.Symbol) string {
	return fmt.Sprintf("/v2/aggs/ticker/%s/range/1/minute", symbol.String())
}

// Authenticate attaches Polygon's query-param credential.
func (a *Adapter) Authenticate(req provider.AuthCarrier) {
	req.SetQueryParam("apiKey", a.apiKey)
}

func (a *Adapter) BuildRequestParams(_ bar.Symbol, startNanos, endNanos int64, cursor string) map[string]string {
	if cursor != "" {
		if u, err := url.Parse(cursor); err == nil {
			return queryValuesToMap(u.Query())
		}
	}
	return map[string]string{
		"from":  bar.TimestampFromNanos(startNanos).Date().String(),
		"to":    bar.TimestampFromNanos(endNanos).Date().String(),
		"limit": "50000",
		"sort":  "asc",
	}
}

func queryValuesToMap(v url.Values) map[string]string {
	m := make(map[string]string, len(v))
	for k := range v {
		m[k] = v.Get(k)
	}
	return m
}

type polygonAgg struct {
	T  int64   `json:"t"`
	O  float64 `json:"o"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	C  float64 `json:"c"`
	V  float64 `json:"v"`
	N  int64   `json:"n"`
	VW float64 `json:"vw"`
}

type polygonResponse struct {
	Results []polygonAgg `json:"results"`
	NextURL string       `json:"next_url"`
}

func (a *Adapter) ParseResponse(body []byte) ([]provider.RawBar, error) {
	var resp polygonResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]provider.RawBar, 0, len(resp.Results))
	for _, raw := range resp.Results {
		n := raw.N
		vw := strconv.FormatFloat(raw.VW, 'f', -1, 64)
		out = append(out, provider.RawBar{
			TimestampNanos: raw.T * 1_000_000, // Polygon reports Unix millis
			Open:           strconv.FormatFloat(raw.O, 'f', -1, 64),
			High:           strconv.FormatFloat(raw.H, 'f', -1, 64),
			Low:            strconv.FormatFloat(raw.L, 'f', -1, 64),
			Close:          strconv.FormatFloat(raw.C, 'f', -1, 64),
			Volume:         int64(raw.V),
			TradeCount:     &n,
			VWAP:           &vw,
		})
	}
	return out, nil
}

func (a *Adapter) NextCursor(body []byte) (string, bool) {
	var resp polygonResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false
	}
	if resp.NextURL == "" {
		return "", false
	}
	return resp.NextURL, true
}

// ShouldRetry adds no vendor-specific policy: Polygon signals rate
// limiting with a plain 429, already in the baseline's retryable set.
func (a *Adapter) ShouldRetry(statusCode int, body []byte) bool { return false }

func (a *Adapter) SupportedTimeframes() []bar.Frame { return bar.AllFrames }

func (a *Adapter) RateLimitHint() provider.RateLimitHint {
	return provider.RateLimitHint{Capacity: 5, RefillRate: 5}
}

// NewClient builds a ready-to-use provider.Provider for Polygon.
func NewClient(limiter *ratelimit.Limiter, log *logrus.Entry, reg prometheus.Registerer) provider.Provider {
	return provider.NewBaselineClient(New(), limiter, log, provider.WithMetrics(reg))
}
