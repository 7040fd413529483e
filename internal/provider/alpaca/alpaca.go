// Package alpaca adapts Alpaca's market data API to the provider.Provider
// surface: header-token authentication, cursor-based pagination, and
// Alpaca's bar JSON shape.
package alpaca

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/provider"
	"github.com/joeyda3rd/marketpipe/internal/ratelimit"
)

const (
	vendorName = "alpaca"
	baseURL    = "https://data.alpaca.markets"
)

// Adapter implements provider.VendorAdapter for Alpaca.
type Adapter struct {
	keyID     string
	secretKey string
}

// New reads ALPACA_KEY/ALPACA_SECRET (with MP_ALPACA_API_KEY/_API_SECRET
// as the generic-pattern fallback).
func New() *Adapter {
	key := os.Getenv("ALPACA_KEY")
	if key == "" {
		key = os.Getenv("MP_ALPACA_API_KEY")
	}
	secret := os.Getenv("ALPACA_SECRET")
	if secret == "" {
		secret = os.Getenv("MP_ALPACA_API_SECRET")
	}
	return &Adapter{keyID: key, secretKey: secret}
}

func (a *Adapter) Name() string    { return vendorName }
func (a *Adapter) BaseURL() string { return baseURL }

func (a *Adapter) EndpointPath(symbol bar.Symbol) string {
	return fmt.Sprintf("/v2/stocks/%s/bars", symbol.String())
}

// Authenticate attaches Alpaca's header-token credentials.
func (a *Adapter) Authenticate(req provider.AuthCarrier) {
	req.SetHeader("APCA-API-KEY-ID", a.keyID)
	req.SetHeader("APCA-API-SECRET-KEY", a.secretKey)
}

func (a *Adapter) BuildRequestParams(_ bar.Symbol, startNanos, endNanos int64, cursor string) map[string]string {
	p := map[string]string{
		"timeframe":  "1Min",
		"start":      bar.TimestampFromNanos(startNanos).Time().Format("2006-01-02T15:04:05Z"),
		"end":        bar.TimestampFromNanos(endNanos).Time().Format("2006-01-02T15:04:05Z"),
		"limit":      "10000",
		"adjustment": "raw",
	}
	if cursor != "" {
		p["page_token"] = cursor
	}
	return p
}

type alpacaBar struct {
	T  string  `json:"t"`
	O  float64 `json:"o"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	C  float64 `json:"c"`
	V  int64   `json:"v"`
	N  int64   `json:"n"`
	VW float64 `json:"vw"`
}

type alpacaResponse struct {
	Bars          []alpacaBar `json:"bars"`
	NextPageToken *string     `json:"next_page_token"`
}

func (a *Adapter) ParseResponse(body []byte) ([]provider.RawBar, error) {
	var resp alpacaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]provider.RawBar, 0, len(resp.Bars))
	for _, raw := range resp.Bars {
		ts, err := bar.NewTimestampFromRFC3339(raw.T)
		if err != nil {
			return nil, err
		}
		n := raw.N
		vw := strconv.FormatFloat(raw.VW, 'f', -1, 64)
		out = append(out, provider.RawBar{
			TimestampNanos: ts.UnixNano(),
			Open:           strconv.FormatFloat(raw.O, 'f', -1, 64),
			High:           strconv.FormatFloat(raw.H, 'f', -1, 64),
			Low:            strconv.FormatFloat(raw.L, 'f', -1, 64),
			Close:          strconv.FormatFloat(raw.C, 'f', -1, 64),
			Volume:         raw.V,
			TradeCount:     &n,
			VWAP:           &vw,
		})
	}
	return out, nil
}

func (a *Adapter) NextCursor(body []byte) (string, bool) {
	var resp alpacaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false
	}
	if resp.NextPageToken == nil || *resp.NextPageToken == "" {
		return "", false
	}
	return *resp.NextPageToken, true
}

// ShouldRetry applies no vendor-specific retry policy beyond the
// baseline's {429,500,502,503,504} set.
func (a *Adapter) ShouldRetry(statusCode int, body []byte) bool { return false }

func (a *Adapter) SupportedTimeframes() []bar.Frame { return bar.AllFrames }

func (a *Adapter) RateLimitHint() provider.RateLimitHint {
	return provider.RateLimitHint{Capacity: 200, RefillRate: 3.33}
}

// NewClient builds a ready-to-use provider.Provider for Alpaca. reg may
// be nil to skip retry-metric registration (e.g. in tests).
func NewClient(limiter *ratelimit.Limiter, log *logrus.Entry, reg prometheus.Registerer) provider.Provider {
	return provider.NewBaselineClient(New(), limiter, log, provider.WithMetrics(reg))
}
