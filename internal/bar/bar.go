package bar

import (
	"github.com/google/uuid"
)

// Session classifies a bar's timestamp against the vendor's trading
// calendar.
type Session string

const (
	SessionRegular  Session = "regular"
	SessionExtended Session = "extended"
)

// Status flags a bar produced under degraded vendor conditions (e.g. a
// stitched-together gap) without dropping it.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSuspect Status = "suspect"
)

// SchemaVersion is the canonical OHLCV schema version written to every bar.
const SchemaVersion int32 = 1

// OHLCVBar is the central domain entity: one open/high/low/close/volume
// tuple for one symbol over one frame interval (1m as ingested, coarser
// frames after aggregation), already normalized to the canonical schema.
// Immutable after construction.
type OHLCVBar struct {
	id         uuid.UUID
	symbol     Symbol
	timestamp  Timestamp
	open       Price
	high       Price
	low        Price
	close      Price
	volume     Volume
	tradeCount *int64
	vwap       *Price
	session    Session
	currency   string
	status     Status
	source     string
	frame      Frame
}

// NewBarParams carries the raw, not-yet-validated fields for OHLCVBar
// construction. TradeCount and VWAP are optional; an empty Session,
// Status or Currency defaults to regular, ok and USD respectively.
type NewBarParams struct {
	Symbol     Symbol
	Timestamp  Timestamp
	Open       Price
	High       Price
	Low        Price
	Close      Price
	Volume     Volume
	TradeCount *int64
	VWAP       *Price
	Session    Session
	Currency   string
	Status     Status
	Source     string
	Frame      Frame
}

// NewOHLCVBar validates every construction invariant and builds a bar
// with a freshly generated identity.
func NewOHLCVBar(p NewBarParams) (OHLCVBar, error) {
	if p.Symbol.IsZero() {
		return OHLCVBar{}, newValidationError("symbol", "required", "symbol must be set")
	}
	if !p.Frame.Valid() {
		return OHLCVBar{}, newValidationError("frame", "known", "frame must be one of 1m,5m,15m,1h,1d")
	}
	if !p.Timestamp.AlignedToFrame(p.Frame.Nanos()) {
		return OHLCVBar{}, newValidationError("timestamp", "alignment", "timestamp must align to the frame boundary")
	}
	high := MaxPrice(p.Open, p.Low, p.Close)
	if !p.High.GreaterThanOrEqual(high) {
		return OHLCVBar{}, newValidationError("high", "ohlc_consistency", "high must be >= max(open, low, close)")
	}
	low := MinPrice(p.Open, p.High, p.Close)
	if !p.Low.LessThanOrEqual(low) {
		return OHLCVBar{}, newValidationError("low", "ohlc_consistency", "low must be <= min(open, high, close)")
	}
	if p.TradeCount != nil && *p.TradeCount < 0 {
		return OHLCVBar{}, newValidationError("trade_count", "nonnegative", "trade_count must be >= 0")
	}
	if p.Session == "" {
		p.Session = SessionRegular
	}
	if p.Status == "" {
		p.Status = StatusOK
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if p.Source == "" {
		return OHLCVBar{}, newValidationError("source", "required", "source vendor name must be set")
	}
	return OHLCVBar{
		id:         uuid.New(),
		symbol:     p.Symbol,
		timestamp:  p.Timestamp,
		open:       p.Open,
		high:       p.High,
		low:        p.Low,
		close:      p.Close,
		volume:     p.Volume,
		tradeCount: p.TradeCount,
		vwap:       p.VWAP,
		session:    p.Session,
		currency:   p.Currency,
		status:     p.Status,
		source:     p.Source,
		frame:      p.Frame,
	}, nil
}

func (b OHLCVBar) ID() uuid.UUID        { return b.id }
func (b OHLCVBar) Symbol() Symbol       { return b.symbol }
func (b OHLCVBar) Timestamp() Timestamp { return b.timestamp }
func (b OHLCVBar) Open() Price          { return b.open }
func (b OHLCVBar) High() Price          { return b.high }
func (b OHLCVBar) Low() Price           { return b.low }
func (b OHLCVBar) Close() Price         { return b.close }
func (b OHLCVBar) Volume() Volume       { return b.volume }
func (b OHLCVBar) TradeCount() *int64   { return b.tradeCount }
func (b OHLCVBar) VWAP() *Price         { return b.vwap }
func (b OHLCVBar) Session() Session     { return b.session }
func (b OHLCVBar) Currency() string     { return b.currency }
func (b OHLCVBar) Status() Status       { return b.status }
func (b OHLCVBar) Source() string       { return b.source }
func (b OHLCVBar) Frame() Frame         { return b.frame }
func (b OHLCVBar) Date() TradingDate    { return b.timestamp.Date() }

// DedupKey is the storage-level identity: (symbol, timestamp). Two bars
// with the same key are considered duplicates regardless of their
// domain-level identity.
type DedupKey struct {
	Symbol         string
	TimestampNanos int64
}

func (b OHLCVBar) DedupKey() DedupKey {
	return DedupKey{Symbol: b.symbol.String(), TimestampNanos: b.timestamp.UnixNano()}
}
