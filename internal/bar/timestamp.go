package bar

import "time"

// NanosPerMinute is the alignment unit for 1-minute bar timestamps.
const NanosPerMinute int64 = 60_000_000_000

// Timestamp is an absolute UTC instant, stored internally as nanoseconds
// since the Unix epoch.
type Timestamp struct {
	nanos int64
}

// NewTimestamp constructs a Timestamp from a time.Time, normalizing to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{nanos: t.UTC().UnixNano()}
}

// TimestampFromNanos constructs a Timestamp directly from its canonical form.
func TimestampFromNanos(nanos int64) Timestamp {
	return Timestamp{nanos: nanos}
}

// NewTimestampFromRFC3339 parses a vendor RFC3339 timestamp string, the
// wire format most HTTP bar vendors use.
func NewTimestampFromRFC3339(raw string) (Timestamp, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return Timestamp{}, newValidationError("timestamp", "parse", err.Error())
	}
	return NewTimestamp(t), nil
}

func (ts Timestamp) UnixNano() int64 { return ts.nanos }

func (ts Timestamp) Time() time.Time { return time.Unix(0, ts.nanos).UTC() }

// AlignedToFrame reports whether ts falls on a boundary for the given
// frame duration (e.g. 1-minute alignment for the 1m frame).
func (ts Timestamp) AlignedToFrame(frameNanos int64) bool {
	if frameNanos <= 0 {
		return false
	}
	return ts.nanos%frameNanos == 0
}

// Date returns the UTC calendar date this timestamp falls on.
func (ts Timestamp) Date() TradingDate {
	t := ts.Time()
	return TradingDate{year: t.Year(), month: int(t.Month()), day: t.Day()}
}

func (ts Timestamp) Before(other Timestamp) bool { return ts.nanos < other.nanos }

func (ts Timestamp) After(other Timestamp) bool { return ts.nanos > other.nanos }

func (ts Timestamp) Equal(other Timestamp) bool { return ts.nanos == other.nanos }

func (ts Timestamp) Add(d time.Duration) Timestamp {
	return Timestamp{nanos: ts.nanos + d.Nanoseconds()}
}

// TradingDate is the UTC calendar date a bar's timestamp belongs to.
type TradingDate struct {
	year, month, day int
}

// NewTradingDate constructs a TradingDate from a YYYY-MM-DD string.
func NewTradingDate(s string) (TradingDate, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return TradingDate{}, newValidationError("trading_date", "parse", err.Error())
	}
	return TradingDate{year: t.Year(), month: int(t.Month()), day: t.Day()}, nil
}

func (d TradingDate) String() string {
	return time.Date(d.year, time.Month(d.month), d.day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

func (d TradingDate) Equal(other TradingDate) bool {
	return d.year == other.year && d.month == other.month && d.day == other.day
}

// Before reports whether d falls strictly earlier than other.
func (d TradingDate) Before(other TradingDate) bool {
	return d.StartOfDay().Before(other.StartOfDay())
}

// StartOfDay returns the UTC midnight Timestamp for this trading date.
func (d TradingDate) StartOfDay() Timestamp {
	t := time.Date(d.year, time.Month(d.month), d.day, 0, 0, 0, 0, time.UTC)
	return NewTimestamp(t)
}

// EndOfDay returns the half-open upper bound (midnight of the next day).
func (d TradingDate) EndOfDay() Timestamp {
	return d.StartOfDay().Add(24 * time.Hour)
}
