package bar

import "fmt"

// IngestionJobId is the stable, derivable, human-legible identity of an
// IngestionJob: "{symbol}_{YYYY-MM-DD}".
type IngestionJobId struct {
	value string
}

// NewIngestionJobId derives a job id from its symbol and trading date.
func NewIngestionJobId(symbol Symbol, date TradingDate) IngestionJobId {
	return IngestionJobId{value: fmt.Sprintf("%s_%s", symbol.String(), date.String())}
}

// ParseIngestionJobId wraps an already-derived job id string (e.g. one
// read back off an event bus payload) without re-deriving it from parts.
// It does not re-validate the symbol/date embedded in s; callers that
// need a validated IngestionJob should look it up through jobstore
// instead of trusting the string alone.
func ParseIngestionJobId(s string) IngestionJobId {
	return IngestionJobId{value: s}
}

func (id IngestionJobId) String() string { return id.value }

func (id IngestionJobId) IsZero() bool { return id.value == "" }
