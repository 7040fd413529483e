package validation

import "github.com/joeyda3rd/marketpipe/internal/bar"

// RuleID names one business or schema rule.
type RuleID string

const (
	RuleSchemaPresent       RuleID = "schema_present"
	RulePricePositive       RuleID = "price_positive"
	RuleOHLCConsistency     RuleID = "ohlc_consistency"
	RuleVolumeNonneg        RuleID = "volume_nonneg"
	RuleTimestampAlignment  RuleID = "timestamp_alignment"
	RuleSymbolConsistency   RuleID = "symbol_consistency"
	RuleDateConsistency     RuleID = "date_consistency"
	RulePriceReasonableness RuleID = "price_reasonableness"
	RuleTradingHours        RuleID = "trading_hours"
)

// DefaultPriceUpperBound is the default configurable ceiling for
// price_reasonableness.
const DefaultPriceUpperBound = 100_000

// RuleContext carries the partition-level facts a rule checks a bar
// against, plus the configured tunables.
type RuleContext struct {
	Symbol            bar.Symbol
	Date              bar.TradingDate
	Frame             bar.Frame
	PriceUpperBound   int64
	CheckTradingHours bool
}

// Rule is one business or schema check. Check reports whether b passes.
type Rule struct {
	ID    RuleID
	Check func(b bar.OHLCVBar, ctx RuleContext) bool
}

// Rules is the full rule set, evaluated in declaration order for every
// bar in a partition.
var Rules = []Rule{
	{ID: RuleSchemaPresent, Check: checkSchemaPresent},
	{ID: RulePricePositive, Check: checkPricePositive},
	{ID: RuleOHLCConsistency, Check: checkOHLCConsistency},
	{ID: RuleVolumeNonneg, Check: checkVolumeNonneg},
	{ID: RuleTimestampAlignment, Check: checkTimestampAlignment},
	{ID: RuleSymbolConsistency, Check: checkSymbolConsistency},
	{ID: RuleDateConsistency, Check: checkDateConsistency},
	{ID: RulePriceReasonableness, Check: checkPriceReasonableness},
	{ID: RuleTradingHours, Check: checkTradingHours},
}

func checkSchemaPresent(b bar.OHLCVBar, _ RuleContext) bool {
	return !b.Symbol().IsZero() && b.Frame().Valid() && b.Source() != ""
}

func checkPricePositive(b bar.OHLCVBar, _ RuleContext) bool {
	return b.Open().IsPositive() && b.High().IsPositive() && b.Low().IsPositive() && b.Close().IsPositive()
}

func checkOHLCConsistency(b bar.OHLCVBar, _ RuleContext) bool {
	high := bar.MaxPrice(b.Open(), b.Low(), b.Close())
	low := bar.MinPrice(b.Open(), b.High(), b.Close())
	return b.High().GreaterThanOrEqual(high) && b.Low().LessThanOrEqual(low)
}

func checkVolumeNonneg(b bar.OHLCVBar, _ RuleContext) bool {
	return true // bar.Volume is a uint64; negative values cannot reach this stage.
}

func checkTimestampAlignment(b bar.OHLCVBar, ctx RuleContext) bool {
	frame := ctx.Frame
	if frame == "" {
		frame = b.Frame()
	}
	return b.Timestamp().AlignedToFrame(frame.Nanos())
}

func checkSymbolConsistency(b bar.OHLCVBar, ctx RuleContext) bool {
	return b.Symbol().Equal(ctx.Symbol)
}

func checkDateConsistency(b bar.OHLCVBar, ctx RuleContext) bool {
	return b.Date().Equal(ctx.Date)
}

func checkPriceReasonableness(b bar.OHLCVBar, ctx RuleContext) bool {
	bound := ctx.PriceUpperBound
	if bound <= 0 {
		bound = DefaultPriceUpperBound
	}
	for _, p := range []bar.Price{b.Open(), b.High(), b.Low(), b.Close()} {
		if !p.IsPositive() || p.ExceedsInt64(bound) {
			return false
		}
	}
	return true
}

func checkTradingHours(b bar.OHLCVBar, ctx RuleContext) bool {
	if !ctx.CheckTradingHours {
		return true
	}
	return b.Session() == bar.SessionRegular || b.Session() == bar.SessionExtended
}
