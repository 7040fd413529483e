package storage

import (
	"math/big"
	"sort"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/decimal128"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/shopspring/decimal"

	"github.com/joeyda3rd/marketpipe/internal/bar"
)

// decimalType is the arrow representation of the canonical OHLCV v1
// decimal(precision>=18, scale=4) columns.
var decimalType = &arrow.Decimal128Type{Precision: 18, Scale: bar.PriceScale}

// arrowSchema is the canonical OHLCV v1 column schema, in declaration
// order.
var arrowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
	{Name: "date", Type: arrow.FixedWidthTypes.Date32},
	{Name: "open", Type: decimalType},
	{Name: "high", Type: decimalType},
	{Name: "low", Type: decimalType},
	{Name: "close", Type: decimalType},
	{Name: "volume", Type: arrow.PrimitiveTypes.Int64},
	{Name: "trade_count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "vwap", Type: decimalType, Nullable: true},
	{Name: "session", Type: arrow.BinaryTypes.String},
	{Name: "currency", Type: arrow.BinaryTypes.String},
	{Name: "status", Type: arrow.BinaryTypes.String},
	{Name: "source", Type: arrow.BinaryTypes.String},
	{Name: "frame", Type: arrow.BinaryTypes.String},
	{Name: "schema_version", Type: arrow.PrimitiveTypes.Int32},
}, nil)

// barsToRecord builds one arrow.Record from bars, already sorted and
// deduplicated by the caller.
func barsToRecord(mem memory.Allocator, bars []bar.OHLCVBar) arrow.Record {
	b := array.NewRecordBuilder(mem, arrowSchema)
	defer b.Release()

	symbolB := b.Field(0).(*array.StringBuilder)
	tsB := b.Field(1).(*array.Int64Builder)
	dateB := b.Field(2).(*array.Date32Builder)
	openB := b.Field(3).(*array.Decimal128Builder)
	highB := b.Field(4).(*array.Decimal128Builder)
	lowB := b.Field(5).(*array.Decimal128Builder)
	closeB := b.Field(6).(*array.Decimal128Builder)
	volB := b.Field(7).(*array.Int64Builder)
	tradeCountB := b.Field(8).(*array.Int64Builder)
	vwapB := b.Field(9).(*array.Decimal128Builder)
	sessionB := b.Field(10).(*array.StringBuilder)
	currencyB := b.Field(11).(*array.StringBuilder)
	statusB := b.Field(12).(*array.StringBuilder)
	sourceB := b.Field(13).(*array.StringBuilder)
	frameB := b.Field(14).(*array.StringBuilder)
	schemaVersionB := b.Field(15).(*array.Int32Builder)

	for _, b2 := range bars {
		symbolB.Append(b2.Symbol().String())
		tsB.Append(b2.Timestamp().UnixNano())
		dateB.Append(toDate32(b2.Date()))
		openB.Append(toDecimal128(b2.Open()))
		highB.Append(toDecimal128(b2.High()))
		lowB.Append(toDecimal128(b2.Low()))
		closeB.Append(toDecimal128(b2.Close()))
		volB.Append(int64(b2.Volume().Uint64()))
		if tc := b2.TradeCount(); tc != nil {
			tradeCountB.Append(*tc)
		} else {
			tradeCountB.AppendNull()
		}
		if vw := b2.VWAP(); vw != nil {
			vwapB.Append(toDecimal128(*vw))
		} else {
			vwapB.AppendNull()
		}
		sessionB.Append(string(b2.Session()))
		currencyB.Append(b2.Currency())
		statusB.Append(string(b2.Status()))
		sourceB.Append(b2.Source())
		frameB.Append(string(b2.Frame()))
		schemaVersionB.Append(bar.SchemaVersion)
	}

	return b.NewRecord()
}

func toDecimal128(p bar.Price) decimal128.Num {
	return decimal128.FromBigInt(p.Decimal().Coefficient())
}

func toDate32(d bar.TradingDate) arrow.Date32 {
	return arrow.Date32FromTime(d.StartOfDay().Time())
}

// recordToBars decodes an arrow.Record written with barsToRecord's
// schema back into domain bars. Rows failing reconstruction (should not
// happen for files this engine wrote) are skipped rather than aborting
// the whole read.
func recordToBars(rec arrow.Record) []bar.OHLCVBar {
	n := int(rec.NumRows())
	out := make([]bar.OHLCVBar, 0, n)

	symbolCol := rec.Column(0).(*array.String)
	tsCol := rec.Column(1).(*array.Int64)
	openCol := rec.Column(3).(*array.Decimal128)
	highCol := rec.Column(4).(*array.Decimal128)
	lowCol := rec.Column(5).(*array.Decimal128)
	closeCol := rec.Column(6).(*array.Decimal128)
	volCol := rec.Column(7).(*array.Int64)
	tradeCountCol := rec.Column(8).(*array.Int64)
	vwapCol := rec.Column(9).(*array.Decimal128)
	sessionCol := rec.Column(10).(*array.String)
	currencyCol := rec.Column(11).(*array.String)
	statusCol := rec.Column(12).(*array.String)
	sourceCol := rec.Column(13).(*array.String)
	frameCol := rec.Column(14).(*array.String)

	for i := 0; i < n; i++ {
		symbol, err := bar.NewSymbol(symbolCol.Value(i))
		if err != nil {
			continue
		}
		frame, err := bar.ParseFrame(frameCol.Value(i))
		if err != nil {
			continue
		}
		open, err := fromDecimal128(openCol, i, false)
		if err != nil {
			continue
		}
		high, err := fromDecimal128(highCol, i, false)
		if err != nil {
			continue
		}
		low, err := fromDecimal128(lowCol, i, false)
		if err != nil {
			continue
		}
		close, err := fromDecimal128(closeCol, i, false)
		if err != nil {
			continue
		}
		vol, err := bar.NewVolume(volCol.Value(i))
		if err != nil {
			continue
		}

		var tradeCount *int64
		if !tradeCountCol.IsNull(i) {
			v := tradeCountCol.Value(i)
			tradeCount = &v
		}
		var vwap *bar.Price
		if !vwapCol.IsNull(i) {
			v, err := fromDecimal128(vwapCol, i, true)
			if err == nil {
				vwap = &v
			}
		}

		b, err := bar.NewOHLCVBar(bar.NewBarParams{
			Symbol:     symbol,
			Timestamp:  bar.TimestampFromNanos(tsCol.Value(i)),
			Open:       open,
			High:       high,
			Low:        low,
			Close:      close,
			Volume:     vol,
			TradeCount: tradeCount,
			VWAP:       vwap,
			Session:    bar.Session(sessionCol.Value(i)),
			Currency:   currencyCol.Value(i),
			Status:     bar.Status(statusCol.Value(i)),
			Source:     sourceCol.Value(i),
			Frame:      frame,
		})
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

func fromDecimal128(col *array.Decimal128, i int, allowZero bool) (bar.Price, error) {
	v := col.Value(i)
	d := decimalFromCoefficient(v.BigInt())
	return bar.NewPriceFromDecimal(d, allowZero)
}

// decimalFromCoefficient rebuilds a shopspring decimal.Decimal at scale
// bar.PriceScale from a decimal128's unscaled big.Int coefficient, the
// inverse of toDecimal128.
func decimalFromCoefficient(coeff *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(coeff, -int32(bar.PriceScale))
}

// sortAndDedupBars sorts bars by (symbol, timestamp) and keeps the first
// occurrence per (symbol, timestamp).
func sortAndDedupBars(bars []bar.OHLCVBar) []bar.OHLCVBar {
	sort.SliceStable(bars, func(i, j int) bool {
		a, c := bars[i], bars[j]
		if a.Symbol().String() != c.Symbol().String() {
			return a.Symbol().String() < c.Symbol().String()
		}
		return a.Timestamp().Before(c.Timestamp())
	})
	seen := make(map[bar.DedupKey]bool, len(bars))
	out := bars[:0]
	for _, b := range bars {
		k := b.DedupKey()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, b)
	}
	return out
}
