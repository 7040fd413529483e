package bar

import "time"

// MaxRangeDays bounds how far apart a TimeRange's start and end may be.
// Kept as an overridable var rather than a compile-time constant so
// deployments with different retention horizons can adjust it.
var MaxRangeDays = 730

// TimeRange is a half-open [Start, End) pair.
type TimeRange struct {
	Start, End Timestamp
}

// NewTimeRange validates and constructs a TimeRange.
func NewTimeRange(start, end Timestamp) (TimeRange, error) {
	if !start.Before(end) {
		return TimeRange{}, newValidationError("time_range", "ordering", "start must be before end")
	}
	span := time.Duration(end.UnixNano()-start.UnixNano()) * time.Nanosecond
	if span > time.Duration(MaxRangeDays)*24*time.Hour {
		return TimeRange{}, newValidationError("time_range", "max_span", "range exceeds the configured maximum span")
	}
	return TimeRange{Start: start, End: end}, nil
}

// Contains reports whether ts falls within [Start, End).
func (r TimeRange) Contains(ts Timestamp) bool {
	return !ts.Before(r.Start) && ts.Before(r.End)
}
