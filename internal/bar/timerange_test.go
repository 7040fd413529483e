package bar

import "testing"

func TestNewTimeRange_AcceptsExactly730Days(t *testing.T) {
	start := TimestampFromNanos(0)
	end := TimestampFromNanos(int64(730) * 24 * 60 * 60 * 1_000_000_000)
	if _, err := NewTimeRange(start, end); err != nil {
		t.Fatalf("expected 730-day range to be accepted, got %v", err)
	}
}

func TestNewTimeRange_Rejects731Days(t *testing.T) {
	start := TimestampFromNanos(0)
	end := TimestampFromNanos(int64(731) * 24 * 60 * 60 * 1_000_000_000)
	if _, err := NewTimeRange(start, end); err == nil {
		t.Fatal("expected 731-day range to be rejected")
	}
}

func TestNewTimeRange_RejectsNonPositiveSpan(t *testing.T) {
	ts := TimestampFromNanos(1000)
	if _, err := NewTimeRange(ts, ts); err == nil {
		t.Fatal("expected equal start/end to be rejected")
	}
	if _, err := NewTimeRange(ts, TimestampFromNanos(500)); err == nil {
		t.Fatal("expected end before start to be rejected")
	}
}

func TestMaxRangeDaysOverridable(t *testing.T) {
	orig := MaxRangeDays
	defer func() { MaxRangeDays = orig }()
	MaxRangeDays = 10
	start := TimestampFromNanos(0)
	end := TimestampFromNanos(int64(11) * 24 * 60 * 60 * 1_000_000_000)
	if _, err := NewTimeRange(start, end); err == nil {
		t.Fatal("expected override to shrink the accepted span")
	}
}
