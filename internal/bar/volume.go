package bar

// Volume is a non-negative share count.
type Volume struct {
	value uint64
}

// NewVolume validates and constructs a Volume from a signed integer (the
// natural type for vendor JSON decoding) so negative payloads fail loudly
// instead of silently wrapping.
func NewVolume(raw int64) (Volume, error) {
	if raw < 0 {
		return Volume{}, newValidationError("volume", "nonnegative", "volume must be >= 0")
	}
	return Volume{value: uint64(raw)}, nil
}

func (v Volume) Uint64() uint64 { return v.value }

func (v Volume) Add(other Volume) Volume { return Volume{value: v.value + other.value} }

func (v Volume) IsZero() bool { return v.value == 0 }
