package provider

import "fmt"

// ProviderError reports a vendor-level failure (transport error, or an
// HTTP status the baseline's retry policy gave up on).
type ProviderError struct {
	Vendor     string
	StatusCode int
	Msg        string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status=%d: %s", e.Vendor, e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("provider %s: %s", e.Vendor, e.Msg)
}

// NormalizationError wraps a bar.ValidationError encountered while
// converting a vendor's RawBar into a bar.OHLCVBar, with the vendor and
// symbol for diagnostics (the row's position is not recorded).
type NormalizationError struct {
	Vendor string
	Symbol string
	Err    error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("provider %s: normalizing %s: %v", e.Vendor, e.Symbol, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }
