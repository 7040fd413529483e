package ratelimit

import (
	"fmt"
	"time"
)

// RateLimited signals that vendor pushback forced a wait. It is surfaced
// for observability only — the pushback counter and the warn log line in
// NotifyRetryAfter — never as a user-visible failure; callers keep
// waiting and are admitted once the floor expires.
type RateLimited struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("ratelimit: vendor pushback: provider=%s retry_after=%s", e.Provider, e.RetryAfter)
}

// TimeoutError reports that a caller-supplied deadline expired while
// waiting for a token.
type TimeoutError struct {
	Provider string
	Mode     string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ratelimit: timeout waiting for token: provider=%s mode=%s", e.Provider, e.Mode)
}
