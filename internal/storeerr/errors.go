// Package storeerr defines the repository error taxonomy shared by
// internal/checkpoint and internal/jobstore. Both capabilities wrap the
// same underlying SQL
// backings (Postgres, SQLite) and report failures through these four
// variants rather than raw driver errors, so callers can branch with
// errors.As regardless of which backing is configured.
package storeerr

import "fmt"

// NotFound reports that a lookup found no matching row.
type NotFound struct {
	Resource string
	Key      string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// DuplicateKey reports a unique-constraint violation on insert.
type DuplicateKey struct {
	Resource string
	Key      string
}

func (e *DuplicateKey) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.Key)
}

// ConcurrencyError reports an optimistic-concurrency version mismatch on
// a job save.
type ConcurrencyError struct {
	Resource        string
	Key             string
	ExpectedVersion int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s %s: version mismatch, expected %d", e.Resource, e.Key, e.ExpectedVersion)
}

// RepositoryError wraps a generic I/O failure from the backing store.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository: %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// Wrap converts an arbitrary backing-store error into a RepositoryError,
// unless it is already one of the taxonomy's typed errors.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *NotFound, *DuplicateKey, *ConcurrencyError, *RepositoryError:
		return err
	default:
		return &RepositoryError{Op: op, Err: err}
	}
}
