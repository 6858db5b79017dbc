package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that matched no rows.
var ErrNotFound = errors.New("not found")

// RemoteError carries the HTTP status of a failed remote store call so
// callers and the retry layer can distinguish client from server faults.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("supabase error (status %d): %s", e.Status, e.Body)
}

// Retryable reports whether the error is worth another attempt. Only
// transport failures and 5xx responses qualify; 4xx responses are never
// retried.
func Retryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500
	}
	// Transport-level failure (timeout, connection refused, DNS).
	return err != nil
}
