// Package apperr defines the error kinds shared by the sync pipeline.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoConnection is returned when no credential is stored for an account/platform.
	ErrNoConnection = errors.New("platform not connected")

	// ErrRefreshUnavailable is returned when a token is expired and cannot be refreshed.
	ErrRefreshUnavailable = errors.New("token expired and no refresh is possible")

	// ErrRefreshFailed is returned when the token endpoint rejects a refresh.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrQuotaExceeded is returned when the daily API budget has reached its critical level.
	ErrQuotaExceeded = errors.New("daily API quota exceeded")

	// ErrSyncInProgress is returned when another sync holds the account lock.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrPersistence wraps storage failures surfaced to callers.
	ErrPersistence = errors.New("persistence failure")

	// ErrSyncFailed is returned when a run ingested no chunk because every attempted chunk failed.
	ErrSyncFailed = errors.New("sync failed")
)

// APIError is a non-success HTTP response from an upstream platform API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, body)
}

// Transient reports whether a retry could plausibly succeed.
func (e *APIError) Transient() bool {
	return e.Status >= http.StatusInternalServerError
}

// IsRejected reports whether err carries an upstream response that a retry
// would not change, such as a 4xx.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Transient()
}

// IsCredential reports whether err means the account cannot authenticate upstream.
func IsCredential(err error) bool {
	return errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrRefreshUnavailable) ||
		errors.Is(err, ErrRefreshFailed)
}

// Persistence wraps a storage error so callers can match ErrPersistence.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
