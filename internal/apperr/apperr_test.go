package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIErrorTransient(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{status: 400, want: false},
		{status: 401, want: false},
		{status: 403, want: false},
		{status: 429, want: false},
		{status: 500, want: true},
		{status: 503, want: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := &APIError{Status: tt.status}
			assert.Equal(t, tt.want, err.Transient())
			assert.Equal(t, !tt.want, IsRejected(fmt.Errorf("fetch: %w", err)))
		})
	}

	assert.False(t, IsRejected(errors.New("plain")))
}

func TestAPIErrorMessageTruncatesBody(t *testing.T) {
	err := &APIError{Status: 500, Body: strings.Repeat("x", 1000)}

	msg := err.Error()
	assert.Contains(t, msg, "status 500")
	assert.Less(t, len(msg), 600)
}

func TestIsCredential(t *testing.T) {
	assert.True(t, IsCredential(fmt.Errorf("acct: %w", ErrNoConnection)))
	assert.True(t, IsCredential(ErrRefreshUnavailable))
	assert.True(t, IsCredential(fmt.Errorf("%w: invalid_grant", ErrRefreshFailed)))
	assert.False(t, IsCredential(ErrQuotaExceeded))
}

func TestPersistence(t *testing.T) {
	assert.NoError(t, Persistence(nil))

	cause := errors.New("connection reset")
	err := Persistence(cause)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
}
