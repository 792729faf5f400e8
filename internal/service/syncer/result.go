package syncer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// ChunkFailure records one report chunk that could not be ingested.
type ChunkFailure struct {
	Report string `json:"report"`
	Range  string `json:"range"`
	Error  string `json:"error"`
}

// Result summarizes one account sync run.
type Result struct {
	RunID           uuid.UUID         `json:"runId"`
	AccountID       string            `json:"accountId"`
	Platform        platform.Platform `json:"platform"`
	Mode            string            `json:"mode"`
	ChannelRows     int               `json:"channelRows"`
	EntityRows      int               `json:"entityRows"`
	ChunksProcessed int               `json:"chunksProcessed"`
	ChunksFailed    int               `json:"chunksFailed"`
	Date            *time.Time        `json:"date,omitempty"`
	From            time.Time         `json:"from"`
	To              time.Time         `json:"to"`
	QuotaExhausted  bool              `json:"quotaExhausted"`
	Failures        []ChunkFailure    `json:"failures,omitempty"`

	firstErr error
}

// Rows returns the total rows written.
func (r *Result) Rows() int {
	return r.ChannelRows + r.EntityRows
}

func (r *Result) fail(reportType, rng string, err error) {
	if r.firstErr == nil {
		r.firstErr = fmt.Errorf("%s %s: %w", reportType, rng, err)
	}
	r.ChunksFailed++
	r.Failures = append(r.Failures, ChunkFailure{Report: reportType, Range: rng, Error: err.Error()})
}

// AccountFailure is an account whose run ended in error during RunAll.
type AccountFailure struct {
	AccountID string `json:"accountId"`
	Error     string `json:"error"`
}

// Summary is the outcome of RunAll for one platform.
type Summary struct {
	Platform  platform.Platform `json:"platform"`
	Mode      string            `json:"mode"`
	Accounts  int               `json:"accounts"`
	Succeeded int               `json:"succeeded"`
	Skipped   int               `json:"skipped"`
	Failures  []AccountFailure  `json:"failures,omitempty"`
	Results   []*Result         `json:"results,omitempty"`
}
