package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/config"
	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/db/repository"
	"github.com/ad-tracker/analytics-sync-go/internal/metrics"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/daterange"
	"github.com/ad-tracker/analytics-sync-go/internal/service/events"
	"github.com/ad-tracker/analytics-sync-go/internal/service/lock"
	"github.com/ad-tracker/analytics-sync-go/internal/service/quota"
	"github.com/ad-tracker/analytics-sync-go/internal/service/report"
	"github.com/ad-tracker/analytics-sync-go/internal/service/token"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

// Options tune pacing and default ranges.
type Options struct {
	IncrementalLagDays int
	BackfillDays       int
	AccountDelay       time.Duration
	CallDelay          time.Duration
}

// OptionsFromConfig builds Options from the sync config section.
func OptionsFromConfig(cfg config.SyncConfig) Options {
	return Options{
		IncrementalLagDays: cfg.IncrementalLagDays,
		BackfillDays:       cfg.BackfillDays,
		AccountDelay:       cfg.AccountDelay,
		CallDelay:          cfg.CallDelay,
	}
}

// Deps are the collaborators an Orchestrator needs.
type Deps struct {
	Sources  []Source
	Tokens   token.Provider
	Budget   quota.Budget
	Accounts repository.CredentialRepository
	Metrics  repository.DailyMetricRepository
	Archive  repository.RawResponseRepository
	States   repository.SyncStateRepository
	Registry *platform.Registry
}

// Orchestrator runs backfill and incremental syncs for one account at a time.
type Orchestrator struct {
	sources  map[platform.Platform]Source
	tokens   token.Provider
	budget   quota.Budget
	accounts repository.CredentialRepository
	rows     repository.DailyMetricRepository
	archive  repository.RawResponseRepository
	states   repository.SyncStateRepository
	registry *platform.Registry
	opts     Options

	clock     quartz.Clock
	locker    Locker
	publisher EventPublisher
	logger    *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the clock used for dates and delays.
func WithClock(clock quartz.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithLocker enables per-account mutual exclusion.
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithPublisher enables completion events.
func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps, opts Options, extra ...Option) *Orchestrator {
	if opts.IncrementalLagDays < 0 {
		opts.IncrementalLagDays = 0
	}
	if opts.BackfillDays <= 0 {
		opts.BackfillDays = 365
	}

	sources := make(map[platform.Platform]Source, len(deps.Sources))
	for _, s := range deps.Sources {
		sources[s.Platform()] = s
	}

	o := &Orchestrator{
		sources:  sources,
		tokens:   deps.Tokens,
		budget:   deps.Budget,
		accounts: deps.Accounts,
		rows:     deps.Metrics,
		archive:  deps.Archive,
		states:   deps.States,
		registry: deps.Registry,
		opts:     opts,
		clock:    quartz.NewReal(),
		logger:   logger.Named("syncer"),
	}
	for _, opt := range extra {
		opt(o)
	}
	return o
}

// IncrementalDate is the platform-local day an incremental sync targets.
func (o *Orchestrator) IncrementalDate(p platform.Platform) time.Time {
	return o.registry.Today(p, o.clock.Now()).AddDate(0, 0, -o.opts.IncrementalLagDays)
}

// Backfill syncs [from, to] in calendar-aligned chunks. Zero dates default to
// the configured number of days ending at the incremental date.
func (o *Orchestrator) Backfill(ctx context.Context, accountID string, p platform.Platform, from, to time.Time) (*Result, error) {
	src, err := o.source(p)
	if err != nil {
		return nil, err
	}

	if to.IsZero() {
		to = o.IncrementalDate(p)
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -(o.opts.BackfillDays - 1))
	}

	chunks, err := daterange.Chunk(from, to, src.Granularity())
	if err != nil {
		return nil, err
	}

	return o.run(ctx, src, accountID, models.SyncModeBackfill, chunks)
}

// Incremental syncs the single day IncrementalDate(p).
func (o *Orchestrator) Incremental(ctx context.Context, accountID string, p platform.Platform) (*Result, error) {
	src, err := o.source(p)
	if err != nil {
		return nil, err
	}

	day := o.IncrementalDate(p)
	result, err := o.run(ctx, src, accountID, models.SyncModeIncremental, []daterange.Range{daterange.Day(day)})
	if result != nil {
		result.Date = &day
	}
	return result, err
}

// RunAll syncs every connected account on p one after another. Account
// failures are collected; the run continues with the next account.
func (o *Orchestrator) RunAll(ctx context.Context, p platform.Platform, mode string) (*Summary, error) {
	if _, err := o.source(p); err != nil {
		return nil, err
	}

	accounts, err := o.accounts.ListConnected(ctx, p)
	if err != nil {
		return nil, apperr.Persistence(fmt.Errorf("list connected accounts: %w", err))
	}

	summary := &Summary{Platform: p, Mode: mode, Accounts: len(accounts)}

	for i, acct := range accounts {
		if i > 0 {
			if err := o.sleep(ctx, o.opts.AccountDelay, "account_delay"); err != nil {
				return summary, err
			}
		}

		var result *Result
		switch mode {
		case models.SyncModeBackfill:
			result, err = o.Backfill(ctx, acct.AccountID, p, time.Time{}, time.Time{})
		default:
			result, err = o.Incremental(ctx, acct.AccountID, p)
		}

		if result != nil {
			summary.Results = append(summary.Results, result)
		}

		switch {
		case err == nil:
			summary.Succeeded++
		case errors.Is(err, apperr.ErrSyncInProgress):
			summary.Skipped++
		default:
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Failures = append(summary.Failures, AccountFailure{AccountID: acct.AccountID, Error: err.Error()})
		}
	}

	o.logger.Info("Platform sync finished",
		zap.String("platform", p.String()),
		zap.String("mode", mode),
		zap.Int("accounts", summary.Accounts),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", len(summary.Failures)),
	)

	return summary, nil
}

func (o *Orchestrator) source(p platform.Platform) (Source, error) {
	src, ok := o.sources[p]
	if !ok {
		return nil, fmt.Errorf("no report source for platform %q", p)
	}
	return src, nil
}

func (o *Orchestrator) run(ctx context.Context, src Source, accountID, mode string, chunks []daterange.Range) (*Result, error) {
	p := src.Platform()
	result := &Result{
		RunID:     uuid.New(),
		AccountID: accountID,
		Platform:  p,
		Mode:      mode,
		From:      chunks[0].Start,
		To:        chunks[len(chunks)-1].End,
	}

	log := o.logger.With(
		zap.String("run_id", result.RunID.String()),
		zap.String("account_id", accountID),
		zap.String("platform", p.String()),
		zap.String("mode", mode),
	)

	if o.locker != nil {
		key := lock.Key(p.String(), accountID)
		acquired, err := o.locker.Acquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if !acquired {
			metrics.SyncRuns.WithLabelValues(p.String(), mode, "skipped").Inc()
			return nil, fmt.Errorf("%w: account %s on %s", apperr.ErrSyncInProgress, accountID, p)
		}
		defer func() {
			if err := o.locker.Release(context.WithoutCancel(ctx), key); err != nil {
				log.Warn("Failed to release sync lock", zap.Error(err))
			}
		}()
	}

	started := o.clock.Now()
	if err := o.states.MarkRunning(ctx, accountID, p, mode); err != nil {
		return nil, apperr.Persistence(fmt.Errorf("mark sync running: %w", err))
	}

	log.Info("Sync started",
		zap.Time("from", result.From),
		zap.Time("to", result.To),
		zap.Int("days", daterange.Range{Start: result.From, End: result.To}.Days()),
		zap.Int("chunks", len(chunks)),
	)

	runErr := o.fetchAll(ctx, src, result, chunks, log)

	status := models.SyncStatusCompleted
	var lastErr *string
	switch {
	case runErr != nil:
		status = models.SyncStatusFailed
		msg := runErr.Error()
		lastErr = &msg
	case result.ChunksProcessed == 0 && result.ChunksFailed > 0:
		status = models.SyncStatusFailed
		msg := firstFailure(result)
		lastErr = &msg
		runErr = fmt.Errorf("%w: %w", apperr.ErrSyncFailed, result.firstErr)
	case result.ChunksProcessed == 0 && result.QuotaExhausted:
		status = models.SyncStatusFailed
		msg := firstFailure(result)
		lastErr = &msg
	case result.ChunksFailed > 0 || result.QuotaExhausted:
		msg := firstFailure(result)
		lastErr = &msg
	}

	state := &models.SyncState{
		AccountID:    accountID,
		Platform:     p,
		Status:       status,
		LastError:    lastErr,
		RowsInserted: result.Rows(),
		Mode:         mode,
	}
	finished := o.clock.Now()
	state.LastSyncAt = &finished
	if result.ChunksProcessed > 0 {
		last := result.To
		state.LastSyncDate = &last
	}

	// The final state is written even when the caller's context is gone.
	if err := o.states.Upsert(context.WithoutCancel(ctx), state); err != nil {
		log.Error("Failed to record sync state", zap.Error(err))
		if runErr == nil {
			runErr = apperr.Persistence(fmt.Errorf("record sync state: %w", err))
		}
	}

	metrics.SyncRuns.WithLabelValues(p.String(), mode, status).Inc()
	metrics.SyncDuration.WithLabelValues(p.String(), mode).Observe(finished.Sub(started).Seconds())

	fields := []zap.Field{
		zap.String("status", status),
		zap.Int("channel_rows", result.ChannelRows),
		zap.Int("entity_rows", result.EntityRows),
		zap.Int("chunks_processed", result.ChunksProcessed),
		zap.Int("chunks_failed", result.ChunksFailed),
		zap.Bool("quota_exhausted", result.QuotaExhausted),
		zap.Duration("duration", finished.Sub(started)),
	}
	if runErr != nil {
		log.Error("Sync failed", append(fields, zap.Error(runErr))...)
	} else {
		log.Info("Sync finished", fields...)
	}

	o.publish(ctx, result, status, lastErr, finished, log)

	return result, runErr
}

// fetchAll walks every report over every chunk. Chunk-level failures are
// recorded on result; the returned error is reserved for failures that stop
// the whole run.
func (o *Orchestrator) fetchAll(ctx context.Context, src Source, result *Result, chunks []daterange.Range, log *zap.Logger) error {
	p := src.Platform()
	calls := 0

	for i, reportType := range src.Reports() {
		entityReport := i > 0

		for _, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if calls > 0 {
				if err := o.sleep(ctx, o.opts.CallDelay, "call_delay"); err != nil {
					return err
				}
			}

			tok, err := o.tokens.GetValidToken(ctx, result.AccountID, p)
			if err != nil {
				return err
			}

			usage, err := o.budget.CanProceed(ctx, result.AccountID, p, src.EstimatedCost(reportType))
			if err != nil {
				return err
			}
			if !usage.Allowed {
				log.Warn("Daily quota reached, stopping sync",
					zap.Int("used", usage.CurrentUsage),
					zap.Int("critical", usage.Critical),
				)
				result.QuotaExhausted = true
				return nil
			}

			calls++
			more, err := o.syncChunk(ctx, src, tok, reportType, chunk, entityReport, result)
			if err != nil {
				if apperr.IsCredential(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				result.fail(reportType, chunk.String(), err)
				metrics.SyncChunks.WithLabelValues(p.String(), "failed").Inc()
				log.Warn("Chunk failed",
					zap.String("report", reportType),
					zap.String("range", chunk.String()),
					zap.Error(err),
				)
			} else {
				result.ChunksProcessed++
				metrics.SyncChunks.WithLabelValues(p.String(), "ok").Inc()
			}

			if !more {
				log.Warn("Daily quota reached after call, stopping sync")
				result.QuotaExhausted = true
				return nil
			}
		}
	}

	return nil
}

// syncChunk fetches, archives, maps and upserts one report chunk. Every page
// is archived and charged before any row is written. It reports whether quota
// allows further calls today.
func (o *Orchestrator) syncChunk(ctx context.Context, src Source, tok *token.Token, reportType string, chunk daterange.Range, entityReport bool, result *Result) (bool, error) {
	p := src.Platform()
	calls, fetchErr := src.Fetch(ctx, tok, reportType, chunk)

	more := true
	for _, call := range calls {
		if err := o.archiveCall(ctx, result.AccountID, p, call); err != nil {
			return more, err
		}
		if call.Cost > 0 {
			allowed, err := o.budget.TrackUsage(ctx, result.AccountID, p, call.Cost)
			if err != nil {
				return more, err
			}
			more = more && allowed
		}
	}
	if fetchErr != nil {
		return more, fetchErr
	}

	var rows []*models.DailyMetric
	for _, call := range calls {
		mapped, err := src.Map(result.AccountID, tok, call)
		if err != nil {
			return more, fmt.Errorf("map %s %s: %w", reportType, chunk, err)
		}
		rows = append(rows, mapped...)
	}
	if len(rows) == 0 {
		return more, nil
	}

	n, err := o.rows.UpsertBatch(ctx, rows)
	if err != nil {
		return more, apperr.Persistence(fmt.Errorf("upsert %s rows: %w", reportType, err))
	}

	if entityReport {
		result.EntityRows += n
	} else {
		result.ChannelRows += n
	}
	metrics.SyncRows.WithLabelValues(p.String(), rows[0].EntityType).Add(float64(n))

	return more, nil
}

func (o *Orchestrator) archiveCall(ctx context.Context, accountID string, p platform.Platform, call *report.Call) error {
	reqJSON, err := json.Marshal(call.Request)
	if err != nil {
		return fmt.Errorf("encode archived request: %w", err)
	}

	raw := &models.RawResponse{
		AccountID:    accountID,
		Platform:     p,
		ReportType:   call.ReportType,
		RequestJSON:  reqJSON,
		ResponseJSON: archivableBody(call.Response),
		ResponseHash: db.ContentHash(call.Response),
		StatusCode:   call.StatusCode,
		CapturedAt:   o.clock.Now().UTC(),
	}

	if err := o.archive.Insert(ctx, raw); err != nil {
		return apperr.Persistence(fmt.Errorf("archive %s response: %w", call.ReportType, err))
	}
	return nil
}

// archivableBody returns body as JSON. Non-JSON bodies are stored as a JSON
// string and an empty body as null.
func archivableBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	encoded, _ := json.Marshal(string(body))
	return encoded
}

func firstFailure(r *Result) string {
	if len(r.Failures) > 0 {
		f := r.Failures[0]
		return fmt.Sprintf("%s %s: %s", f.Report, f.Range, f.Error)
	}
	if r.QuotaExhausted {
		return apperr.ErrQuotaExceeded.Error()
	}
	return ""
}

func (o *Orchestrator) publish(ctx context.Context, r *Result, status string, lastErr *string, finished time.Time, log *zap.Logger) {
	if o.publisher == nil {
		return
	}

	event := &events.SyncEvent{
		RunID:           r.RunID,
		AccountID:       r.AccountID,
		Platform:        r.Platform.String(),
		Mode:            r.Mode,
		Status:          status,
		ChannelRows:     r.ChannelRows,
		EntityRows:      r.EntityRows,
		ChunksProcessed: r.ChunksProcessed,
		ChunksFailed:    r.ChunksFailed,
		QuotaExhausted:  r.QuotaExhausted,
		FinishedAt:      finished.UTC(),
	}
	if lastErr != nil {
		event.Error = *lastErr
	}

	if err := o.publisher.PublishSyncEvent(context.WithoutCancel(ctx), event); err != nil {
		log.Warn("Failed to publish sync event", zap.Error(err))
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration, tag string) error {
	if d <= 0 {
		return nil
	}
	t := o.clock.NewTimer(d, "syncer", tag)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
