package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// Default batching settings.
const (
	DefaultBatchSize   = 50
	DefaultRetryBase   = 500 * time.Millisecond
	DefaultRetryFactor = 2.0
	DefaultMaxRetries  = 2
)

// maxRetryInterval caps a single backoff delay.
const maxRetryInterval = time.Minute

// RowOutcome is a backend's verdict on one submitted record.
type RowOutcome struct {
	RowIndex int
	OK       bool
	Reason   string // set when !OK
}

// BatchSubmitter sends one batch to the backend. A non-nil error fails the
// whole batch and is retried unless it wraps ErrBatchRejected; otherwise
// outcomes are matched to records by RowIndex.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, records []Record) ([]RowOutcome, error)
}

// SubmitFunc adapts a function to BatchSubmitter.
type SubmitFunc func(ctx context.Context, records []Record) ([]RowOutcome, error)

func (f SubmitFunc) SubmitBatch(ctx context.Context, records []Record) ([]RowOutcome, error) {
	return f(ctx, records)
}

// RecordFunc submits a single record. A returned error fails that record only.
type RecordFunc func(ctx context.Context, rec Record) error

// PerRecord adapts a per-record capability to BatchSubmitter, running up
// to concurrency submissions at once within a batch. Outcomes keep the
// batch order. The batch fails wholesale only if ctx ends.
func PerRecord(fn RecordFunc, concurrency int) BatchSubmitter {
	if concurrency <= 0 {
		concurrency = 1
	}
	return SubmitFunc(func(ctx context.Context, records []Record) ([]RowOutcome, error) {
		outcomes := make([]RowOutcome, len(records))

		var g errgroup.Group
		g.SetLimit(concurrency)
		for i, rec := range records {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				outcomes[i] = RowOutcome{RowIndex: rec.RowIndex, OK: true}
				if err := fn(ctx, rec); err != nil {
					outcomes[i] = RowOutcome{RowIndex: rec.RowIndex, Reason: err.Error()}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return outcomes, nil
	})
}

// CancelToken is a cooperative cancellation flag checked between batches.
type CancelToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Cancel sets the token. Safe to call more than once.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.ch) })
}

// Cancelled reports whether Cancel was called.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done is closed when the token is cancelled.
func (t *CancelToken) Done() <-chan struct{} {
	return t.ch
}

// BatcherConfig controls batch size and retry of failed batches.
type BatcherConfig struct {
	BatchSize   int
	RetryBase   time.Duration
	RetryFactor float64
	MaxRetries  int // retries after the first attempt
}

func (c BatcherConfig) withDefaults() BatcherConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryFactor < 1 {
		c.RetryFactor = DefaultRetryFactor
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// ImportBatcher submits validated records in fixed-size batches, one
// batch at a time, in row order.
type ImportBatcher struct {
	submitter BatchSubmitter
	cfg       BatcherConfig
	logger    *slog.Logger
}

// NewImportBatcher creates a batcher. A nil logger uses slog.Default().
func NewImportBatcher(submitter BatchSubmitter, cfg BatcherConfig, logger *slog.Logger) *ImportBatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportBatcher{submitter: submitter, cfg: cfg.withDefaults(), logger: logger}
}

// Submit sends records and accumulates outcomes into report. The token
// and ctx are checked before every batch; once either is done no further
// batch is sent, the rows not yet sent are left out of the report, and
// StatusCancelled is returned. sink, if non-nil, is called after every
// batch.
func (b *ImportBatcher) Submit(ctx context.Context, records []Record, report *ImportReport, token *CancelToken, sink func(Progress)) Status {
	total := len(records)
	processed := 0

	for start := 0; start < total; start += b.cfg.BatchSize {
		if (token != nil && token.Cancelled()) || ctx.Err() != nil {
			b.logger.Info("import cancelled between batches",
				"session_id", report.SessionID, "sent", processed, "unsent", total-processed)
			return StatusCancelled
		}

		end := min(start+b.cfg.BatchSize, total)
		batch := records[start:end]
		batchNo := start/b.cfg.BatchSize + 1

		outcomes, err := b.send(ctx, batch, report.SessionID, batchNo)
		if err != nil {
			b.logger.Warn("batch failed",
				"session_id", report.SessionID, "batch", batchNo, "rows", len(batch), "error", err)
			for _, rec := range batch {
				report.addError(RowError{
					Row:     rec.RowIndex,
					Field:   RowField,
					Kind:    KindSubmissionFailed,
					Message: err.Error(),
				})
			}
		} else {
			b.apply(batch, outcomes, report)
		}

		processed = end
		if sink != nil {
			sink(Progress{
				SessionID: report.SessionID,
				State:     StateSubmitting,
				Processed: processed,
				Total:     total,
				Succeeded: report.Succeeded,
				Failed:    report.Failed,
			})
		}
	}

	return StatusCompleted
}

// send submits one batch, retrying wholesale failures with exponential
// backoff. The returned error is what the last attempt failed with.
func (b *ImportBatcher) send(ctx context.Context, batch []Record, sessionID string, batchNo int) ([]RowOutcome, error) {
	attempt := 0
	op := func() ([]RowOutcome, error) {
		attempt++
		outcomes, err := b.submitter.SubmitBatch(ctx, batch)
		if err != nil {
			if errors.Is(err, ErrBatchRejected) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return outcomes, nil
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     b.cfg.RetryBase,
		Multiplier:          b.cfg.RetryFactor,
		RandomizationFactor: 0,
		MaxInterval:         maxRetryInterval,
	}
	policy.Reset()

	outcomes, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(b.cfg.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.logger.Info("retrying batch",
				"session_id", sessionID, "batch", batchNo, "attempt", attempt, "wait", next, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("submission failed after %d attempt(s): %w", attempt, err)
	}
	return outcomes, nil
}

// apply records per-row outcomes. A record the backend did not report on
// counts as failed.
func (b *ImportBatcher) apply(batch []Record, outcomes []RowOutcome, report *ImportReport) {
	byRow := make(map[int]RowOutcome, len(outcomes))
	for _, o := range outcomes {
		byRow[o.RowIndex] = o
	}

	for _, rec := range batch {
		o, ok := byRow[rec.RowIndex]
		switch {
		case !ok:
			report.addError(RowError{
				Row:     rec.RowIndex,
				Field:   RowField,
				Kind:    KindSubmissionFailed,
				Message: "backend returned no outcome for this row",
			})
		case o.OK:
			report.Succeeded++
		default:
			reason := o.Reason
			if reason == "" {
				reason = "rejected by backend"
			}
			report.addError(RowError{
				Row:     rec.RowIndex,
				Field:   RowField,
				Kind:    KindSubmissionFailed,
				Message: reason,
			})
		}
	}
}
