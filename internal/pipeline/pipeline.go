// Package pipeline drives one export or import run: a single adapter
// instance pulled or fed sequentially, batches processed strictly in
// pagination order, transient failures retried with backoff, and
// cancellation honored only on batch boundaries so the
// write-ahead-then-commit-cursor invariant always holds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/dataset"
	"github.com/vecport/vecport/internal/metrics"
	"github.com/vecport/vecport/internal/resilience"
	"github.com/vecport/vecport/internal/verrors"
)

// Options configures one pipeline run.
type Options struct {
	// Vendor names the adapter for summaries and metric labels.
	Vendor string
	// BatchSize bounds records per transfer unit.
	BatchSize int
	// CallTimeout bounds each network call; a timeout is treated as a
	// transient failure.
	CallTimeout time.Duration
	// Retry controls backoff for transient fetch/write failures.
	Retry *resilience.RetryPolicy
	// Writer configures flush thresholds (export only).
	Writer dataset.WriterConfig
	// ModelName is recorded as provenance in the dataset run history.
	ModelName string
}

func DefaultOptions() Options {
	return Options{
		BatchSize:   1000,
		CallTimeout: 60 * time.Second,
	}
}

// Summary is the user-visible outcome of one run.
type Summary struct {
	RunID          string
	Vendor         string
	Dataset        string
	Records        int64
	Skipped        []adapter.RecordError
	BatchesRetried int64
	Completed      bool
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// ExitCode maps a run outcome to the CLI contract: 0 full success,
// 2 connection failure, 3 partial completion, 1 anything else.
func ExitCode(s *Summary, err error) int {
	if err != nil {
		if verrors.IsConnection(err) {
			return 2
		}
		if s != nil && (s.Records > 0 || len(s.Skipped) > 0) {
			return 3
		}
		return 1
	}
	if s == nil {
		return 1
	}
	if !s.Completed || len(s.Skipped) > 0 {
		return 3
	}
	return 0
}

// adapterID derives the stable cursor owner id for one vendor/collection
// pair, so resumed runs find the right durable position.
func adapterID(vendor, collection string) string {
	return vendor + ":" + collection
}

// callWithTimeout wraps one network call, classifying a deadline hit as
// transient so the retry policy picks it up. An outer cancellation is
// passed through untouched.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := fn(callCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return out, verrors.WrapTransient(err, op, fmt.Sprintf("call exceeded %s", timeout))
	}
	return out, err
}

func retryPolicy(opts Options, retried *int64) *resilience.RetryPolicy {
	policy := opts.Retry
	if policy == nil {
		policy = resilience.DefaultRetryPolicy()
	}
	wrapped := *policy
	prev := policy.OnRetry
	wrapped.OnRetry = func(attempt int, err error) {
		*retried++
		metrics.BatchesRetried.Inc()
		if prev != nil {
			prev(attempt, err)
		}
	}
	return &wrapped
}
