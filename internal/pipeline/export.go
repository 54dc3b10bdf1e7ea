package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/dataset"
	"github.com/vecport/vecport/internal/logging"
	"github.com/vecport/vecport/internal/metrics"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/resilience"
	"github.com/vecport/vecport/internal/schema"
)

type fetchResult struct {
	batch record.Batch
	next  record.Cursor
}

// Export drains src into the dataset directory. The run resumes from the
// dataset's durable cursor when one exists; on any abort the dataset is
// left at its last committed state and a later run picks up from there.
func Export(ctx context.Context, src adapter.Source, dir string, params adapter.Params, opts Options, log *zap.Logger) (*Summary, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}
	params.BatchSize = opts.BatchSize
	params.Timeout = opts.CallTimeout

	summary := &Summary{
		RunID:   NewRunID(),
		Vendor:  opts.Vendor,
		Dataset: dir,
	}
	log = logging.ForRun(log, summary.RunID, opts.Vendor)
	policy := retryPolicy(opts, &summary.BatchesRetried)

	rc := schema.NewReconciler()
	w, err := dataset.NewWriter(dir, rc, log, opts.Writer)
	if err != nil {
		return summary, err
	}
	defer w.Close()

	cur, err := callWithTimeout(ctx, opts.CallTimeout, "source.open", func(c context.Context) (record.Cursor, error) {
		return src.Open(c, params)
	})
	if err != nil {
		return summary, err
	}
	id := adapterID(opts.Vendor, params.Collection)
	cur.AdapterID = id

	if saved, ok, err := w.Cursor(ctx, id); err != nil {
		return summary, err
	} else if ok {
		log.Info("resuming export from durable cursor",
			zap.String("adapter", id), zap.Int64("records_emitted", saved.Emitted))
		cur = saved
	}

	if err := w.StartRun(ctx, summary.RunID, "export", opts.Vendor, opts.ModelName); err != nil {
		return summary, err
	}

	resolver, canResolve := src.(adapter.RelationResolver)

	for {
		// Cancellation is cooperative and lands between batches only.
		if err := ctx.Err(); err != nil {
			finishRun(ctx, w, summary, log)
			return summary, err
		}

		res, err := resilience.Retry(ctx, policy, func() (fetchResult, error) {
			return callWithTimeout(ctx, opts.CallTimeout, "source.next_batch", func(c context.Context) (fetchResult, error) {
				b, nc, err := src.NextBatch(c, cur)
				return fetchResult{batch: b, next: nc}, err
			})
		})
		if errors.Is(err, adapter.EndOfStream) {
			break
		}
		if err != nil {
			finishRun(ctx, w, summary, log)
			return summary, err
		}

		batch := res.batch
		if canResolve && params.IncludeRelations {
			batch, err = resolver.ResolveRelations(ctx, batch)
			if err != nil {
				finishRun(ctx, w, summary, log)
				return summary, err
			}
		}

		next := res.next
		next.AdapterID = id
		skipped, err := w.Append(ctx, batch, next)
		summary.Skipped = append(summary.Skipped, skipped...)
		for range skipped {
			metrics.RecordsSkipped.WithLabelValues("schema_violation").Inc()
		}
		if err != nil {
			finishRun(ctx, w, summary, log)
			return summary, err
		}

		written := int64(len(batch) - len(skipped))
		summary.Records += written
		metrics.RecordsExported.WithLabelValues(opts.Vendor).Add(float64(written))
		cur = next
	}

	if _, err := w.Freeze(ctx); err != nil {
		finishRun(ctx, w, summary, log)
		return summary, err
	}
	summary.Completed = true
	finishRun(ctx, w, summary, log)

	log.Info("export finished",
		zap.Int64("records", summary.Records),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Int64("batches_retried", summary.BatchesRetried))
	return summary, nil
}

func finishRun(ctx context.Context, w *dataset.Writer, s *Summary, log *zap.Logger) {
	if err := w.FinishRun(ctx, s.RunID, s.Completed, s.Records, int64(len(s.Skipped)), s.BatchesRetried); err != nil {
		log.Warn("failed to record run outcome", zap.Error(err))
	}
}
