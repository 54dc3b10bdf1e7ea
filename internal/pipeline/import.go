package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/dataset"
	"github.com/vecport/vecport/internal/logging"
	"github.com/vecport/vecport/internal/metrics"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/resilience"
)

// Import replays the dataset at dir into snk. Progress is checkpointed in
// a sidecar cursor file per target adapter, so an interrupted import
// resumes after the last fully applied batch. The dataset itself is only
// ever opened read-only.
func Import(ctx context.Context, snk adapter.Sink, dir string, params adapter.Params, opts Options, log *zap.Logger) (*Summary, error) {
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

	r, err := dataset.OpenReader(dir, opts.BatchSize)
	if err != nil {
		return summary, err
	}
	defer r.Close()

	// The caller owns snk and closes it after Import returns.
	if _, err := callWithTimeout(ctx, opts.CallTimeout, "sink.open", func(c context.Context) (struct{}, error) {
		return struct{}{}, snk.Open(c, params)
	}); err != nil {
		return summary, err
	}

	id := adapterID(opts.Vendor, params.Collection)
	statePath := importStatePath(dir, id)
	if saved, ok, err := loadImportCursor(statePath); err != nil {
		return summary, err
	} else if ok {
		if err := r.Seek(saved); err != nil {
			return summary, err
		}
		summary.Records = 0
		log.Info("resuming import from checkpoint",
			zap.String("adapter", id), zap.Int64("rows_applied", saved.Emitted))
	}

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		batch, cur, err := r.Next(ctx)
		if errors.Is(err, adapter.EndOfStream) {
			break
		}
		if err != nil {
			return summary, err
		}

		res, err := resilience.Retry(ctx, policy, func() (adapter.WriteResult, error) {
			return callWithTimeout(ctx, opts.CallTimeout, "sink.write_batch", func(c context.Context) (adapter.WriteResult, error) {
				return snk.WriteBatch(c, batch)
			})
		})
		if err != nil {
			return summary, err
		}

		summary.Records += int64(res.Written)
		summary.Skipped = append(summary.Skipped, res.Failures...)
		metrics.RecordsImported.WithLabelValues(opts.Vendor).Add(float64(res.Written))
		for range res.Failures {
			metrics.RecordsSkipped.WithLabelValues("write_error").Inc()
		}

		// The batch is fully applied; only now does the checkpoint move.
		cur.AdapterID = id
		if err := saveImportCursor(statePath, cur); err != nil {
			return summary, err
		}
	}

	if _, err := resilience.Retry(ctx, policy, func() (struct{}, error) {
		return callWithTimeout(ctx, opts.CallTimeout, "sink.finalize", func(c context.Context) (struct{}, error) {
			return struct{}{}, snk.Finalize(c)
		})
	}); err != nil {
		return summary, err
	}

	summary.Completed = true
	log.Info("import finished",
		zap.Int64("records", summary.Records),
		zap.Int("failed", len(summary.Skipped)),
		zap.Int64("batches_retried", summary.BatchesRetried))
	return summary, nil
}

func importStatePath(dir, adapterID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, adapterID)
	return filepath.Join(dir, ".import-"+safe+".json")
}

func loadImportCursor(path string) (record.Cursor, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return record.Cursor{}, false, nil
	}
	if err != nil {
		return record.Cursor{}, false, err
	}
	var cur record.Cursor
	if err := json.Unmarshal(data, &cur); err != nil {
		return record.Cursor{}, false, fmt.Errorf("parse import checkpoint: %w", err)
	}
	return cur, true, nil
}

func saveImportCursor(path string, cur record.Cursor) error {
	data, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write import checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}
