package dataset

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/vecport/vecport/internal/record"
)

// vectorRow is the parquet row shape of one record's columnar part.
type vectorRow struct {
	ID     string    `parquet:"id"`
	Vector []float32 `parquet:"vector"`
}

// writeChunk writes one flush unit as a single parquet file and fsyncs it
// before returning, so the metadata commit that follows never points at
// non-durable vector data. Returns the file size.
func writeChunk(path string, batch record.Batch) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create chunk: %w", err)
	}

	pw := parquet.NewGenericWriter[vectorRow](f, parquet.Compression(&parquet.Zstd))
	rows := make([]vectorRow, len(batch))
	for i, rec := range batch {
		rows[i] = vectorRow{ID: rec.ID, Vector: rec.Vector}
	}
	if _, err := pw.Write(rows); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("write chunk rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("close chunk writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("sync chunk: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// readChunk loads all rows of one chunk. Chunks are bounded by the
// writer's flush thresholds, so this stays within the memory budget.
func readChunk(path string) ([]vectorRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunk: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("parse chunk: %w", err)
	}

	pr := parquet.NewGenericReader[vectorRow](pf)
	defer pr.Close()
	rows := make([]vectorRow, pr.NumRows())
	if _, err := pr.Read(rows); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read chunk rows: %w", err)
	}
	return rows, nil
}
