package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/metrics"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/schema"
	"github.com/vecport/vecport/internal/verrors"
)

// WriterConfig bounds the in-memory buffer. A flush happens once either
// threshold is crossed, always on a batch boundary.
type WriterConfig struct {
	FlushRows  int
	FlushBytes int64
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		FlushRows:  4096,
		FlushBytes: 32 << 20,
	}
}

// Writer appends record batches to the dataset in arrival order. Vectors
// go to parquet chunk files, metadata and relations to SQLite, and the
// source cursor is committed in the same transaction as the metadata
// rows, only after the chunk file is durable on disk. On restart the
// persisted cursor therefore never points past data that was lost.
type Writer struct {
	layout Layout
	db     *sql.DB
	rc     *schema.Reconciler
	log    *zap.Logger
	cfg    WriterConfig

	buf        record.Batch
	bufBytes   int64
	pending    record.Cursor
	hasPending bool

	nextSeq     int
	nextRowIdx  int64
	appliedCols map[string]bool
	frozen      bool
}

// NewWriter opens a dataset directory for writing, resuming from its last
// durable state if the directory holds a partial export. Chunk files
// written after the last committed flush (a crash window) are discarded.
func NewWriter(dir string, rc *schema.Reconciler, log *zap.Logger, cfg WriterConfig) (*Writer, error) {
	if cfg.FlushRows <= 0 {
		cfg.FlushRows = DefaultWriterConfig().FlushRows
	}
	if cfg.FlushBytes <= 0 {
		cfg.FlushBytes = DefaultWriterConfig().FlushBytes
	}

	layout := NewLayout(dir)
	if _, err := os.Stat(layout.SchemaPath()); err == nil {
		return nil, verrors.NewFatal("writer.open", "dataset is already frozen: "+dir)
	}
	if err := os.MkdirAll(layout.VectorsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}

	db, err := openMetaDB(layout.MetaDBPath(), false)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	w := &Writer{
		layout:      layout,
		db:          db,
		rc:          rc,
		log:         log,
		cfg:         cfg,
		appliedCols: make(map[string]bool),
	}
	if err := w.loadState(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := w.removeOrphanChunks(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) loadState(ctx context.Context) error {
	var body string
	err := w.db.QueryRowContext(ctx, `SELECT body FROM schema_state WHERE id = 1`).Scan(&body)
	switch {
	case err == nil:
		var s record.Schema
		if err := json.Unmarshal([]byte(body), &s); err != nil {
			return fmt.Errorf("parse persisted schema: %w", err)
		}
		w.rc.Restore(s)
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("load persisted schema: %w", err)
	}

	rows, err := w.db.QueryContext(ctx, `SELECT seq, rows FROM chunks ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("load chunk manifest: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var seq int
		var n int64
		if err := rows.Scan(&seq, &n); err != nil {
			return err
		}
		w.nextSeq = seq + 1
		w.nextRowIdx += n
	}
	if err := rows.Err(); err != nil {
		return err
	}

	cols, err := w.db.QueryContext(ctx, `PRAGMA table_info(records)`)
	if err != nil {
		return fmt.Errorf("inspect records table: %w", err)
	}
	defer cols.Close()
	for cols.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := cols.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		w.appliedCols[name] = true
	}
	return cols.Err()
}

// removeOrphanChunks deletes chunk files past the committed manifest.
// They are leftovers from a crash between the parquet write and the
// metadata commit, and their rows were never acknowledged by a cursor.
func (w *Writer) removeOrphanChunks() error {
	entries, err := os.ReadDir(w.layout.VectorsDir())
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		var seq int
		if _, err := fmt.Sscanf(e.Name(), "chunk-%06d.parquet", &seq); err != nil {
			continue
		}
		if seq >= w.nextSeq {
			path := filepath.Join(w.layout.VectorsDir(), e.Name())
			w.log.Warn("removing uncommitted chunk left by an interrupted run",
				zap.String("chunk", e.Name()))
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove orphan chunk: %w", err)
			}
		}
	}
	return nil
}

// Cursor returns the last durably committed cursor for an adapter, if any.
func (w *Writer) Cursor(ctx context.Context, adapterID string) (record.Cursor, bool, error) {
	var cur record.Cursor
	cur.AdapterID = adapterID
	err := w.db.QueryRowContext(ctx,
		`SELECT position, emitted FROM cursors WHERE adapter_id = ?`, adapterID).
		Scan(&cur.Position, &cur.Emitted)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Cursor{}, false, nil
	}
	if err != nil {
		return record.Cursor{}, false, fmt.Errorf("load cursor: %w", err)
	}
	return cur, true, nil
}

// Rows returns the number of durably committed records.
func (w *Writer) Rows() int64 { return w.nextRowIdx + int64(len(w.buf)) }

// Append validates one batch against the evolving schema, widening it for
// new fields and relations, and buffers the valid records. Records that
// cannot fit the schema are skipped and reported; a field-level type
// conflict aborts the whole run. cur is the source cursor positioned
// after this batch; it becomes durable at the next flush.
func (w *Writer) Append(ctx context.Context, batch record.Batch, cur record.Cursor) ([]adapter.RecordError, error) {
	if w.frozen {
		return nil, verrors.NewFatal("writer.append", "dataset is frozen")
	}

	var skipped []adapter.RecordError
	for _, rec := range batch {
		// A vector-less record must never commit: before the dimensionality
		// is pinned it would poison every later read of its row range.
		if len(rec.Vector) == 0 {
			skipped = append(skipped, adapter.RecordError{
				ID: rec.ID,
				Err: verrors.NewSchemaViolation("writer.append", "record has no vector").
					WithRecord(rec.ID),
			})
			continue
		}
		// A wrong-length vector must not widen the schema before being
		// rejected, so the dimensionality check runs first.
		sch := w.rc.Schema()
		if sch.Dimensionality > 0 && len(rec.Vector) != sch.Dimensionality {
			skipped = append(skipped, adapter.RecordError{
				ID: rec.ID,
				Err: verrors.NewSchemaViolation("writer.append",
					fmt.Sprintf("vector length %d, want %d", len(rec.Vector), sch.Dimensionality)).
					WithRecord(rec.ID),
			})
			continue
		}
		if err := w.rc.Observe(rec); err != nil {
			if verrors.IsSchemaConflict(err) {
				return skipped, err
			}
			skipped = append(skipped, adapter.RecordError{ID: rec.ID, Err: err})
			continue
		}
		sch = w.rc.Schema()
		if err := rec.Validate(&sch); err != nil {
			skipped = append(skipped, adapter.RecordError{ID: rec.ID, Err: err})
			continue
		}
		w.buf = append(w.buf, rec)
		w.bufBytes += int64(4*len(rec.Vector)) + 64
	}

	w.pending = cur
	w.hasPending = true
	metrics.SchemaFields.Set(float64(len(w.rc.Schema().Fields)))

	if len(w.buf) >= w.cfg.FlushRows || w.bufBytes >= w.cfg.FlushBytes {
		return skipped, w.Flush(ctx)
	}
	return skipped, nil
}

// Flush durably writes the buffered records: parquet chunk first, then
// one SQLite transaction carrying the metadata rows, relations, chunk
// manifest entry, persisted schema and the cursor. The flush unit and the
// cursor unit are always the same record set.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.buf) == 0 && !w.hasPending {
		return nil
	}
	start := time.Now()

	var chunkSize int64
	seq := w.nextSeq
	if len(w.buf) > 0 {
		var err error
		chunkSize, err = writeChunk(w.layout.ChunkPath(seq), w.buf)
		if err != nil {
			return verrors.WrapFatal(err, "writer.flush", "chunk write failed")
		}
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sch := w.rc.Schema()
	if err := w.ensureColumns(ctx, tx, &sch); err != nil {
		return err
	}

	if len(w.buf) > 0 {
		if err := w.insertRows(ctx, tx, &sch); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (seq, file, rows, start_rowidx) VALUES (?, ?, ?, ?)`,
			seq, w.layout.ChunkFile(seq), len(w.buf), w.nextRowIdx); err != nil {
			return fmt.Errorf("insert chunk manifest row: %w", err)
		}
	}

	body, err := json.Marshal(sch)
	if err != nil {
		return fmt.Errorf("encode schema state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_state (id, body) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body`, string(body)); err != nil {
		return fmt.Errorf("persist schema state: %w", err)
	}

	if w.hasPending {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cursors (adapter_id, position, emitted) VALUES (?, ?, ?)
			 ON CONFLICT(adapter_id) DO UPDATE SET position = excluded.position, emitted = excluded.emitted`,
			w.pending.AdapterID, w.pending.Position, w.pending.Emitted); err != nil {
			return fmt.Errorf("persist cursor: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return verrors.WrapFatal(err, "writer.flush", "metadata commit failed")
	}

	if len(w.buf) > 0 {
		w.nextRowIdx += int64(len(w.buf))
		w.nextSeq++
		metrics.ChunkSizeBytes.Observe(float64(chunkSize))
		w.log.Debug("flushed chunk",
			zap.Int("seq", seq),
			zap.Int("rows", len(w.buf)),
			zap.Int64("bytes", chunkSize))
	}
	metrics.ChunkFlushDurationSeconds.Observe(time.Since(start).Seconds())

	w.buf = nil
	w.bufBytes = 0
	w.hasPending = false
	return nil
}

func (w *Writer) ensureColumns(ctx context.Context, tx *sql.Tx, sch *record.Schema) error {
	for _, f := range sch.Fields {
		col := metaColumnPrefix + f.Name
		if w.appliedCols[col] {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE records ADD COLUMN %s %s`,
			quoteIdent(col), sqlColumnType(f.Type))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add metadata column %q: %w", f.Name, err)
		}
		w.appliedCols[col] = true
	}
	return nil
}

func (w *Writer) insertRows(ctx context.Context, tx *sql.Tx, sch *record.Schema) error {
	cols := []string{"rowidx", "id"}
	for _, f := range sch.Fields {
		cols = append(cols, metaColumn(f.Name))
	}
	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insertSQL := fmt.Sprintf(`INSERT INTO records (%s) VALUES (%s)`,
		joinIdents(cols), joinIdents(placeholders))

	recStmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer recStmt.Close()

	relStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO relations (rowidx, name, target_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare relation insert: %w", err)
	}
	defer relStmt.Close()

	rowIdx := w.nextRowIdx
	for _, rec := range w.buf {
		args := make([]any, 0, len(cols))
		args = append(args, rowIdx, rec.ID)
		for _, f := range sch.Fields {
			val, ok := rec.Metadata[f.Name]
			if !ok {
				args = append(args, nil)
				continue
			}
			sv, err := toSQLValue(val, f.Type)
			if err != nil {
				return verrors.Wrap(err, verrors.KindSchemaViolation, "writer.flush", "metadata value").WithRecord(rec.ID)
			}
			args = append(args, sv)
		}
		if _, err := recStmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert record %q: %w", rec.ID, err)
		}
		for _, rel := range rec.Relations {
			if _, err := relStmt.ExecContext(ctx, rowIdx, rel.Name, rel.TargetID); err != nil {
				return fmt.Errorf("insert relation for %q: %w", rec.ID, err)
			}
		}
		rowIdx++
	}
	return nil
}

func joinIdents(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// Freeze flushes the remaining buffer, seals the schema and writes the
// descriptor file. The writer accepts no batches afterwards.
func (w *Writer) Freeze(ctx context.Context) (record.Schema, error) {
	if err := w.Flush(ctx); err != nil {
		return record.Schema{}, err
	}
	sch := w.rc.Freeze()
	if err := schema.SaveDescriptor(w.layout.SchemaPath(), sch); err != nil {
		return record.Schema{}, err
	}
	w.frozen = true
	w.log.Info("dataset frozen",
		zap.Int("dimensionality", sch.Dimensionality),
		zap.Int("fields", len(sch.Fields)),
		zap.Int64("rows", w.nextRowIdx))
	return sch, nil
}

// StartRun records the beginning of an export/import run.
func (w *Writer) StartRun(ctx context.Context, runID, kind, vendor, modelName string) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, kind, vendor, model_name, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, kind, vendor, modelName, time.Now().UTC().Format(time.RFC3339))
	return err
}

// FinishRun records the outcome of a run.
func (w *Writer) FinishRun(ctx context.Context, runID string, completed bool, records, skipped, retried int64) error {
	done := 0
	if completed {
		done = 1
	}
	_, err := w.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, completed = ?, records = ?, skipped = ?, retried = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339), done, records, skipped, retried, runID)
	return err
}

func (w *Writer) Close() error {
	return w.db.Close()
}
