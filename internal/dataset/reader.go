package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/schema"
	"github.com/vecport/vecport/internal/verrors"
)

type chunkInfo struct {
	seq      int
	file     string
	rows     int64
	startRow int64
}

// Reader streams a frozen dataset back out as record batches, reading the
// parquet chunks and the relational rows in lockstep row order and joining
// them by position. Several readers may open the same dataset at once; the
// SQLite file is opened read-only.
type Reader struct {
	layout    Layout
	db        *sql.DB
	schema    record.Schema
	chunks    []chunkInfo
	batchSize int

	pos       int64 // next global row index to emit
	totalRows int64

	loadedSeq  int // seq of the chunk in memory, -1 when none
	loadedRows []vectorRow
	loadedInfo chunkInfo
}

// OpenReader opens a completed dataset. It fails if the schema descriptor
// is missing, which means the export never reached end of stream.
func OpenReader(dir string, batchSize int) (*Reader, error) {
	layout := NewLayout(dir)

	if _, err := os.Stat(layout.SchemaPath()); err != nil {
		return nil, verrors.NewFatal("reader.open",
			"dataset has no frozen schema (incomplete export?): "+dir)
	}
	sch, err := schema.LoadDescriptor(layout.SchemaPath())
	if err != nil {
		return nil, verrors.WrapFatal(err, "reader.open", "schema descriptor unreadable")
	}

	db, err := openMetaDB(layout.MetaDBPath(), true)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		layout:    layout,
		db:        db,
		schema:    sch,
		batchSize: batchSize,
		loadedSeq: -1,
	}
	if r.batchSize <= 0 {
		r.batchSize = 1000
	}
	if err := r.loadChunks(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) loadChunks(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, file, rows, start_rowidx FROM chunks ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("load chunk manifest: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c chunkInfo
		if err := rows.Scan(&c.seq, &c.file, &c.rows, &c.startRow); err != nil {
			return err
		}
		r.chunks = append(r.chunks, c)
		r.totalRows = c.startRow + c.rows
	}
	return rows.Err()
}

// Schema returns the frozen dataset schema.
func (r *Reader) Schema() record.Schema { return r.schema.Clone() }

// Rows returns the total record count.
func (r *Reader) Rows() int64 { return r.totalRows }

// CursorID identifies reader cursors in persisted state.
const readerAdapterID = "dataset-reader"

// Seek positions the reader from a persisted cursor.
func (r *Reader) Seek(cur record.Cursor) error {
	if cur.Position == "" {
		r.pos = 0
		return nil
	}
	pos, err := strconv.ParseInt(cur.Position, 10, 64)
	if err != nil || pos < 0 || pos > r.totalRows {
		return verrors.NewFatal("reader.seek", "cursor position unusable: "+cur.Position)
	}
	r.pos = pos
	r.loadedSeq = -1
	return nil
}

// Next returns the next batch and the cursor positioned after it, or
// adapter.EndOfStream when the dataset is drained.
func (r *Reader) Next(ctx context.Context) (record.Batch, record.Cursor, error) {
	cur := record.Cursor{AdapterID: readerAdapterID, Position: strconv.FormatInt(r.pos, 10), Emitted: r.pos}
	if r.pos >= r.totalRows {
		return nil, cur, adapter.EndOfStream
	}

	end := r.pos + int64(r.batchSize)
	if end > r.totalRows {
		end = r.totalRows
	}

	vectors, err := r.vectorRows(r.pos, end)
	if err != nil {
		return nil, cur, err
	}
	batch, err := r.joinMetadata(ctx, vectors, r.pos, end)
	if err != nil {
		return nil, cur, err
	}

	r.pos = end
	cur.Position = strconv.FormatInt(r.pos, 10)
	cur.Emitted = r.pos
	return batch, cur, nil
}

// vectorRows collects parquet rows for the half-open global range.
func (r *Reader) vectorRows(start, end int64) ([]vectorRow, error) {
	out := make([]vectorRow, 0, end-start)
	for pos := start; pos < end; {
		info, ok := r.chunkAt(pos)
		if !ok {
			return nil, verrors.NewFatal("reader.next",
				fmt.Sprintf("no chunk covers row %d", pos))
		}
		if r.loadedSeq != info.seq {
			rows, err := readChunk(r.layout.ChunkPath(info.seq))
			if err != nil {
				return nil, verrors.WrapFatal(err, "reader.next", "chunk unreadable")
			}
			if int64(len(rows)) != info.rows {
				return nil, verrors.NewFatal("reader.next",
					fmt.Sprintf("chunk %d has %d rows, manifest says %d", info.seq, len(rows), info.rows))
			}
			r.loadedSeq = info.seq
			r.loadedRows = rows
			r.loadedInfo = info
		}
		offset := pos - info.startRow
		take := info.rows - offset
		if remaining := end - pos; take > remaining {
			take = remaining
		}
		out = append(out, r.loadedRows[offset:offset+take]...)
		pos += take
	}
	return out, nil
}

func (r *Reader) chunkAt(pos int64) (chunkInfo, bool) {
	for _, c := range r.chunks {
		if pos >= c.startRow && pos < c.startRow+c.rows {
			return c, true
		}
	}
	return chunkInfo{}, false
}

// joinMetadata loads the relational rows for the range and joins them to
// the vector rows by position, verifying the id columns line up.
func (r *Reader) joinMetadata(ctx context.Context, vectors []vectorRow, start, end int64) (record.Batch, error) {
	cols := `rowidx, id`
	for _, f := range r.schema.Fields {
		cols += ", " + metaColumn(f.Name)
	}
	query := fmt.Sprintf(
		`SELECT %s FROM records WHERE rowidx >= ? AND rowidx < ? ORDER BY rowidx`, cols)
	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("load metadata rows: %w", err)
	}
	defer rows.Close()

	batch := make(record.Batch, 0, end-start)
	i := 0
	for rows.Next() {
		if i >= len(vectors) {
			return nil, verrors.NewFatal("reader.next", "more metadata rows than vector rows")
		}
		scan := make([]any, 2+len(r.schema.Fields))
		ptrs := make([]any, len(scan))
		for j := range scan {
			ptrs[j] = &scan[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rowIdx, _ := scan[0].(int64)
		id := stringValue(scan[1])
		if id != vectors[i].ID {
			return nil, verrors.NewFatal("reader.next",
				fmt.Sprintf("row %d: metadata id %q does not match vector id %q", rowIdx, id, vectors[i].ID))
		}
		if r.schema.Dimensionality > 0 && len(vectors[i].Vector) != r.schema.Dimensionality {
			return nil, verrors.NewSchemaViolation("reader.next",
				fmt.Sprintf("vector length %d, want %d", len(vectors[i].Vector), r.schema.Dimensionality)).
				WithRecord(id)
		}

		rec := record.Record{ID: id, Vector: vectors[i].Vector}
		for j, f := range r.schema.Fields {
			val, err := fromSQLValue(scan[2+j], f.Type)
			if err != nil {
				return nil, verrors.WrapFatal(err, "reader.next", "metadata column "+f.Name)
			}
			if val == nil {
				continue
			}
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]any)
			}
			rec.Metadata[f.Name] = val
		}
		batch = append(batch, rec)
		i++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if int64(i) != end-start {
		return nil, verrors.NewFatal("reader.next",
			fmt.Sprintf("expected %d metadata rows in [%d,%d), got %d", end-start, start, end, i))
	}

	if len(r.schema.RelationNames) > 0 {
		if err := r.attachRelations(ctx, batch, start, end); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

func (r *Reader) attachRelations(ctx context.Context, batch record.Batch, start, end int64) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT rowidx, name, target_id FROM relations WHERE rowidx >= ? AND rowidx < ? ORDER BY rowidx`,
		start, end)
	if err != nil {
		return fmt.Errorf("load relations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rowIdx int64
		var name, target string
		if err := rows.Scan(&rowIdx, &name, &target); err != nil {
			return err
		}
		idx := rowIdx - start
		if idx < 0 || idx >= int64(len(batch)) {
			return verrors.NewFatal("reader.next", "relation row out of range")
		}
		batch[idx].Relations = append(batch[idx].Relations, record.Relation{Name: name, TargetID: target})
	}
	return rows.Err()
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func (r *Reader) Close() error {
	return r.db.Close()
}
