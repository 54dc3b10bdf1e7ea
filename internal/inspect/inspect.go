// Package inspect runs analytical queries and summaries over a dataset
// without loading it through the streaming reader. Vector chunks are
// exposed to DuckDB as one relational view, and query results come back
// as Arrow record batches.
package inspect

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	duckdb "github.com/marcboeker/go-duckdb"

	"github.com/vecport/vecport/internal/dataset"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/schema"
)

// Inspector reads one dataset directory.
type Inspector struct {
	layout dataset.Layout
}

func New(dir string) *Inspector {
	return &Inspector{layout: dataset.NewLayout(dir)}
}

// RunInfo mirrors one row of the runs table.
type RunInfo struct {
	RunID      string
	Kind       string
	Vendor     string
	ModelName  string
	StartedAt  time.Time
	FinishedAt time.Time
	Completed  bool
	Records    int64
	Skipped    int64
	Retried    int64
}

// Summary describes the dataset's shape and provenance.
type Summary struct {
	Dir            string
	Dimensionality int
	Fields         []record.Field
	RelationNames  []string
	Records        int64
	Relations      int64
	Chunks         int64
	Runs           []RunInfo
}

// Summarize reads the schema descriptor and the metadata tables. It wants
// a frozen dataset; an unfrozen one has no descriptor yet.
func (i *Inspector) Summarize(ctx context.Context) (*Summary, error) {
	s, err := schema.LoadDescriptor(i.layout.SchemaPath())
	if err != nil {
		return nil, fmt.Errorf("load schema descriptor: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+i.layout.MetaDBPath()+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	defer db.Close()

	sum := &Summary{
		Dir:            i.layout.Dir,
		Dimensionality: s.Dimensionality,
		Fields:         s.Fields,
		RelationNames:  s.RelationNames,
	}
	counts := map[string]*int64{
		"records":   &sum.Records,
		"relations": &sum.Relations,
		"chunks":    &sum.Chunks,
	}
	for table, dst := range counts {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(dst); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
	}

	rows, err := db.QueryContext(ctx, `
		SELECT run_id, kind, vendor, COALESCE(model_name, ''),
		       started_at, COALESCE(finished_at, ''), completed, records, skipped, retried
		FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("read runs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r RunInfo
		var started, finished string
		var completed int
		if err := rows.Scan(&r.RunID, &r.Kind, &r.Vendor, &r.ModelName,
			&started, &finished, &completed, &r.Records, &r.Skipped, &r.Retried); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		if finished != "" {
			r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		}
		r.Completed = completed != 0
		sum.Runs = append(sum.Runs, r)
	}
	return sum, rows.Err()
}

// Query executes SQL over the vector chunks through an in-memory DuckDB.
// The chunks appear as a view named "vectors" with id and vector columns.
// The caller must call cleanup when done with the reader.
func (i *Inspector) Query(ctx context.Context, query string) (array.RecordReader, func(), error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, nil, fmt.Errorf("open duckdb: %w", err)
	}

	// The Arrow interface hangs off one dedicated connection.
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("open conn: %w", err)
	}

	var ar *duckdb.Arrow
	err = conn.Raw(func(c any) error {
		dc, ok := c.(driver.Conn)
		if !ok {
			return fmt.Errorf("not a duckdb driver connection")
		}
		var err error
		ar, err = duckdb.NewArrowFromConn(dc)
		return err
	})
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("init arrow: %w", err)
	}

	glob := filepath.Join(i.layout.VectorsDir(), "chunk-*.parquet")
	createView := fmt.Sprintf(
		"CREATE VIEW vectors AS SELECT * FROM read_parquet('%s')",
		strings.ReplaceAll(glob, "'", "''"))
	if _, err := conn.ExecContext(ctx, createView); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("create vectors view: %w", err)
	}

	rdr, err := ar.QueryContext(ctx, query)
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("query failed: %w", err)
	}

	cleanup := func() {
		rdr.Release()
		_ = conn.Close()
		_ = db.Close()
	}
	return rdr, cleanup, nil
}
