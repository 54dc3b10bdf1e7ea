package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/vecport/vecport/internal/record"
)

// metaColumnPrefix namespaces metadata columns so field names can never
// collide with the fixed rowidx/id columns.
const metaColumnPrefix = "m_"

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS records (
	rowidx INTEGER PRIMARY KEY,
	id     TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS relations (
	rowidx    INTEGER NOT NULL,
	name      TEXT NOT NULL,
	target_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS relations_rowidx ON relations(rowidx);
CREATE TABLE IF NOT EXISTS chunks (
	seq          INTEGER PRIMARY KEY,
	file         TEXT NOT NULL,
	rows         INTEGER NOT NULL,
	start_rowidx INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cursors (
	adapter_id TEXT PRIMARY KEY,
	position   TEXT NOT NULL,
	emitted    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS schema_state (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	vendor      TEXT NOT NULL,
	model_name  TEXT,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	completed   INTEGER NOT NULL DEFAULT 0,
	records     INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	retried     INTEGER NOT NULL DEFAULT 0
);
`

func openMetaDB(path string, readOnly bool) (*sql.DB, error) {
	dsn := "file:" + path + "?_journal_mode=WAL&_synchronous=NORMAL"
	if readOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	// One writer owns the file for the whole run; readers may fan out.
	if readOnly {
		db.SetMaxOpenConns(4)
	} else {
		db.SetMaxOpenConns(1)
	}
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("create metadata tables: %w", err)
	}
	return nil
}

func metaColumn(field string) string {
	return quoteIdent(metaColumnPrefix + field)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlColumnType(t record.FieldType) string {
	switch t {
	case record.TypeInt, record.TypeBool:
		return "INTEGER"
	case record.TypeFloat:
		return "REAL"
	default:
		// Strings, and list types stored as JSON text.
		return "TEXT"
	}
}

// toSQLValue converts a metadata value to its column representation.
func toSQLValue(v any, t record.FieldType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case record.TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case record.TypeFloat:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case record.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case record.TypeBool:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case record.TypeStringList, record.TypeFloatList:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode list value: %w", err)
		}
		return string(data), nil
	}
	return nil, fmt.Errorf("value %T does not fit column type %s", v, t)
}

// fromSQLValue converts a scanned column value back to the metadata
// representation declared by the schema.
func fromSQLValue(v any, t record.FieldType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case record.TypeInt:
		if n, ok := v.(int64); ok {
			return n, nil
		}
	case record.TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case record.TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case record.TypeBool:
		if n, ok := v.(int64); ok {
			return n != 0, nil
		}
	case record.TypeStringList:
		var out []string
		if err := json.Unmarshal(asBytes(v), &out); err != nil {
			return nil, fmt.Errorf("decode string list: %w", err)
		}
		return out, nil
	case record.TypeFloatList:
		var out []float64
		if err := json.Unmarshal(asBytes(v), &out); err != nil {
			return nil, fmt.Errorf("decode float list: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("column value %T does not fit declared type %s", v, t)
}

func asBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	}
	return nil
}
