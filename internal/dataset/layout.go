// Package dataset persists and replays the portable dataset artifact:
// columnar parquet chunk files for vectors, a relational SQLite file for
// metadata and relations, and a frozen JSON schema descriptor. The three
// are written and read as a unit.
package dataset

import (
	"fmt"
	"path/filepath"
)

const (
	schemaFileName = "schema.json"
	metaDBFileName = "meta.db"
	vectorsDirName = "vectors"
)

// Layout maps one dataset directory to its component files.
type Layout struct {
	Dir string
}

func NewLayout(dir string) Layout { return Layout{Dir: dir} }

func (l Layout) SchemaPath() string { return filepath.Join(l.Dir, schemaFileName) }
func (l Layout) MetaDBPath() string { return filepath.Join(l.Dir, metaDBFileName) }
func (l Layout) VectorsDir() string { return filepath.Join(l.Dir, vectorsDirName) }

// ChunkFile returns the file name (relative to the vectors dir) of the
// chunk with the given sequence number.
func (l Layout) ChunkFile(seq int) string {
	return fmt.Sprintf("chunk-%06d.parquet", seq)
}

func (l Layout) ChunkPath(seq int) string {
	return filepath.Join(l.VectorsDir(), l.ChunkFile(seq))
}
