// Package blobstore moves dataset artifacts between the local filesystem
// and object storage. Stores hold flat named blobs; the push/pull helpers
// map a dataset directory onto them.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a flat keyed blob container.
type Store interface {
	// Put writes a blob under name, replacing any previous content.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Get opens a blob for reading. The caller closes the reader.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns all blob names under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes a blob; deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
}
