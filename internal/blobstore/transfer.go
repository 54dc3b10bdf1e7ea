package blobstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// skipLocalFile filters files that belong to the machine, not the
// artifact: import checkpoints and SQLite WAL side files.
func skipLocalFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".import-") {
		return true
	}
	return strings.HasSuffix(base, "-wal") || strings.HasSuffix(base, "-shm") ||
		strings.HasSuffix(base, ".tmp")
}

// PushDataset uploads the dataset at dir under the given name prefix.
// Checkpoint and journal side files stay local.
func PushDataset(ctx context.Context, store Store, dir, prefix string, log *zap.Logger) (int, error) {
	pushed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || skipLocalFile(path) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := prefix + "/" + filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if err := store.Put(ctx, name, f, info.Size()); err != nil {
			return fmt.Errorf("push %s: %w", name, err)
		}
		log.Debug("pushed blob", zap.String("name", name), zap.Int64("bytes", info.Size()))
		pushed++
		return nil
	})
	return pushed, err
}

// PullDataset downloads every blob under prefix into dir, recreating the
// dataset layout.
func PullDataset(ctx context.Context, store Store, dir, prefix string, log *zap.Logger) (int, error) {
	names, err := store.List(ctx, prefix+"/")
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, fmt.Errorf("no dataset found under %q: %w", prefix, ErrNotFound)
	}

	pulled := 0
	for _, name := range names {
		rel := strings.TrimPrefix(name, prefix+"/")
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return pulled, err
		}

		r, err := store.Get(ctx, name)
		if err != nil {
			return pulled, fmt.Errorf("pull %s: %w", name, err)
		}
		f, err := os.Create(dst)
		if err != nil {
			r.Close()
			return pulled, err
		}
		_, err = io.Copy(f, r)
		r.Close()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return pulled, fmt.Errorf("pull %s: %w", name, err)
		}
		log.Debug("pulled blob", zap.String("name", name))
		pulled++
	}
	return pulled, nil
}
