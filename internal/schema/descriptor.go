package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vecport/vecport/internal/record"
)

// descriptorVersion guards against future layout changes.
const descriptorVersion = 1

type descriptor struct {
	Version int           `json:"version"`
	Schema  record.Schema `json:"schema"`
}

// SaveDescriptor writes the frozen schema atomically (tmp file + rename),
// so a crash mid-write never leaves a truncated descriptor behind.
func SaveDescriptor(path string, s record.Schema) error {
	data, err := json.MarshalIndent(descriptor{Version: descriptorVersion, Schema: s}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema descriptor: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write schema descriptor: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit schema descriptor: %w", err)
	}
	return syncDir(filepath.Dir(path))
}

// LoadDescriptor reads a frozen schema descriptor.
func LoadDescriptor(path string) (record.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record.Schema{}, err
	}
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return record.Schema{}, fmt.Errorf("parse schema descriptor: %w", err)
	}
	if d.Version != descriptorVersion {
		return record.Schema{}, fmt.Errorf("unsupported schema descriptor version %d", d.Version)
	}
	return d.Schema, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
