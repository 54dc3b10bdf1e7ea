// Package record defines the canonical unit moved through the pipeline:
// one vector plus its metadata and relations. Every adapter maps its
// vendor-native objects to and from this model.
package record

import (
	"fmt"
	"sort"

	"github.com/vecport/vecport/internal/verrors"
)

// Relation is a resolved cross-reference from one record to another.
type Relation struct {
	Name     string `json:"name"`
	TargetID string `json:"target_id"`
}

// Record is the atomic pipeline unit.
type Record struct {
	ID        string
	Vector    []float32
	Metadata  map[string]any
	Relations []Relation
}

// Batch is a bounded, ordered group of records. Order is the source
// adapter's native pagination order and is preserved end to end.
type Batch []Record

// Cursor is a durable position marker for resumable iteration. Position
// is opaque to everything but the adapter (or reader) that issued it.
type Cursor struct {
	AdapterID string `json:"adapter_id"`
	Position  string `json:"position"`
	Emitted   int64  `json:"records_emitted"`
}

// Validate checks the record against a schema. A wrong vector length or a
// metadata value whose runtime type disagrees with the declared field type
// yields a schema violation for this record only.
func (r Record) Validate(s *Schema) error {
	if r.ID == "" {
		return verrors.NewSchemaViolation("validate", "empty record id")
	}
	if s.Dimensionality > 0 && len(r.Vector) != s.Dimensionality {
		return verrors.NewSchemaViolation("validate",
			fmt.Sprintf("vector length %d, want %d", len(r.Vector), s.Dimensionality)).
			WithRecord(r.ID)
	}
	for name, val := range r.Metadata {
		if val == nil {
			continue
		}
		declared, ok := s.FieldType(name)
		if !ok {
			return verrors.NewSchemaViolation("validate",
				fmt.Sprintf("field %q not declared in schema", name)).WithRecord(r.ID)
		}
		got, ok := TypeOf(val)
		if !ok {
			return verrors.NewSchemaViolation("validate",
				fmt.Sprintf("field %q has unsupported value type %T", name, val)).WithRecord(r.ID)
		}
		if !got.AssignableTo(declared) {
			return verrors.NewSchemaViolation("validate",
				fmt.Sprintf("field %q is %s, schema says %s", name, got, declared)).WithRecord(r.ID)
		}
	}
	for _, rel := range r.Relations {
		if !s.HasRelation(rel.Name) {
			return verrors.NewSchemaViolation("validate",
				fmt.Sprintf("relation %q not declared in schema", rel.Name)).WithRecord(r.ID)
		}
	}
	return nil
}

// Equal reports deep equality of two records. Relations are compared as
// sets and metadata numerically (int64(1) equals float64(1)), since
// vendors round-trip numbers differently.
func (r Record) Equal(o Record) bool {
	if r.ID != o.ID || len(r.Vector) != len(o.Vector) {
		return false
	}
	for i := range r.Vector {
		if r.Vector[i] != o.Vector[i] {
			return false
		}
	}
	if len(r.Metadata) != len(o.Metadata) {
		return false
	}
	for k, v := range r.Metadata {
		ov, ok := o.Metadata[k]
		if !ok || !valueEqual(v, ov) {
			return false
		}
	}
	return relationSet(r.Relations) == relationSet(o.Relations)
}

func relationSet(rels []Relation) string {
	keys := make([]string, len(rels))
	for i, rel := range rels {
		keys[i] = rel.Name + "\x00" + rel.TargetID
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += k + "\x01"
	}
	return out
}

func valueEqual(a, b any) bool {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		return af == bf
	}
	switch av := a.(type) {
	case []string:
		bv, ok := b.([]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case []float64:
		bv, ok := b.([]float64)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
