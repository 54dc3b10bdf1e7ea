// Package schema unifies the differing metadata shapes observed across
// batches into one evolving dataset schema, and serializes the frozen
// descriptor that ships with the dataset.
package schema

import (
	"fmt"
	"sync"

	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/verrors"
)

// State of the reconciler lifecycle.
type State int

const (
	// Empty: no batch observed yet.
	Empty State = iota
	// Open: widening in progress.
	Open
	// Frozen: source drained, schema immutable.
	Frozen
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Open:
		return "open"
	case Frozen:
		return "frozen"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Reconciler widens a dataset schema as records are observed. Fields and
// relation names are union-merged; the only permitted type change is the
// int-to-float promotion. Any other type disagreement on an existing field
// is a SchemaConflict and aborts the run.
type Reconciler struct {
	mu     sync.Mutex
	state  State
	schema record.Schema
}

func NewReconciler() *Reconciler {
	return &Reconciler{state: Empty}
}

// State returns the current lifecycle state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Schema returns a copy of the current schema.
func (r *Reconciler) Schema() record.Schema {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schema.Clone()
}

// Observe widens the schema with one record. Dimensionality is pinned by
// the first record seen; later records with a different vector length are
// rejected at validation, not here.
func (r *Reconciler) Observe(rec record.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Frozen:
		return verrors.NewSchemaConflict("observe", "schema is frozen")
	case Empty:
		r.state = Open
	}

	if r.schema.Dimensionality == 0 && len(rec.Vector) > 0 {
		r.schema.Dimensionality = len(rec.Vector)
	}

	for name, val := range rec.Metadata {
		if val == nil {
			// Null carries no type information; the column stays untyped
			// until a concrete value is seen.
			continue
		}
		observed, ok := record.TypeOf(val)
		if !ok {
			return verrors.NewSchemaViolation("observe",
				fmt.Sprintf("field %q has unsupported value type %T", name, val)).
				WithRecord(rec.ID)
		}
		declared, exists := r.schema.FieldType(name)
		if !exists {
			r.schema.AddField(name, observed)
			continue
		}
		if observed == declared {
			continue
		}
		// int values fit an existing float column; a float value promotes
		// an int column. Everything else is a conflict.
		if observed == record.TypeInt && declared == record.TypeFloat {
			continue
		}
		if observed == record.TypeFloat && declared == record.TypeInt {
			r.schema.SetFieldType(name, record.TypeFloat)
			continue
		}
		return verrors.NewSchemaConflict("observe",
			fmt.Sprintf("field %q was %s, now %s", name, declared, observed))
	}

	for _, rel := range rec.Relations {
		r.schema.AddRelation(rel.Name)
	}
	return nil
}

// Freeze seals the schema at end of stream. Idempotent.
func (r *Reconciler) Freeze() record.Schema {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Frozen
	return r.schema.Clone()
}

// Restore seeds the reconciler from a previously persisted schema, used
// when resuming an interrupted export.
func (r *Reconciler) Restore(s record.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schema = s.Clone()
	if r.state == Empty && (len(s.Fields) > 0 || s.Dimensionality > 0) {
		r.state = Open
	}
}
