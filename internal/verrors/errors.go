// Package verrors defines the error taxonomy shared by adapters, the
// dataset writer/reader and the pipeline drivers. Every failure that
// crosses a component boundary is classified so the driver can decide
// between retrying, skipping a record, or aborting the run.
package verrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindConnection is a configuration or auth problem. Never retried.
	KindConnection Kind = "connection"
	// KindTransient is a recoverable fetch/write failure. The caller may
	// retry the same cursor or batch with backoff.
	KindTransient Kind = "transient"
	// KindFatal means the cursor or handle is unusable and the pipeline
	// must abort.
	KindFatal Kind = "fatal"
	// KindSchemaViolation is a per-record failure: the record does not fit
	// the current dataset schema. The record is skipped, the run continues.
	KindSchemaViolation Kind = "schema_violation"
	// KindSchemaConflict is a field-level type conflict. The schema model
	// cannot represent the source data, so the whole run aborts.
	KindSchemaConflict Kind = "schema_conflict"
	// KindWrite is a per-record sink failure, aggregated into the run
	// summary without aborting the batch.
	KindWrite Kind = "write"
)

// Error carries a classified failure with the operation that produced it.
type Error struct {
	Kind     Kind
	Op       string
	Message  string
	RecordID string
	Cause    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
	if e.RecordID != "" {
		msg += fmt.Sprintf(" (record %q)", e.RecordID)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// WithRecord attaches the offending record id.
func (e *Error) WithRecord(id string) *Error {
	e.RecordID = id
	return e
}

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies an existing error. Returns nil when err is nil.
func Wrap(err error, kind Kind, op, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

func NewConnection(op, message string) *Error      { return New(KindConnection, op, message) }
func NewTransient(op, message string) *Error       { return New(KindTransient, op, message) }
func NewFatal(op, message string) *Error           { return New(KindFatal, op, message) }
func NewSchemaViolation(op, message string) *Error { return New(KindSchemaViolation, op, message) }
func NewSchemaConflict(op, message string) *Error  { return New(KindSchemaConflict, op, message) }
func NewWrite(op, message string) *Error           { return New(KindWrite, op, message) }

func WrapConnection(err error, op, message string) *Error {
	return Wrap(err, KindConnection, op, message)
}

func WrapTransient(err error, op, message string) *Error {
	return Wrap(err, KindTransient, op, message)
}

func WrapFatal(err error, op, message string) *Error {
	return Wrap(err, KindFatal, op, message)
}

// Is reports whether err (or anything it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsConnection(err error) bool      { return Is(err, KindConnection) }
func IsTransient(err error) bool       { return Is(err, KindTransient) }
func IsFatal(err error) bool           { return Is(err, KindFatal) }
func IsSchemaViolation(err error) bool { return Is(err, KindSchemaViolation) }
func IsSchemaConflict(err error) bool  { return Is(err, KindSchemaConflict) }
func IsWrite(err error) bool           { return Is(err, KindWrite) }
