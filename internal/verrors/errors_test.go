package verrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewSchemaViolation("validate", "vector length 3, want 2").WithRecord("rec-1")
	assert.Contains(t, err.Error(), "schema_violation")
	assert.Contains(t, err.Error(), `record "rec-1"`)
	assert.Contains(t, err.Error(), "vector length 3, want 2")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindTransient, "fetch", "ignored"))
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapConnection(cause, "open", "pinecone controller unreachable")
	require.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("export failed: %w", err)
	assert.True(t, IsConnection(wrapped))
	assert.False(t, IsTransient(wrapped))
}

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		err  error
		pred func(error) bool
	}{
		{NewConnection("open", "bad key"), IsConnection},
		{NewTransient("fetch", "503"), IsTransient},
		{NewFatal("fetch", "cursor expired"), IsFatal},
		{NewSchemaViolation("validate", "bad vector"), IsSchemaViolation},
		{NewSchemaConflict("observe", "int vs string"), IsSchemaConflict},
		{NewWrite("write", "rejected"), IsWrite},
	}
	for _, tt := range tests {
		assert.True(t, tt.pred(tt.err), tt.err.Error())
	}
	assert.False(t, IsTransient(errors.New("plain")))
}
