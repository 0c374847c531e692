package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHeader(t *testing.T) {
	assert.NoError(t, ValidateHeader([]string{"time", "a", "city", "retrieved_at"}))
	assert.NoError(t, ValidateHeader([]string{"time", "city", "retrieved_at"}))

	for _, bad := range [][]string{
		nil,
		{"time", "city"},
		{"a", "time", "city", "retrieved_at"},
		{"time", "a", "retrieved_at", "city"},
		{"time", "a", "a", "city", "retrieved_at"},
	} {
		assert.ErrorIs(t, ValidateHeader(bad), ErrSchemaMismatch, "%v", bad)
	}
}

func TestMatchHeader(t *testing.T) {
	ab := StoreColumns([]string{"A", "B"})
	abc := StoreColumns([]string{"A", "B", "C"})

	assert.NoError(t, MatchHeader(ab, StoreColumns([]string{"A", "B"})))
	err := MatchHeader(ab, abc)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "C")
	assert.ErrorIs(t, MatchHeader(ab, StoreColumns([]string{"B", "A"})), ErrSchemaMismatch)
}

func TestReconcileColumns(t *testing.T) {
	stored := StoreColumns([]string{"A", "B"})

	merged, err := ReconcileColumns(stored, StoreColumns([]string{"B", "C"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "A", "B", "C", "city", "retrieved_at"}, merged)

	// A narrower batch keeps every stored column.
	merged, err = ReconcileColumns(stored, StoreColumns([]string{"A"}))
	require.NoError(t, err)
	assert.Equal(t, stored, merged)

	_, err = ReconcileColumns([]string{"foo", "bar"}, stored)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestRemap(t *testing.T) {
	from := []string{"time", "A", "city", "retrieved_at"}
	to := []string{"time", "A", "C", "city", "retrieved_at"}

	got := Remap([]string{"t0", "1", "Austin", "r0"}, from, to)
	assert.Equal(t, []string{"t0", "1", "", "Austin", "r0"}, got)
}
