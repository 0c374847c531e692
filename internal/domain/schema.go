package domain

import (
	"fmt"
	"slices"
)

// ValidateHeader checks that a stored header has the fixed store layout:
// time first, city and retrieved_at last, no duplicates.
func ValidateHeader(header []string) error {
	n := len(header)
	if n < 3 || header[0] != ColumnTime || header[n-2] != ColumnCity || header[n-1] != ColumnRetrievedAt {
		return fmt.Errorf("%w: header %v is not %s,<variables>,%s,%s",
			ErrSchemaMismatch, header, ColumnTime, ColumnCity, ColumnRetrievedAt)
	}
	seen := make(map[string]struct{}, n)
	for _, col := range header {
		if _, dup := seen[col]; dup {
			return fmt.Errorf("%w: duplicate column %q in header", ErrSchemaMismatch, col)
		}
		seen[col] = struct{}{}
	}
	return nil
}

// HeaderVariables returns the variable columns of a valid header.
func HeaderVariables(header []string) []string {
	return slices.Clone(header[1 : len(header)-2])
}

// MatchHeader returns ErrSchemaMismatch unless stored and batch headers are identical.
func MatchHeader(stored, batch []string) error {
	if slices.Equal(stored, batch) {
		return nil
	}
	return fmt.Errorf("%w: store header %v, batch columns %v", ErrSchemaMismatch, stored, batch)
}

// ReconcileColumns outer-joins two store headers. Stored variables keep their
// order; variables only present in the batch follow them, so city and
// retrieved_at stay last.
func ReconcileColumns(stored, batch []string) ([]string, error) {
	if err := ValidateHeader(stored); err != nil {
		return nil, fmt.Errorf("stored header: %w", err)
	}
	if err := ValidateHeader(batch); err != nil {
		return nil, fmt.Errorf("batch header: %w", err)
	}

	vars := HeaderVariables(stored)
	for _, v := range HeaderVariables(batch) {
		if !slices.Contains(vars, v) {
			vars = append(vars, v)
		}
	}
	return StoreColumns(vars), nil
}

// Remap reorders cells laid out under from into the layout of to. Columns
// missing from from are left empty.
func Remap(cells, from, to []string) []string {
	index := make(map[string]int, len(from))
	for i, col := range from {
		index[col] = i
	}
	out := make([]string, len(to))
	for i, col := range to {
		if j, ok := index[col]; ok && j < len(cells) {
			out[i] = cells[j]
		}
	}
	return out
}
