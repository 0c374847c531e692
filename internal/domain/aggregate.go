package domain

import (
	"fmt"
	"slices"
)

// Aggregate concatenates frames into one batch, preserving frame order and
// row order within each frame. Every record shares one retrieved_at taken
// from the package clock when Aggregate is called.
//
// An empty input produces an empty batch. Frames that disagree on their
// variable list are rejected with ErrSchemaMismatch.
func Aggregate(frames []Frame) (Batch, error) {
	batch := Batch{RetrievedAt: clock.Now().UTC()}
	if len(frames) == 0 {
		return batch, nil
	}

	batch.Variables = slices.Clone(frames[0].Variables)

	total := 0
	for _, f := range frames {
		if !slices.Equal(f.Variables, batch.Variables) {
			return Batch{}, fmt.Errorf("%w: frame for %s has variables %v, want %v",
				ErrSchemaMismatch, f.Location.Name, f.Variables, batch.Variables)
		}
		total += len(f.Rows)
	}

	batch.Records = make([]Record, 0, total)
	for _, f := range frames {
		for _, row := range f.Rows {
			batch.Records = append(batch.Records, Record{
				Time:   row.Time,
				City:   f.Location.Name,
				Values: row.Values,
			})
		}
	}
	return batch, nil
}
