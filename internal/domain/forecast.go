package domain

import (
	"math"
	"strconv"
	"time"
)

// Fixed store columns around the requested variables.
const (
	ColumnTime        = "time"
	ColumnCity        = "city"
	ColumnRetrievedAt = "retrieved_at"
)

// TimeLayout is the Open-Meteo hourly timestamp format, reused for the store's
// time column.
const TimeLayout = "2006-01-02T15:04"

// Row is one hourly point. Values[i] belongs to the frame's Variables[i];
// NaN marks a value the API returned as null.
type Row struct {
	Time   time.Time
	Values []float64
}

// Frame is the full hourly series for one location from one fetch.
type Frame struct {
	Location  Location
	Variables []string
	Rows      []Row
}

// Record is a Row tagged with its location for storage.
type Record struct {
	Time   time.Time
	City   string
	Values []float64
}

// Batch is the aggregated output of one run.
type Batch struct {
	Variables   []string
	RetrievedAt time.Time
	Records     []Record
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }

// Columns returns the store header for the batch.
func (b Batch) Columns() []string {
	return StoreColumns(b.Variables)
}

// Cells returns record i as CSV cells in Columns order.
func (b Batch) Cells(i int) []string {
	r := b.Records[i]
	cells := make([]string, 0, len(b.Variables)+3)
	cells = append(cells, r.Time.Format(TimeLayout))
	for _, v := range r.Values {
		cells = append(cells, FormatValue(v))
	}
	return append(cells, r.City, FormatTimestamp(b.RetrievedAt))
}

// StoreColumns builds the store header for a variable list.
func StoreColumns(variables []string) []string {
	cols := make([]string, 0, len(variables)+3)
	cols = append(cols, ColumnTime)
	cols = append(cols, variables...)
	return append(cols, ColumnCity, ColumnRetrievedAt)
}

// FormatValue renders a variable value for the store. NaN becomes an empty cell.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatTimestamp renders retrieved_at.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
