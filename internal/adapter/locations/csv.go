// Package locations loads the list of places to collect forecasts for.
package locations

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/forecast-collector/internal/domain"
)

// Required header names, matched case-insensitively.
const (
	headerCity      = "city"
	headerLatitude  = "latitude"
	headerLongitude = "longitude"
)

// File reads locations from a CSV file with City, Latitude and Longitude
// columns. Other columns are ignored. The file is re-read on every call so
// edits apply to the next run.
type File struct {
	path   string
	logger *slog.Logger
}

// NewFile creates a location source for the CSV file at path.
func NewFile(path string, logger *slog.Logger) *File {
	return &File{path: path, logger: logger}
}

// Locations returns the usable locations in file order. Rows without a
// city name or with missing, unparsable or out-of-range coordinates are
// skipped with a warning.
func (f *File) Locations(ctx context.Context) ([]domain.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open locations: %w", err)
	}
	defer file.Close()

	locs, err := f.parse(file)
	if err != nil {
		return nil, fmt.Errorf("read locations %s: %w", f.path, err)
	}
	return locs, nil
}

func (f *File) parse(r io.Reader) ([]domain.Location, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var (
		locs    []domain.Location
		skipped int
	)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		loc, err := cols.location(record)
		if err != nil {
			skipped++
			f.logger.Warn("location skipped", "line", line, "error", err)
			continue
		}
		locs = append(locs, loc)
	}

	f.logger.Debug("locations loaded", "path", f.path, "count", len(locs), "skipped", skipped)
	return locs, nil
}

type columns struct {
	city, lat, lon int
}

func columnIndex(header []string) (columns, error) {
	cols := columns{city: -1, lat: -1, lon: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case headerCity:
			cols.city = i
		case headerLatitude:
			cols.lat = i
		case headerLongitude:
			cols.lon = i
		}
	}
	if cols.city < 0 || cols.lat < 0 || cols.lon < 0 {
		return cols, fmt.Errorf("header %v must contain City, Latitude and Longitude", header)
	}
	return cols, nil
}

func (c columns) location(record []string) (domain.Location, error) {
	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	name := field(c.city)
	latRaw, lonRaw := field(c.lat), field(c.lon)
	if latRaw == "" || lonRaw == "" {
		return domain.Location{}, fmt.Errorf("%q has no coordinates", name)
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return domain.Location{}, fmt.Errorf("%q latitude: %w", name, err)
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return domain.Location{}, fmt.Errorf("%q longitude: %w", name, err)
	}

	loc := domain.Location{Name: name, Latitude: lat, Longitude: lon}
	if err := loc.Validate(); err != nil {
		return domain.Location{}, err
	}
	return loc, nil
}
