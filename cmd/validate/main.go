// Command validate checks the integrity of a forecast store: header layout,
// per-row column counts, cell formats, and duplicate rows. Optionally it
// confirms the store carries the expected variables and that the location
// file yields usable locations.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -store us_city_forecasts.csv \
//	  -variables temperature_2m,relative_humidity_2m,wind_speed_10m \
//	  -locations cities_and_countries.csv
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/forecast-collector/internal/adapter/csvstore"
	"github.com/couchcryptid/forecast-collector/internal/adapter/locations"
	"github.com/couchcryptid/forecast-collector/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxErrorsPerPhase bounds the detail printed for a badly damaged store.
const maxErrorsPerPhase = 50

func main() {
	storePath := flag.String("store", "", "path to the forecast CSV store")
	variables := flag.String("variables", "", "comma-separated variables the store must contain")
	locationsFile := flag.String("locations", "", "optional location CSV to check")
	flag.Parse()

	if *storePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(os.Stdout, *storePath, splitList(*variables), *locationsFile))
}

func run(out io.Writer, storePath string, wantVars []string, locationsFile string) int {
	fmt.Fprintln(out, "=== Forecast Store Validation ===")
	fmt.Fprintln(out)

	rep, err := csvstore.Verify(storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read store: %v\n", err)
		return 1
	}

	layout := &phase{name: "Store layout"}
	for _, problem := range rep.Problems {
		layout.errorf("%s", problem)
	}
	phases := []*phase{layout}

	if rep.Variables != nil {
		cells, err := validateCells(storePath, len(rep.Header))
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: read store rows: %v\n", err)
			return 1
		}
		phases = append(phases, cells...)
	}
	if len(wantVars) > 0 {
		phases = append(phases, validateVariables(rep.Variables, wantVars))
	}

	locCount := -1
	if locationsFile != "" {
		p, n := validateLocations(locationsFile)
		phases = append(phases, p)
		locCount = n
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Rows: %d, variables: %s\n", rep.Rows, strings.Join(rep.Variables, ","))
	if locCount >= 0 {
		fmt.Fprintf(out, "Locations: %d usable\n", locCount)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxErrorsPerPhase {
				fmt.Fprintf(out, "  ... %d more\n", len(p.errors)-i)
				break
			}
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

// validateCells checks every well-formed row's cell formats and looks for
// rows recorded twice in the same run.
func validateCells(path string, width int) ([]*phase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		return nil, err
	}

	formats := &phase{name: "Cell formats"}
	dupes := &phase{name: "Duplicate rows"}
	seen := make(map[string]int)

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := r.FieldPos(0)
		if len(record) != width {
			continue // reported by the layout phase
		}
		checkRow(formats, line, record)

		key := strings.Join([]string{record[0], record[width-2], record[width-1]}, "|")
		if first, ok := seen[key]; ok {
			dupes.errorf("line %d: duplicates line %d (%s, %s)", line, first, record[width-2], record[0])
			continue
		}
		seen[key] = line
	}
	return []*phase{formats, dupes}, nil
}

func checkRow(p *phase, line int, record []string) {
	n := len(record)
	if _, err := time.Parse(domain.TimeLayout, record[0]); err != nil {
		p.errorf("line %d: time %q is not %s", line, record[0], domain.TimeLayout)
	}
	for i, cell := range record[1 : n-2] {
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			p.errorf("line %d: column %d value %q is not numeric", line, i+2, cell)
		}
	}
	if strings.TrimSpace(record[n-2]) == "" {
		p.errorf("line %d: empty city", line)
	}
	if _, err := time.Parse(time.RFC3339, record[n-1]); err != nil {
		p.errorf("line %d: retrieved_at %q is not RFC 3339", line, record[n-1])
	}
}

func validateVariables(stored, want []string) *phase {
	p := &phase{name: "Expected variables"}
	for _, v := range want {
		if !slices.Contains(stored, v) {
			p.errorf("variable %q missing from store header", v)
		}
	}
	return p
}

func validateLocations(path string) (*phase, int) {
	p := &phase{name: "Location file"}
	src := locations.NewFile(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	locs, err := src.Locations(context.Background())
	if err != nil {
		p.errorf("%v", err)
		return p, 0
	}
	if len(locs) == 0 {
		p.errorf("no usable locations in %s", path)
	}
	return p, len(locs)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
