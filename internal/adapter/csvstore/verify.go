package csvstore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/forecast-collector/internal/domain"
)

// Report summarizes a store integrity check.
type Report struct {
	Header    []string
	Variables []string
	Rows      int
	Problems  []string
}

// OK reports whether the check found no problems.
func (r Report) OK() bool { return len(r.Problems) == 0 }

// Verify reads the store at path and checks its header layout and that
// every data row has the header's column count. Only I/O failures are
// returned as errors; integrity violations are listed in the report.
func Verify(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rep Report
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		rep.Problems = append(rep.Problems, "empty file")
		return rep, nil
	}
	if err != nil {
		rep.Problems = append(rep.Problems, fmt.Sprintf("header: %v", err))
		return rep, nil
	}
	rep.Header = header
	if err := domain.ValidateHeader(header); err != nil {
		rep.Problems = append(rep.Problems, err.Error())
	} else {
		rep.Variables = domain.HeaderVariables(header)
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rep.Problems = append(rep.Problems, err.Error())
			break
		}
		rep.Rows++
		if len(record) != len(header) {
			line, _ := r.FieldPos(0)
			rep.Problems = append(rep.Problems,
				fmt.Sprintf("line %d: %d fields, header has %d", line, len(record), len(header)))
		}
	}
	return rep, nil
}
