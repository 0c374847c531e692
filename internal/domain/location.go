package domain

import (
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Location is one named forecast query target.
type Location struct {
	Name      string  `validate:"required"`
	Latitude  float64 `validate:"gte=-90,lte=90"`
	Longitude float64 `validate:"gte=-180,lte=180"`
}

// Validate checks the name is set and the coordinates are in range.
func (l Location) Validate() error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("invalid location %q: %w", l.Name, err)
	}
	return nil
}

// Coordinates returns latitude and longitude formatted for a query string.
func (l Location) Coordinates() (lat, lon string) {
	return strconv.FormatFloat(l.Latitude, 'f', -1, 64), strconv.FormatFloat(l.Longitude, 'f', -1, 64)
}
