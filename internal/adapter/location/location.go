package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/sos-guard/internal/domain/sos"
)

// ErrUnavailable is returned when no position fix is known.
var ErrUnavailable = errors.New("location unavailable")

// Static always reports the same position, or none.
type Static struct {
	Location *sos.Location
}

// Current implements alert.LocationProvider.
func (s Static) Current(ctx context.Context) (*sos.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.Location == nil {
		return nil, ErrUnavailable
	}

	loc := *s.Location

	return &loc, nil
}

type fix struct {
	Lat *float64 `yaml:"lat"`
	Lng *float64 `yaml:"lng"`
}

// File reads the latest fix from a YAML or JSON file kept up to date by a
// GPS daemon, for example `{"lat": 51.5, "lng": -0.12}`.
type File struct {
	path string
}

// NewFile creates a file-backed provider.
func NewFile(path string) *File {
	return &File{path: filepath.Clean(path)}
}

// Current implements alert.LocationProvider.
func (f *File) Current(ctx context.Context) (*sos.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contents, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrUnavailable
		}

		return nil, fmt.Errorf("read location: %w", err)
	}

	var value fix
	if err = yaml.Unmarshal(contents, &value); err != nil {
		return nil, fmt.Errorf("decode location: %w", err)
	}

	if value.Lat == nil || value.Lng == nil {
		return nil, ErrUnavailable
	}

	return &sos.Location{Lat: *value.Lat, Lng: *value.Lng}, nil
}
