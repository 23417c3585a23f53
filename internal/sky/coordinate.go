package sky

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// ErrInvalidDeclination is returned when a declination falls outside [-90, 90].
var ErrInvalidDeclination = errors.New("declination out of range")

// Coordinate is an equatorial position in degrees. RA is normalized to [0, 360).
type Coordinate struct {
	RA    float64 `json:"ra"`
	Dec   float64 `json:"dec"`
	Label string  `json:"label,omitempty"`
}

// New validates dec and normalizes ra into [0, 360).
func New(ra, dec float64, label string) (Coordinate, error) {
	if math.IsNaN(ra) || math.IsInf(ra, 0) {
		return Coordinate{}, fmt.Errorf("invalid right ascension %v", ra)
	}
	if math.IsNaN(dec) || dec < -90 || dec > 90 {
		return Coordinate{}, fmt.Errorf("%w: %v", ErrInvalidDeclination, dec)
	}
	return Coordinate{RA: NormalizeRA(ra), Dec: dec, Label: label}, nil
}

// MustNew is New for compiled-in values.
func MustNew(ra, dec float64, label string) Coordinate {
	c, err := New(ra, dec, label)
	if err != nil {
		panic(err)
	}
	return c
}

// NormalizeRA wraps ra into [0, 360).
func NormalizeRA(ra float64) float64 {
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	if ra >= 360 {
		ra = 0
	}
	return ra
}

// Colatitude returns the polar angle theta in radians (0 at the north pole).
func (c Coordinate) Colatitude() float64 {
	return (90 - c.Dec) * math.Pi / 180
}

// Longitude returns phi in radians.
func (c Coordinate) Longitude() float64 {
	return c.RA * math.Pi / 180
}

// LatLng maps the coordinate onto the s2 sphere with RA as longitude.
func (c Coordinate) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(c.Dec, c.RA)
}

// WithLabel returns a copy carrying label.
func (c Coordinate) WithLabel(label string) Coordinate {
	c.Label = label
	return c
}

func (c Coordinate) String() string {
	if c.Label != "" {
		return fmt.Sprintf("%s (RA %.6f, Dec %+.6f)", c.Label, c.RA, c.Dec)
	}
	return fmt.Sprintf("RA %.6f, Dec %+.6f", c.RA, c.Dec)
}

// Distance is the great-circle separation between a and b.
func Distance(a, b Coordinate) s1.Angle {
	return a.LatLng().Distance(b.LatLng())
}

// HaversineDegrees is Distance in degrees.
func HaversineDegrees(a, b Coordinate) float64 {
	return Distance(a, b).Degrees()
}

// DeltaRA returns to-from in degrees, wrapped into (-180, 180].
func DeltaRA(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}
