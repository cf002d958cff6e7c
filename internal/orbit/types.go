package orbit

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDegenerateOrbit is returned for elements that cannot be drawn as a closed ellipse.
	ErrDegenerateOrbit = errors.New("degenerate orbit")
	// ErrDuplicateBody is returned when a body ID is already registered.
	ErrDuplicateBody = errors.New("duplicate body")
	// ErrUnknownBody is returned when a body ID is not registered.
	ErrUnknownBody = errors.New("unknown body")
)

// Kind classifies a body. It decides hit-test order and default styling only.
type Kind string

const (
	KindSun      Kind = "sun"
	KindPlanet   Kind = "planet"
	KindAsteroid Kind = "asteroid"
	KindComet    Kind = "comet"
)

// Body is a registry entry. Phase is the parametric angle used for projection,
// not a true anomaly.
type Body struct {
	ID             string  `json:"id" yaml:"id"`
	Name           string  `json:"name" yaml:"name"`
	Kind           Kind    `json:"kind" yaml:"kind"`
	Color          string  `json:"color" yaml:"color"`
	Radius         float64 `json:"radius" yaml:"radius"` // display radius, px
	SemiMajorAU    float64 `json:"semi_major_axis_au" yaml:"semi_major_axis"`
	Eccentricity   float64 `json:"eccentricity" yaml:"eccentricity"`
	InclinationDeg float64 `json:"inclination_deg" yaml:"inclination"` // informational
	PeriodDays     float64 `json:"orbital_period_days" yaml:"orbital_period"`
	Phase          float64 `json:"phase" yaml:"phase"`
	Hazardous      bool    `json:"hazardous" yaml:"hazardous"`
	Tooltip        string  `json:"tooltip,omitempty" yaml:"tooltip"`
}

// Validate checks that b can be stepped and projected. The sun sits at the
// origin and carries no orbital elements.
func (b Body) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("body %q: empty id", b.Name)
	}
	if b.Kind == KindSun {
		return nil
	}
	e := b.Eccentricity
	if math.IsNaN(e) || e < 0 || e >= 1 {
		return fmt.Errorf("%w: body %s eccentricity %v outside [0, 1)", ErrDegenerateOrbit, b.ID, e)
	}
	if !(b.SemiMajorAU > 0) || math.IsInf(b.SemiMajorAU, 0) {
		return fmt.Errorf("%w: body %s semi-major axis %v", ErrDegenerateOrbit, b.ID, b.SemiMajorAU)
	}
	if !(b.PeriodDays > 0) || math.IsInf(b.PeriodDays, 0) {
		return fmt.Errorf("%w: body %s orbital period %v", ErrDegenerateOrbit, b.ID, b.PeriodDays)
	}
	return nil
}

// SemiMinorAU returns b = a·√(1−e²).
func (b Body) SemiMinorAU() float64 {
	return b.SemiMajorAU * math.Sqrt(1-b.Eccentricity*b.Eccentricity)
}

// Point is a screen-space coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Position is a body's projected screen position under a View.
type Position struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Kind      Kind    `json:"kind"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Radius    float64 `json:"radius"`
	Color     string  `json:"color"`
	Hazardous bool    `json:"hazardous,omitempty"`
}

// Summary is the tooltip payload returned by a pointer lookup.
type Summary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	Hazardous bool   `json:"hazardous"`
	Text      string `json:"text"`
}

func summarize(b Body) Summary {
	text := b.Name
	if b.Tooltip != "" {
		text = b.Name + ": " + b.Tooltip
	}
	return Summary{ID: b.ID, Name: b.Name, Kind: b.Kind, Hazardous: b.Hazardous, Text: text}
}
