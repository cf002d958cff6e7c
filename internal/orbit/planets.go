package orbit

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Display defaults for bodies that do not carry their own styling.
const (
	SunRadius          = 12.0
	AsteroidRadius     = 5.0
	SunColor           = "yellow"
	HazardousColor     = "red"
	NonHazardousColor  = "cyan"
	CometColor         = "#9ad1ff"
	SunID              = "sun"
	defaultPlanetColor = "#888"
)

// Sun returns the central body.
func Sun() Body {
	return Body{ID: SunID, Name: "Sun", Kind: KindSun, Color: SunColor, Radius: SunRadius}
}

// DefaultPlanets returns the inner planets with phase zero. Callers assign
// initial phases.
func DefaultPlanets() []Body {
	return []Body{
		{ID: "mercury", Name: "Mercury", Kind: KindPlanet, Color: "#aaa", Radius: 4, SemiMajorAU: 0.39, Eccentricity: 0.205, PeriodDays: 88},
		{ID: "venus", Name: "Venus", Kind: KindPlanet, Color: "#f5e1a4", Radius: 6, SemiMajorAU: 0.72, Eccentricity: 0.007, PeriodDays: 225},
		{ID: "earth", Name: "Earth", Kind: KindPlanet, Color: "#0b79d0", Radius: 8, SemiMajorAU: 1, Eccentricity: 0.017, PeriodDays: 365, Tooltip: "Home planet"},
		{ID: "mars", Name: "Mars", Kind: KindPlanet, Color: "#d14f32", Radius: 6, SemiMajorAU: 1.52, Eccentricity: 0.094, PeriodDays: 687},
	}
}

// planetFile is the on-disk planet catalog layout.
type planetFile struct {
	Planets []Body `yaml:"planets"`
}

// LoadPlanets decodes a YAML planet catalog:
//
//	planets:
//	  - id: earth
//	    name: Earth
//	    semi_major_axis: 1
//	    eccentricity: 0.017
//	    orbital_period: 365
//	    radius: 8
//
// Every entry is validated. kind defaults to planet and may not be anything else.
func LoadPlanets(r io.Reader) ([]Body, error) {
	var pf planetFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("decoding planet catalog: %w", err)
	}

	for i := range pf.Planets {
		p := &pf.Planets[i]
		switch p.Kind {
		case "":
			p.Kind = KindPlanet
		case KindPlanet:
		default:
			return nil, fmt.Errorf("planet %d (%s): kind %q not allowed in a planet catalog", i, p.ID, p.Kind)
		}
		if p.Color == "" {
			p.Color = defaultPlanetColor
		}
		if p.Radius <= 0 {
			p.Radius = AsteroidRadius
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("planet %d: %w", i, err)
		}
	}
	return pf.Planets, nil
}
