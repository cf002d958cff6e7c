package sim

import (
	"github.com/star/neosim/internal/neo"
	"github.com/star/neosim/internal/orbit"
	"github.com/star/neosim/internal/synthetic"
)

const hazardTooltip = "potentially hazardous"

// buildBodies assembles the registry: sun, planets, runtime bodies, then
// catalog objects in catalog order.
func (d *Driver) buildBodies(cat *neo.Catalog, extra []orbit.Body, prev *orbit.Frame) []orbit.Body {
	n := 1 + len(d.planets) + len(extra)
	if cat != nil {
		n += len(cat.Asteroids)
	}
	bodies := make([]orbit.Body, 0, n)
	bodies = append(bodies, orbit.Sun())

	for _, p := range d.planets {
		p.Phase = d.phaseFor(prev, p.ID)
		bodies = append(bodies, p)
	}
	for _, b := range extra {
		if old, ok := prev.Find(b.ID); ok {
			b.Phase = old.Phase
		}
		bodies = append(bodies, b)
	}
	if cat != nil {
		for _, a := range cat.Asteroids {
			bodies = append(bodies, d.bodyFor(a, prev))
		}
	}
	return bodies
}

func (d *Driver) phaseFor(prev *orbit.Frame, id string) float64 {
	if old, ok := prev.Find(id); ok {
		return old.Phase
	}
	return d.source.Phase()
}

func (d *Driver) bodyFor(a neo.Asteroid, prev *orbit.Frame) orbit.Body {
	el := d.elementsFor(a)
	b := orbit.Body{
		ID:             a.ID,
		Name:           a.Name,
		Kind:           orbit.KindAsteroid,
		Color:          orbit.NonHazardousColor,
		Radius:         orbit.AsteroidRadius,
		SemiMajorAU:    el.SemiMajorAU,
		Eccentricity:   el.Eccentricity,
		InclinationDeg: el.InclinationDeg,
		PeriodDays:     el.PeriodDays,
		Phase:          d.phaseFor(prev, a.ID),
		Hazardous:      a.Hazardous,
	}
	switch {
	case a.Kind == neo.KindComet:
		b.Kind = orbit.KindComet
		b.Color = orbit.CometColor
	case a.Hazardous:
		b.Color = orbit.HazardousColor
		b.Tooltip = hazardTooltip
	}
	return b
}

// elementsFor uses catalog elements for comets, and for asteroids when
// configured; otherwise the synthetic source. Catalog elements are passed
// through unchecked so the engine rejects unbound orbits.
func (d *Driver) elementsFor(a neo.Asteroid) synthetic.Elements {
	if o := a.Orbit; o != nil && (a.Kind == neo.KindComet || d.config.UseCatalogElements) {
		return synthetic.Elements{
			SemiMajorAU:    o.SemiMajorAU,
			Eccentricity:   o.Eccentricity,
			InclinationDeg: o.InclinationDeg,
			PeriodDays:     o.PeriodDays,
		}
	}
	return d.source.Elements(a.ID)
}
