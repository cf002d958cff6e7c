// Package synthetic produces stand-in orbital elements for bodies that arrive
// without an ephemeris.
//
// The values are illustrative, not physical. Each body ID maps to its own
// deterministic stream (seed ^ xxhash(id)), so an asteroid keeps the same
// elements across catalog refreshes while phases are drawn fresh.
package synthetic

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Elements are the orbital parameters the engine needs for one body.
type Elements struct {
	SemiMajorAU    float64 `json:"semi_major_axis_au"`
	Eccentricity   float64 `json:"eccentricity"`
	InclinationDeg float64 `json:"inclination_deg"`
	PeriodDays     float64 `json:"orbital_period_days"`
}

// Source supplies elements and initial phases. Tests substitute Fixed.
type Source interface {
	Elements(id string) Elements
	Phase() float64
}

// Ranges are half-open [min, max) intervals for each generated element.
type Ranges struct {
	EccentricityMin, EccentricityMax float64
	SemiMajorMin, SemiMajorMax       float64 // AU
	InclinationMin, InclinationMax   float64 // degrees
	PeriodMin, PeriodMax             float64 // days
}

// DefaultRanges: e ∈ [0, 0.5), a ∈ [0.5, 2.5) AU, i ∈ [0, 30)°, P ∈ [200, 1200) days.
func DefaultRanges() Ranges {
	return Ranges{
		EccentricityMin: 0, EccentricityMax: 0.5,
		SemiMajorMin: 0.5, SemiMajorMax: 2.5,
		InclinationMin: 0, InclinationMax: 30,
		PeriodMin: 200, PeriodMax: 1200,
	}
}

// Generator is the seeded Source used in production.
type Generator struct {
	seed   uint64
	ranges Ranges

	mu    sync.Mutex // guards phase
	phase *rand.Rand
}

// New creates a Generator. The same seed reproduces the same elements per ID
// and the same sequence of phases.
func New(seed uint64, ranges Ranges) *Generator {
	return &Generator{
		seed:   seed,
		ranges: ranges,
		phase:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Seed returns the generator seed.
func (g *Generator) Seed() uint64 {
	return g.seed
}

// Elements returns the synthetic elements for id.
func (g *Generator) Elements(id string) Elements {
	r := rand.New(rand.NewPCG(g.seed, xxhash.Sum64String(id)))
	rg := g.ranges
	return Elements{
		Eccentricity:   uniform(r, rg.EccentricityMin, rg.EccentricityMax),
		SemiMajorAU:    uniform(r, rg.SemiMajorMin, rg.SemiMajorMax),
		InclinationDeg: uniform(r, rg.InclinationMin, rg.InclinationMax),
		PeriodDays:     uniform(r, rg.PeriodMin, rg.PeriodMax),
	}
}

// Phase returns a fresh initial phase in [0, 2π).
func (g *Generator) Phase() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase.Float64() * 2 * math.Pi
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// Fixed is a deterministic Source for tests and fixtures.
type Fixed struct {
	ByID    map[string]Elements
	Default Elements
	Phases  []float64 // cycled; zero phase when empty

	mu   sync.Mutex
	next int
}

// Elements returns ByID[id], or Default.
func (f *Fixed) Elements(id string) Elements {
	if e, ok := f.ByID[id]; ok {
		return e
	}
	return f.Default
}

// Phase returns the next configured phase.
func (f *Fixed) Phase() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Phases) == 0 {
		return 0
	}
	p := f.Phases[f.next%len(f.Phases)]
	f.next++
	return p
}
