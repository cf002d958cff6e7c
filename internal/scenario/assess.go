// Package scenario ranks catalog objects by the consequences of a
// hypothetical impact.
package scenario

import (
	"cmp"
	"context"
	"runtime"
	"slices"
	"sync"

	"github.com/star/neosim/internal/impact"
	"github.com/star/neosim/internal/metrics"
	"github.com/star/neosim/internal/neo"
)

// Config holds assessment settings.
type Config struct {
	Workers int // concurrent computations (default: runtime.NumCPU())
}

// Request holds the parameters for an assessment run. Nil density or angle
// select the impact defaults. Nil velocity uses each object's first
// close-approach speed, falling back to impact.DefaultVelocity. Set values
// reach impact.Compute unchanged.
type Request struct {
	Asteroids   []neo.Asteroid
	DensityKgM3 *float64
	VelocityMS  *float64
	AngleDeg    *float64
	Limit       int // 0 keeps all
	Workers     int
}

// Assessment is the impact estimate for one catalog object.
type Assessment struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Kind       neo.Kind       `json:"kind"`
	Hazardous  bool           `json:"hazardous"`
	DiameterM  float64        `json:"diameter_m"`
	VelocityMS float64        `json:"velocity_m_s"`
	Impact     *impact.Result `json:"impact,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Assess computes an impact per object, each in its own goroutine bounded by
// a semaphore. Results are ordered by energy, highest first; failed or
// cancelled entries sort last. Ties keep ID order.
func Assess(ctx context.Context, req Request) []Assessment {
	workers := req.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]Assessment, len(req.Asteroids))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, a := range req.Asteroids {
		wg.Add(1)
		go func(idx int, a neo.Asteroid) {
			defer wg.Done()

			base := Assessment{ID: a.ID, Name: a.Name, Kind: a.Kind, Hazardous: a.Hazardous}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				base.Error = "cancelled"
				results[idx] = base
				return
			}

			results[idx] = assessOne(req, a, base)
		}(i, a)
	}

	wg.Wait()

	slices.SortStableFunc(results, compare)
	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results
}

func assessOne(req Request, a neo.Asteroid, out Assessment) Assessment {
	p := impact.Params{
		DiameterM:   a.MeanDiameterKm() * 1000,
		DensityKgM3: orDefault(req.DensityKgM3, impact.DefaultDensity),
		VelocityMS:  orDefault(req.VelocityMS, approachVelocity(a)),
		AngleDeg:    orDefault(req.AngleDeg, impact.DefaultAngle),
	}
	out.DiameterM = p.DiameterM
	out.VelocityMS = p.VelocityMS

	res, err := impact.Compute(p)
	if err != nil {
		metrics.IncImpactComputations("invalid")
		out.Error = err.Error()
		return out
	}
	metrics.IncImpactComputations("ok")
	out.Impact = &res
	return out
}

// approachVelocity returns the first recorded close-approach speed in m/s.
func approachVelocity(a neo.Asteroid) float64 {
	for _, ca := range a.Approaches {
		if ca.VelocityKmS > 0 {
			return ca.VelocityKmS * 1000
		}
	}
	return impact.DefaultVelocity
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func compare(x, y Assessment) int {
	switch {
	case x.Impact == nil && y.Impact == nil:
		return cmp.Compare(x.ID, y.ID)
	case x.Impact == nil:
		return 1
	case y.Impact == nil:
		return -1
	}
	if c := cmp.Compare(y.Impact.EnergyJ, x.Impact.EnergyJ); c != 0 {
		return c
	}
	return cmp.Compare(x.ID, y.ID)
}
