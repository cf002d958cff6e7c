// Package impact computes first-order effects of an asteroid striking the ground:
// kinetic energy, transient crater diameter, and blast overpressure radii.
//
// All functions are pure and safe for concurrent use.
package impact

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameter is returned when impact inputs are outside their domain.
var ErrInvalidParameter = errors.New("invalid impact parameter")

const (
	TargetDensity  = 2500.0   // kg/m³, sedimentary rock
	Gravity        = 9.81     // m/s²
	JoulesPerMt    = 4.184e15 // J per megaton TNT
	JoulesPerKgTNT = 4.184e3  // J per kilogram TNT

	// Defaults for NEO records that only carry a diameter estimate.
	DefaultDensity  = 3000.0
	DefaultVelocity = 20000.0
	DefaultAngle    = 45.0
)

// Overpressure scaling constants (m per cube-root kg TNT).
const (
	k1psi  = 160.0
	k3psi  = 90.0
	k5psi  = 70.0
	k20psi = 32.0
)

// Params describes the impactor.
type Params struct {
	DiameterM   float64 `json:"diameter_m"`
	DensityKgM3 float64 `json:"density_kg_m3"`
	VelocityMS  float64 `json:"velocity_m_s"`
	AngleDeg    float64 `json:"angle_deg"` // from horizontal, 0-90
}

// Radii holds blast radii in metres at nominal overpressure thresholds.
type Radii struct {
	PSI1  float64 `json:"psi1_m"`
	PSI3  float64 `json:"psi3_m"`
	PSI5  float64 `json:"psi5_m"`
	PSI20 float64 `json:"psi20_m"`
}

// Result holds the derived impact quantities.
type Result struct {
	MassKg           float64 `json:"mass_kg"`
	EnergyJ          float64 `json:"energy_j"`
	EnergyMt         float64 `json:"energy_mt"`
	CraterDiameterKm float64 `json:"crater_diameter_km"`
	Overpressure     Radii   `json:"radii_overpressure"`
}

// Validate reports the first out-of-domain field, wrapped in ErrInvalidParameter.
func (p Params) Validate() error {
	switch {
	case !positive(p.DiameterM):
		return fmt.Errorf("%w: diameter must be > 0, got %v", ErrInvalidParameter, p.DiameterM)
	case !positive(p.DensityKgM3):
		return fmt.Errorf("%w: density must be > 0, got %v", ErrInvalidParameter, p.DensityKgM3)
	case !positive(p.VelocityMS):
		return fmt.Errorf("%w: velocity must be > 0, got %v", ErrInvalidParameter, p.VelocityMS)
	case math.IsNaN(p.AngleDeg) || p.AngleDeg < 0 || p.AngleDeg > 90:
		return fmt.Errorf("%w: angle must be within [0, 90] degrees, got %v", ErrInvalidParameter, p.AngleDeg)
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// Compute derives impact effects from p.
//
// A zero impact angle yields a zero crater diameter (grazing entry, no crater);
// this is a valid result, not an error.
func Compute(p Params) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	mass := (math.Pi / 6) * p.DensityKgM3 * math.Pow(p.DiameterM, 3)
	energyJ := 0.5 * mass * p.VelocityMS * p.VelocityMS

	theta := p.AngleDeg * math.Pi / 180
	crater := 1.161 *
		math.Cbrt(p.DensityKgM3/TargetDensity) *
		math.Pow(p.DiameterM, 0.78) *
		math.Pow(p.VelocityMS, 0.44) *
		math.Pow(Gravity, -0.22) *
		math.Cbrt(math.Sin(theta)) *
		1e-3

	cbrtW := math.Cbrt(energyJ / JoulesPerKgTNT)

	return Result{
		MassKg:           mass,
		EnergyJ:          energyJ,
		EnergyMt:         energyJ / JoulesPerMt,
		CraterDiameterKm: crater,
		Overpressure: Radii{
			PSI1:  k1psi * cbrtW,
			PSI3:  k3psi * cbrtW,
			PSI5:  k5psi * cbrtW,
			PSI20: k20psi * cbrtW,
		},
	}, nil
}

// FromDiameterRange computes the impact of a body whose size is only known as an
// estimated diameter range in kilometres. The mean of the range is used.
func FromDiameterRange(minKm, maxKm, density, velocity, angle float64) (Result, error) {
	if !positive(minKm) || !positive(maxKm) || maxKm < minKm {
		return Result{}, fmt.Errorf("%w: diameter range [%v, %v] km", ErrInvalidParameter, minKm, maxKm)
	}
	return Compute(Params{
		DiameterM:   (minKm + maxKm) / 2 * 1000,
		DensityKgM3: density,
		VelocityMS:  velocity,
		AngleDeg:    angle,
	})
}
