package neo

import "time"

// Kind distinguishes catalog objects.
type Kind string

const (
	KindAsteroid Kind = "asteroid"
	KindComet    Kind = "comet"
)

// Approach is one close approach of an object to a planet.
type Approach struct {
	Date           string  `json:"date"`
	VelocityKmS    float64 `json:"velocity_km_s"`
	MissDistanceKm float64 `json:"miss_distance_km"`
	OrbitingBody   string  `json:"orbiting_body"`
}

// OrbitalData holds catalog orbital elements when the source provides them.
type OrbitalData struct {
	SemiMajorAU    float64 `json:"semi_major_axis_au"`
	Eccentricity   float64 `json:"eccentricity"`
	InclinationDeg float64 `json:"inclination_deg"`
	PeriodDays     float64 `json:"orbital_period_days"`
	PerihelionAU   float64 `json:"perihelion_distance_au"`
}

// Asteroid is one near-Earth object from the catalog.
type Asteroid struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Kind              Kind         `json:"kind"`
	AbsoluteMagnitude float64      `json:"absolute_magnitude_h"`
	DiameterMinKm     float64      `json:"diameter_min_km"`
	DiameterMaxKm     float64      `json:"diameter_max_km"`
	Hazardous         bool         `json:"hazardous"`
	JPLURL            string       `json:"nasa_jpl_url,omitempty"`
	Approaches        []Approach   `json:"close_approaches,omitempty"`
	Orbit             *OrbitalData `json:"orbit,omitempty"`
}

// MeanDiameterKm returns the midpoint of the estimated diameter range.
func (a Asteroid) MeanDiameterKm() float64 {
	return (a.DiameterMinKm + a.DiameterMaxKm) / 2
}

// Catalog is a complete set of objects from one source.
type Catalog struct {
	Source    string     `json:"source"`
	FetchedAt time.Time  `json:"fetched_at"`
	Asteroids []Asteroid `json:"asteroids"`
}

// Find returns the object with the given ID.
func (c *Catalog) Find(id string) (Asteroid, bool) {
	if c == nil {
		return Asteroid{}, false
	}
	for _, a := range c.Asteroids {
		if a.ID == id {
			return a, true
		}
	}
	return Asteroid{}, false
}

// HazardousCount returns the number of potentially hazardous objects.
func (c *Catalog) HazardousCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, a := range c.Asteroids {
		if a.Hazardous {
			n++
		}
	}
	return n
}
