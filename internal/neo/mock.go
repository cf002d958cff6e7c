package neo

import (
	"math"
	"time"
)

// MockCatalog returns a small offline catalog used when fetching is disabled.
// Orbital elements are left empty; the simulation assigns synthetic ones.
func MockCatalog(now time.Time) *Catalog {
	return &Catalog{
		Source:    "mock",
		FetchedAt: now,
		Asteroids: []Asteroid{
			{ID: "2000433", Name: "433 Eros (A898 PA)", Kind: KindAsteroid, AbsoluteMagnitude: 10.31, DiameterMinKm: 22.0067, DiameterMaxKm: 49.2085},
			{ID: "2000719", Name: "719 Albert (A911 TB)", Kind: KindAsteroid, AbsoluteMagnitude: 15.59, DiameterMinKm: 2.0302, DiameterMaxKm: 4.5396},
			{ID: "2001036", Name: "1036 Ganymed (A924 UB)", Kind: KindAsteroid, AbsoluteMagnitude: 9.25, DiameterMinKm: 37.5452, DiameterMaxKm: 83.9537},
			{ID: "2099942", Name: "99942 Apophis (2004 MN4)", Kind: KindAsteroid, AbsoluteMagnitude: 19.09, DiameterMinKm: 0.3066, DiameterMaxKm: 0.6856, Hazardous: true},
			{ID: "2101955", Name: "101955 Bennu (1999 RQ36)", Kind: KindAsteroid, AbsoluteMagnitude: 20.19, DiameterMinKm: 0.4901, DiameterMaxKm: 0.5600, Hazardous: true},
			{ID: "3542519", Name: "(2010 PK9)", Kind: KindAsteroid, AbsoluteMagnitude: 21.8, DiameterMinKm: 0.1160, DiameterMaxKm: 0.2594, Hazardous: true},
		},
	}
}

// comet holds perihelion-based elements as published for periodic comets.
type comet struct {
	id, name   string
	e, q, i    float64 // eccentricity, perihelion AU, inclination deg
	diameterKm float64
}

var mockComets = []comet{
	{"2P", "2P/Encke", 0.8502, 0.339, 11.8, 4.8},
	{"1P", "1P/Halley", 0.967, 0.586, 162.3, 11},
	{"67P", "67P/Churyumov-Gerasimenko", 0.641, 1.243, 7.0, 4.3},
	{"103P", "103P/Hartley 2", 0.695, 1.059, 13.6, 2.2},
	{"81P", "81P/Wild 2", 0.539, 1.592, 3.2, 3.5},
}

// MockComets returns periodic comets with orbital elements derived from
// perihelion distance: a = q/(1−e), P = 365.25·a^1.5 days.
func MockComets() []Asteroid {
	out := make([]Asteroid, 0, len(mockComets))
	for _, c := range mockComets {
		a := c.q / (1 - c.e)
		out = append(out, Asteroid{
			ID:            c.id,
			Name:          c.name,
			Kind:          KindComet,
			DiameterMinKm: c.diameterKm,
			DiameterMaxKm: c.diameterKm,
			Orbit: &OrbitalData{
				SemiMajorAU:    a,
				Eccentricity:   c.e,
				InclinationDeg: c.i,
				PeriodDays:     365.25 * math.Pow(a, 1.5),
				PerihelionAU:   c.q,
			},
		})
	}
	return out
}
