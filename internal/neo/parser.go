package neo

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// browseResponse mirrors the subset of the NeoWs browse payload we use.
// Orbital and approach figures arrive as decimal strings.
type browseResponse struct {
	Page struct {
		Size          int `json:"size"`
		TotalElements int `json:"total_elements"`
		TotalPages    int `json:"total_pages"`
		Number        int `json:"number"`
	} `json:"page"`
	NearEarthObjects []rawObject `json:"near_earth_objects"`
}

type rawObject struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	AbsoluteMagnitude float64 `json:"absolute_magnitude_h"`
	JPLURL            string  `json:"nasa_jpl_url"`
	EstimatedDiameter struct {
		Kilometers struct {
			Min float64 `json:"estimated_diameter_min"`
			Max float64 `json:"estimated_diameter_max"`
		} `json:"kilometers"`
	} `json:"estimated_diameter"`
	Hazardous         bool `json:"is_potentially_hazardous_asteroid"`
	CloseApproachData []struct {
		Date             string `json:"close_approach_date"`
		RelativeVelocity struct {
			KmPerSecond string `json:"kilometers_per_second"`
		} `json:"relative_velocity"`
		MissDistance struct {
			Kilometers string `json:"kilometers"`
		} `json:"miss_distance"`
		OrbitingBody string `json:"orbiting_body"`
	} `json:"close_approach_data"`
	OrbitalData *struct {
		Eccentricity       string `json:"eccentricity"`
		SemiMajorAxis      string `json:"semi_major_axis"`
		Inclination        string `json:"inclination"`
		OrbitalPeriod      string `json:"orbital_period"`
		PerihelionDistance string `json:"perihelion_distance"`
	} `json:"orbital_data"`
}

// Page describes pagination of a browse response.
type Page struct {
	Number     int
	Size       int
	TotalPages int
}

// Parse decodes a NeoWs browse response from r.
// Objects without an ID or with an unusable diameter range are skipped with a
// warning; malformed numeric fields are dropped individually.
func Parse(r io.Reader, logger *slog.Logger) ([]Asteroid, Page, error) {
	var resp browseResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, Page{}, fmt.Errorf("decoding NEO data: %w", err)
	}

	page := Page{Number: resp.Page.Number, Size: resp.Page.Size, TotalPages: resp.Page.TotalPages}
	out := make([]Asteroid, 0, len(resp.NearEarthObjects))

	for i, raw := range resp.NearEarthObjects {
		id := strings.TrimSpace(raw.ID)
		if id == "" {
			logger.Warn("skipping NEO entry without id", "index", i, "name", raw.Name)
			continue
		}
		km := raw.EstimatedDiameter.Kilometers
		if !(km.Min > 0) || km.Max < km.Min {
			logger.Warn("skipping NEO entry with invalid diameter range",
				"id", id, "min_km", km.Min, "max_km", km.Max)
			continue
		}

		a := Asteroid{
			ID:                id,
			Name:              strings.TrimSpace(raw.Name),
			Kind:              KindAsteroid,
			AbsoluteMagnitude: raw.AbsoluteMagnitude,
			DiameterMinKm:     km.Min,
			DiameterMaxKm:     km.Max,
			Hazardous:         raw.Hazardous,
			JPLURL:            raw.JPLURL,
		}

		for _, ca := range raw.CloseApproachData {
			a.Approaches = append(a.Approaches, Approach{
				Date:           ca.Date,
				VelocityKmS:    parseFloat(ca.RelativeVelocity.KmPerSecond),
				MissDistanceKm: parseFloat(ca.MissDistance.Kilometers),
				OrbitingBody:   ca.OrbitingBody,
			})
		}

		if od := raw.OrbitalData; od != nil {
			a.Orbit = &OrbitalData{
				SemiMajorAU:    parseFloat(od.SemiMajorAxis),
				Eccentricity:   parseFloat(od.Eccentricity),
				InclinationDeg: parseFloat(od.Inclination),
				PeriodDays:     parseFloat(od.OrbitalPeriod),
				PerihelionAU:   parseFloat(od.PerihelionDistance),
			}
		}

		out = append(out, a)
	}

	return out, page, nil
}

// parseFloat returns 0 for empty or malformed decimal strings.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
