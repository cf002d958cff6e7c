// Command impactcalc prints impact estimates from the command line, either
// for a single impactor or ranked over a cached NEO catalog.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/star/neosim/internal/impact"
	"github.com/star/neosim/internal/neo"
	"github.com/star/neosim/internal/scenario"
)

func main() {
	var (
		diameter = pflag.Float64("diameter", 0, "impactor diameter in metres")
		density  = pflag.Float64("density", impact.DefaultDensity, "impactor density in kg/m³")
		velocity = pflag.Float64("velocity", impact.DefaultVelocity, "impact velocity in m/s")
		angle    = pflag.Float64("angle", impact.DefaultAngle, "impact angle from horizontal in degrees")
		catalog  = pflag.String("catalog", "", "rank every object in this catalog cache instead")
		limit    = pflag.Int("limit", 10, "number of ranked objects to print")
	)
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if *catalog != "" {
		if err := rank(*catalog, *limit, logger); err != nil {
			fmt.Fprintln(os.Stderr, "ERROR:", err)
			os.Exit(1)
		}
		return
	}

	res, err := impact.Compute(impact.Params{
		DiameterM:   *diameter,
		DensityKgM3: *density,
		VelocityMS:  *velocity,
		AngleDeg:    *angle,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		pflag.Usage()
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(res)
}

func rank(path string, limit int, logger *slog.Logger) error {
	cache, err := neo.OpenCache(path, 0, logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	cat, err := cache.LoadLatest()
	if err != nil {
		return fmt.Errorf("reading catalog cache: %w", err)
	}
	fmt.Printf("Loaded %d objects from %s (fetched %s)\n", len(cat.Asteroids), cat.Source, cat.FetchedAt.Format("2006-01-02 15:04"))

	results := scenario.Assess(context.Background(), scenario.Request{Asteroids: cat.Asteroids, Limit: limit})
	for i, a := range results {
		if a.Error != "" {
			fmt.Printf("%3d. %-32s ERROR %s\n", i+1, a.Name, a.Error)
			continue
		}
		hazard := ""
		if a.Hazardous {
			hazard = " [hazardous]"
		}
		fmt.Printf("%3d. %-32s %8.0f m  %10.2f Mt  crater %6.2f km%s\n",
			i+1, a.Name, a.DiameterM, a.Impact.EnergyMt, a.Impact.CraterDiameterKm, hazard)
	}
	return nil
}
