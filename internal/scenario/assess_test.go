package scenario

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/neosim/internal/impact"
	"github.com/star/neosim/internal/neo"
)

func ptr(v float64) *float64 { return &v }

func TestAssessOrdersByEnergy(t *testing.T) {
	cat := neo.MockCatalog(time.Now())

	results := Assess(context.Background(), Request{Asteroids: cat.Asteroids, Workers: 2})
	require.Len(t, results, len(cat.Asteroids))

	for i, r := range results {
		require.Empty(t, r.Error, "result %d (%s)", i, r.ID)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Impact.EnergyJ, r.Impact.EnergyJ, "sorted by energy at %d", i)
		}
	}

	// Ganymed has the largest mean diameter in the mock catalog.
	assert.Equal(t, "2001036", results[0].ID)
	assert.Equal(t, impact.DefaultVelocity, results[0].VelocityMS)
}

func TestAssessMatchesCompute(t *testing.T) {
	a := neo.Asteroid{ID: "x", Name: "X", DiameterMinKm: 0.04, DiameterMaxKm: 0.06}

	got := Assess(context.Background(), Request{
		Asteroids:   []neo.Asteroid{a},
		DensityKgM3: ptr(3000),
		VelocityMS:  ptr(20000),
		AngleDeg:    ptr(45),
	})
	want, err := impact.Compute(impact.Params{DiameterM: a.MeanDiameterKm() * 1000, DensityKgM3: 3000, VelocityMS: 20000, AngleDeg: 45})
	require.NoError(t, err)
	require.NotNil(t, got[0].Impact)
	assert.Equal(t, want, *got[0].Impact)
}

func TestAssessExplicitValuesNotDefaulted(t *testing.T) {
	a := neo.Asteroid{ID: "x", Name: "X", DiameterMinKm: 0.04, DiameterMaxKm: 0.06}

	t.Run("zero angle gives no crater", func(t *testing.T) {
		got := Assess(context.Background(), Request{Asteroids: []neo.Asteroid{a}, AngleDeg: ptr(0)})
		require.Empty(t, got[0].Error)
		require.NotNil(t, got[0].Impact)
		assert.Zero(t, got[0].Impact.CraterDiameterKm)
		assert.Positive(t, got[0].Impact.EnergyJ)
	})

	t.Run("zero density is rejected", func(t *testing.T) {
		got := Assess(context.Background(), Request{Asteroids: []neo.Asteroid{a}, DensityKgM3: ptr(0)})
		assert.Nil(t, got[0].Impact)
		assert.Contains(t, got[0].Error, "density")
	})

	t.Run("zero velocity is rejected", func(t *testing.T) {
		fast := a
		fast.Approaches = []neo.Approach{{VelocityKmS: 31.5}}
		got := Assess(context.Background(), Request{Asteroids: []neo.Asteroid{fast}, VelocityMS: ptr(0)})
		assert.Nil(t, got[0].Impact)
		assert.Contains(t, got[0].Error, "velocity")
		assert.Zero(t, got[0].VelocityMS)
	})
}

func TestAssessUsesApproachVelocity(t *testing.T) {
	a := neo.Asteroid{
		ID: "fast", DiameterMinKm: 0.1, DiameterMaxKm: 0.1,
		Approaches: []neo.Approach{{VelocityKmS: 0}, {VelocityKmS: 31.5}},
	}
	got := Assess(context.Background(), Request{Asteroids: []neo.Asteroid{a}})
	assert.Equal(t, 31500.0, got[0].VelocityMS)

	got = Assess(context.Background(), Request{Asteroids: []neo.Asteroid{a}, VelocityMS: ptr(12000)})
	assert.Equal(t, 12000.0, got[0].VelocityMS)
}

func TestAssessInvalidSortsLast(t *testing.T) {
	asts := []neo.Asteroid{
		{ID: "bad", DiameterMinKm: 0, DiameterMaxKm: 0},
		{ID: "small", DiameterMinKm: 0.01, DiameterMaxKm: 0.01},
		{ID: "big", DiameterMinKm: 1, DiameterMaxKm: 1},
	}
	got := Assess(context.Background(), Request{Asteroids: asts})

	assert.Equal(t, []string{"big", "small", "bad"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.NotEmpty(t, got[2].Error)
	assert.Nil(t, got[2].Impact)
}

func TestAssessLimit(t *testing.T) {
	cat := neo.MockCatalog(time.Now())
	got := Assess(context.Background(), Request{Asteroids: cat.Asteroids, Limit: 2})
	assert.Len(t, got, 2)
}

func TestAssessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	asts := make([]neo.Asteroid, 50)
	for i := range asts {
		asts[i] = neo.Asteroid{ID: fmt.Sprintf("a%02d", i), DiameterMinKm: 1, DiameterMaxKm: 1}
	}
	got := Assess(ctx, Request{Asteroids: asts, Workers: 1})
	require.Len(t, got, len(asts))
	// Every entry is either computed or marked cancelled; none are left empty.
	for _, r := range got {
		if r.Impact == nil {
			assert.Equal(t, "cancelled", r.Error, r.ID)
		}
	}
}

func TestAssessEmpty(t *testing.T) {
	assert.Empty(t, Assess(context.Background(), Request{}))
}

