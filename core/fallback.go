package core

import (
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/satellite-tracker/model"
)

const (
	fallbackMinAltitudeKm = 400.0
	fallbackMaxAltitudeKm = 700.0
)

// FallbackGenerator synthesizes positions for objects that have never had a
// real fix. It holds only read-only configuration and is safe for concurrent
// use.
type FallbackGenerator struct {
	latBounds map[int]float64
}

// NewFallbackGenerator builds a generator whose latitude bounds come from
// the catalog's inclinations.
func NewFallbackGenerator(objects []model.TrackedObject) *FallbackGenerator {
	bounds := make(map[int]float64, len(objects))
	for _, o := range objects {
		bounds[o.ID] = o.LatitudeBound()
	}
	return &FallbackGenerator{latBounds: bounds}
}

// Generate returns a mock position for objectID at now. Every call seeds its
// own source from the object and time, so there is no shared RNG state.
func (g *FallbackGenerator) Generate(objectID int, now time.Time) model.Position {
	bound := 90.0
	if g != nil {
		if b, ok := g.latBounds[objectID]; ok {
			bound = b
		}
	}

	rng := rand.New(rand.NewPCG(uint64(objectID), uint64(now.UnixNano())))

	return model.Position{
		Latitude:   (rng.Float64()*2 - 1) * bound,
		Longitude:  rng.Float64()*360 - 180,
		AltitudeKm: fallbackMinAltitudeKm + rng.Float64()*(fallbackMaxAltitudeKm-fallbackMinAltitudeKm),
		Timestamp:  now,
		Provenance: model.ProvenanceMock,
	}
}
