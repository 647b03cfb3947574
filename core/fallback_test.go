package core

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/satellite-tracker/model"
)

func TestFallbackGenerateBounds(t *testing.T) {
	objects := []model.TrackedObject{
		{ID: 25544, Name: "ISS", Inclination: 51.64},
		{ID: 33591, Name: "NOAA 19"},
	}
	g := NewFallbackGenerator(objects)
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 500; i++ {
		now := start.Add(time.Duration(i) * time.Millisecond)
		for _, obj := range objects {
			p := g.Generate(obj.ID, now)
			if p.Provenance != model.ProvenanceMock {
				t.Fatalf("Provenance mismatch: got %q, want mock", p.Provenance)
			}
			if math.Abs(p.Latitude) > obj.LatitudeBound() {
				t.Fatalf("object %d latitude %v exceeds bound %v", obj.ID, p.Latitude, obj.LatitudeBound())
			}
			if p.Longitude < -180 || p.Longitude >= 180 {
				t.Fatalf("longitude %v out of [-180, 180)", p.Longitude)
			}
			if p.AltitudeKm < 400 || p.AltitudeKm > 700 {
				t.Fatalf("altitude %v out of [400, 700]", p.AltitudeKm)
			}
			if !p.Timestamp.Equal(now) {
				t.Fatalf("Timestamp mismatch: got %v, want %v", p.Timestamp, now)
			}
		}
	}
}

func TestFallbackUnknownObjectUsesFullLatitudeRange(t *testing.T) {
	var g *FallbackGenerator
	p := g.Generate(99999, time.Unix(100, 0))
	if math.Abs(p.Latitude) > 90 {
		t.Fatalf("latitude %v out of [-90, 90]", p.Latitude)
	}
}

func TestFallbackConcurrentUse(t *testing.T) {
	g := NewFallbackGenerator([]model.TrackedObject{{ID: 1, Inclination: 10}})
	now := time.Unix(1000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p := g.Generate(1, now.Add(time.Duration(i*100+j)))
				if math.Abs(p.Latitude) > 10 {
					t.Errorf("latitude %v exceeds bound 10", p.Latitude)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
