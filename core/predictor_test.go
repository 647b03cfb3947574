package core

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/satellite-tracker/model"
)

func issFix() model.Position {
	return model.Position{
		Latitude:   10,
		Longitude:  170,
		AltitudeKm: 420,
		Timestamp:  time.Unix(0, 0).UTC(),
		Provenance: model.ProvenanceReal,
	}
}

func TestPredictZeroElapsedIsIdentity(t *testing.T) {
	last := issFix()
	last.Azimuth = model.Float64(123)
	last.Elevation = model.Float64(-4)

	got := Predict(last, 0)
	if !got.Equal(last) {
		t.Fatalf("Predict(p, 0) = %+v, want %+v", got, last)
	}

	if got := Predict(last, -10); !got.Equal(last) {
		t.Fatalf("Predict(p, -10) = %+v, want unchanged", got)
	}
}

func TestPredictWrapsLongitude(t *testing.T) {
	last := issFix()
	last.Longitude = 179

	// Elapsed time that advances longitude by exactly five degrees.
	period := OrbitalPeriodSeconds(last.AltitudeKm)
	elapsed := 5 * period / 360

	got := Predict(last, elapsed)
	if math.Abs(got.Longitude-(-176)) > 1e-6 {
		t.Fatalf("Longitude mismatch: got %v, want ≈ -176", got.Longitude)
	}
}

func TestPredictLongitudeAlwaysInRange(t *testing.T) {
	lons := []float64{-180, -179.999, -90, 0, 90, 179.999, 359, -359}
	elapsed := []float64{0.001, 1, 5, 60, 3600, 86400, 1e7}
	alts := []float64{200, 420, 800, 35786}

	for _, lon := range lons {
		for _, e := range elapsed {
			for _, alt := range alts {
				last := model.Position{Latitude: 0, Longitude: lon, AltitudeKm: alt, Timestamp: time.Unix(0, 0)}
				got := Predict(last, e)
				if got.Longitude < -180 || got.Longitude >= 180 {
					t.Fatalf("Predict(lon=%v, alt=%v, elapsed=%v) longitude = %v, out of [-180, 180)", lon, alt, e, got.Longitude)
				}
				if got.Latitude < -90 || got.Latitude > 90 {
					t.Fatalf("Predict latitude = %v, out of [-90, 90]", got.Latitude)
				}
				if got.AltitudeKm < 200 {
					t.Fatalf("Predict altitude = %v, below floor", got.AltitudeKm)
				}
			}
		}
	}
}

func TestPredictISSAfterFiveSeconds(t *testing.T) {
	got := Predict(issFix(), 5)

	if got.Provenance != model.ProvenancePredicted {
		t.Fatalf("Provenance mismatch: got %q, want %q", got.Provenance, model.ProvenancePredicted)
	}
	if got.AltitudeKm < 400 || got.AltitudeKm > 440 {
		t.Fatalf("AltitudeKm = %v, want within [400, 440]", got.AltitudeKm)
	}
	if got.Longitude < -180 || got.Longitude >= 180 {
		t.Fatalf("Longitude = %v, out of [-180, 180)", got.Longitude)
	}
	// ISS period is roughly 93 minutes, so five seconds is about 0.32°.
	if delta := got.Longitude - 170; delta < 0.3 || delta > 0.35 {
		t.Fatalf("Longitude advanced by %v degrees, want ≈ 0.32", delta)
	}
	if want := time.Unix(5, 0).UTC(); !got.Timestamp.Equal(want) {
		t.Fatalf("Timestamp mismatch: got %v, want %v", got.Timestamp, want)
	}
}

func TestPredictClampsLatitudeAndFloorsAltitude(t *testing.T) {
	last := model.Position{Latitude: 89, Longitude: 0, AltitudeKm: 150, Timestamp: time.Unix(0, 0)}
	period := OrbitalPeriodSeconds(150)

	// A quarter period puts sin at its peak and cos(2·phase) at -1.
	got := Predict(last, period/4)
	if got.Latitude != 90 {
		t.Fatalf("Latitude = %v, want clamped to 90", got.Latitude)
	}
	if got.AltitudeKm != 200 {
		t.Fatalf("AltitudeKm = %v, want floored at 200", got.AltitudeKm)
	}
}

func TestPredictIsDeterministic(t *testing.T) {
	a := Predict(issFix(), 42.5)
	b := Predict(issFix(), 42.5)
	if !a.Equal(b) {
		t.Fatalf("Predict not deterministic: %+v vs %+v", a, b)
	}
}

func TestOrbitalPeriodISS(t *testing.T) {
	got := OrbitalPeriodSeconds(420) / 60
	if got < 92 || got > 94 {
		t.Fatalf("ISS period = %v minutes, want ≈ 92.8", got)
	}
}
