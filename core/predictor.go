package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/satellite-tracker/model"
)

const (
	// Latitude oscillation amplitude in degrees.
	predictLatAmplitudeDeg = 5.0
	// Altitude oscillation amplitude in kilometres.
	predictAltAmplitudeKm = 20.0
	// Predicted altitudes never drop below this floor.
	predictMinAltitudeKm = 200.0
)

// OrbitalPeriodSeconds returns the circular-orbit period for an altitude
// above the mean Earth radius.
func OrbitalPeriodSeconds(altitudeKm float64) float64 {
	r := EarthRadiusKm + altitudeKm
	return 2 * math.Pi * math.Sqrt(r*r*r/EarthMu)
}

// Predict synthesizes a plausible position elapsedSeconds after last.
//
// This is a deliberately crude kinematic approximation, not orbital
// propagation: longitude advances at the circular-orbit angular rate while
// latitude and altitude oscillate around the last fix. The result is pure and
// deterministic. Non-positive elapsed time returns last unchanged.
func Predict(last model.Position, elapsedSeconds float64) model.Position {
	if !(elapsedSeconds > 0) {
		return last
	}

	alt := last.AltitudeKm
	if alt <= 0 {
		alt = predictMinAltitudeKm
	}
	period := OrbitalPeriodSeconds(alt)
	omega := 360.0 / period

	phase := 2 * math.Pi * elapsedSeconds / period

	return model.Position{
		Latitude:   ClampLatitude(last.Latitude + predictLatAmplitudeDeg*math.Sin(phase)),
		Longitude:  WrapLongitude(last.Longitude + omega*elapsedSeconds),
		AltitudeKm: math.Max(predictMinAltitudeKm, last.AltitudeKm+predictAltAmplitudeKm*math.Cos(2*phase)),
		Timestamp:  last.Timestamp.Add(secondsToDuration(elapsedSeconds)),
		Provenance: model.ProvenancePredicted,
	}
}

// PredictAt predicts from last to the wall time now.
func PredictAt(last model.Position, now time.Time) model.Position {
	return Predict(last, now.Sub(last.Timestamp).Seconds())
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
