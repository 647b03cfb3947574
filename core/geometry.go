package core

import "math"

// EarthRadiusKm is the mean Earth radius used for all simple
// geometry calculations (kilometres).
const EarthRadiusKm = 6371.0

// EarthMu is the standard gravitational parameter of the Earth (km³/s²).
const EarthMu = 398600.4418

// WrapLongitude maps any longitude in degrees into [-180, 180).
func WrapLongitude(lon float64) float64 {
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		return 0
	}
	w := math.Mod(lon+180, 360)
	if w < 0 {
		w += 360
	}
	// math.Mod can round up to exactly 360 for tiny negative inputs.
	if w >= 360 {
		w = 0
	}
	return w - 180
}

// ClampLatitude limits a latitude in degrees to [-90, 90].
func ClampLatitude(lat float64) float64 {
	return clamp(lat, -90, 90)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func degToRad(d float64) float64 { return d * math.Pi / 180.0 }

func radToDeg(r float64) float64 { return r * 180.0 / math.Pi }
