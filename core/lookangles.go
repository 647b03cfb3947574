package core

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/satellite-tracker/model"
)

// Observer is a fixed ground location from which look angles are computed.
type Observer struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeKm   float64
}

// LookAngles describes where an object appears from the observer.
type LookAngles struct {
	AzimuthDeg    float64
	ElevationDeg  float64
	SlantRangeKm  float64
	GroundRangeKm float64
}

// LookAnglesTo computes azimuth/elevation/range from the observer to pos.
// go-satellite works in radians and kilometres; results are in degrees.
func (o Observer) LookAnglesTo(pos model.Position) LookAngles {
	ts := pos.Timestamp.UTC()
	year, month, day := ts.Date()
	hour, minute, sec := ts.Clock()
	jday := satellite.JDay(year, int(month), day, hour, minute, sec)

	satLL := satellite.LatLong{
		Latitude:  degToRad(pos.Latitude),
		Longitude: degToRad(pos.Longitude),
	}
	obsLL := satellite.LatLong{
		Latitude:  degToRad(o.LatitudeDeg),
		Longitude: degToRad(o.LongitudeDeg),
	}

	satECI := satellite.LLAToECI(satLL, pos.AltitudeKm, jday)
	look := satellite.ECIToLookAngles(satECI, obsLL, o.AltitudeKm, jday)

	// Directly overhead the topocentric vector degenerates and the library
	// yields NaN; JSON cannot carry NaN, so pin those to the zenith.
	if math.IsNaN(look.Az) {
		look.Az = 0
	}
	if math.IsNaN(look.El) {
		look.El = math.Pi / 2
	}

	return LookAngles{
		AzimuthDeg:    radToDeg(look.Az),
		ElevationDeg:  radToDeg(look.El),
		SlantRangeKm:  look.Rg,
		GroundRangeKm: o.GroundRangeKm(pos.Latitude, pos.Longitude),
	}
}

// GroundRangeKm returns the great-circle distance from the observer to the
// sub-satellite point.
func (o Observer) GroundRangeKm(lat, lon float64) float64 {
	from := s2.PointFromLatLng(s2.LatLngFromDegrees(o.LatitudeDeg, o.LongitudeDeg))
	to := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	angle := s1.Angle(s2.ChordAngleBetweenPoints(from, to).Angle())
	return angle.Radians() * EarthRadiusKm
}

// Annotate fills in any missing azimuth, elevation and ground range on pos.
// Values already supplied by the upstream provider are kept.
func (o Observer) Annotate(pos model.Position) model.Position {
	if pos.HasLookAngles() && pos.RangeKm != nil {
		return pos
	}
	look := o.LookAnglesTo(pos)
	if pos.Azimuth == nil {
		pos.Azimuth = model.Float64(look.AzimuthDeg)
	}
	if pos.Elevation == nil {
		pos.Elevation = model.Float64(look.ElevationDeg)
	}
	if pos.RangeKm == nil {
		pos.RangeKm = model.Float64(look.GroundRangeKm)
	}
	return pos
}
