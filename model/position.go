package model

import "time"

// Provenance records where a Position came from.
type Provenance string

const (
	ProvenanceReal      Provenance = "real"      // upstream fetch
	ProvenancePredicted Provenance = "predicted" // kinematic prediction
	ProvenanceMock      Provenance = "mock"      // synthetic fallback
)

// Position is an immutable value describing where an object is at Timestamp.
// Positions are always replaced wholesale, never mutated in place.
type Position struct {
	Latitude   float64    `json:"lat"`
	Longitude  float64    `json:"lon"`
	AltitudeKm float64    `json:"alt"`
	Azimuth    *float64   `json:"azimuth,omitempty"`
	Elevation  *float64   `json:"elevation,omitempty"`
	RangeKm    *float64   `json:"rangeKm,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Provenance Provenance `json:"provenance"`
}

// Equal compares two positions field by field, including optional angles.
func (p Position) Equal(o Position) bool {
	return p.Latitude == o.Latitude &&
		p.Longitude == o.Longitude &&
		p.AltitudeKm == o.AltitudeKm &&
		optEqual(p.Azimuth, o.Azimuth) &&
		optEqual(p.Elevation, o.Elevation) &&
		optEqual(p.RangeKm, o.RangeKm) &&
		p.Timestamp.Equal(o.Timestamp) &&
		p.Provenance == o.Provenance
}

// HasLookAngles reports whether azimuth and elevation are both set.
func (p Position) HasLookAngles() bool {
	return p.Azimuth != nil && p.Elevation != nil
}

func optEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Float64 returns a pointer to v, for optional Position fields.
func Float64(v float64) *float64 { return &v }

// ObjectView is the client-facing shape of an object with its latest position.
type ObjectView struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	Category    string     `json:"category"`
	Position    *Position  `json:"position,omitempty"`
	Provenance  Provenance `json:"provenance,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

// NewObjectView builds the view for obj; pos may be nil when nothing has
// been emitted yet.
func NewObjectView(obj TrackedObject, pos *Position) ObjectView {
	v := ObjectView{ID: obj.ID, Name: obj.Name, Category: obj.Category}
	if pos != nil {
		p := *pos
		ts := p.Timestamp
		v.Position = &p
		v.Provenance = p.Provenance
		v.LastUpdated = &ts
	}
	return v
}
