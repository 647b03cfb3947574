package model

import "time"

// TrackedObject is a static catalog entry for an orbiting object. The set of
// tracked objects is fixed at startup and never mutated afterwards.
type TrackedObject struct {
	ID       int    `json:"id" yaml:"id"` // NORAD catalog number
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category" yaml:"category"`

	// Priority is the scheduling tier; 1 is the highest.
	Priority int `json:"priority" yaml:"priority"`

	// RealFetchIntervalSec is how long a real fix is considered fresh.
	RealFetchIntervalSec int `json:"realFetchIntervalSec" yaml:"real_fetch_interval_sec"`

	// Inclination in degrees bounds the latitude of synthetic positions.
	// Zero means unknown and is treated as 90.
	Inclination float64 `json:"inclination,omitempty" yaml:"inclination"`
}

// RealFetchInterval returns the freshness window as a duration.
func (o TrackedObject) RealFetchInterval() time.Duration {
	return time.Duration(o.RealFetchIntervalSec) * time.Second
}

// LatitudeBound returns min(90, inclination), defaulting to 90.
func (o TrackedObject) LatitudeBound() float64 {
	if o.Inclination <= 0 || o.Inclination > 90 {
		return 90
	}
	return o.Inclination
}

// ObjectMetadata is descriptive data looked up from the upstream provider.
type ObjectMetadata struct {
	Name      string    `json:"name"`
	FetchedAt time.Time `json:"fetchedAt"`
}
