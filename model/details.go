package model

import "time"

// ObjectDetails extends ObjectView with catalog and upstream information for
// a single object.
type ObjectDetails struct {
	ObjectView
	Priority             int        `json:"priority"`
	RealFetchIntervalSec int        `json:"realFetchIntervalSec"`
	UpstreamName         string     `json:"upstreamName,omitempty"`
	LastRealFetch        *time.Time `json:"lastRealFetch,omitempty"`
	Viewers              int        `json:"viewers"`
}
