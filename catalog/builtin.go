package catalog

import "github.com/signalsfoundry/satellite-tracker/model"

// builtinObjects is used when neither a catalog file nor a database is
// configured.
var builtinObjects = []model.TrackedObject{
	{ID: 25544, Name: "ISS (ZARYA)", Category: "station", Priority: 1, RealFetchIntervalSec: 30, Inclination: 51.64},
	{ID: 48274, Name: "CSS (TIANHE)", Category: "station", Priority: 1, RealFetchIntervalSec: 30, Inclination: 41.47},
	{ID: 20580, Name: "HST", Category: "telescope", Priority: 2, RealFetchIntervalSec: 60, Inclination: 28.47},
	{ID: 44713, Name: "STARLINK-1007", Category: "communications", Priority: 2, RealFetchIntervalSec: 60, Inclination: 53.05},
	{ID: 33591, Name: "NOAA 19", Category: "weather", Priority: 3, RealFetchIntervalSec: 120, Inclination: 99.19},
	{ID: 25338, Name: "NOAA 15", Category: "weather", Priority: 3, RealFetchIntervalSec: 120, Inclination: 98.56},
	{ID: 41866, Name: "GOES 16", Category: "weather", Priority: 3, RealFetchIntervalSec: 300, Inclination: 0.04},
	{ID: 25994, Name: "TERRA", Category: "earth-observation", Priority: 3, RealFetchIntervalSec: 120, Inclination: 98.21},
	{ID: 27424, Name: "AQUA", Category: "earth-observation", Priority: 3, RealFetchIntervalSec: 120, Inclination: 98.24},
	{ID: 39084, Name: "LANDSAT 8", Category: "earth-observation", Priority: 3, RealFetchIntervalSec: 120, Inclination: 98.22},
	{ID: 40697, Name: "SENTINEL-2A", Category: "earth-observation", Priority: 3, RealFetchIntervalSec: 120, Inclination: 98.57},
	{ID: 40069, Name: "METEOR-M 2", Category: "weather", Priority: 4, RealFetchIntervalSec: 180, Inclination: 98.45},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(builtinObjects)
	if err != nil {
		panic(err)
	}
	return c
}
