package common

import "time"

// Standard asset names of a scene.
const (
	AssetVisual = "visual"
	AssetRed    = "B04"
	AssetNIR    = "B08"
)

// Scene is one satellite capture: footprint, acquisition date, cloud cover
// and the links to its imagery assets. Scenes are immutable once cached.
type Scene struct {
	ID          string
	GeometryWKT string
	Date        time.Time
	CloudCover  float64
	EPSG        int
	Assets      map[string]string
}

// AcquisitionDate returns the capture day as an ISO date string.
func (s *Scene) AcquisitionDate() string {
	return s.Date.Format("2006-01-02")
}
