package common

import (
	"fmt"
	"math"
)

// LatLng is a geographic coordinate in degrees (WGS84).
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GeoWindow is a north-up rectangle in geographic coordinates.
// Windows are immutable: operations return a new window.
type GeoWindow struct {
	TopLeft     LatLng `json:"topLeft"`
	BottomRight LatLng `json:"bottomRight"`
}

// Union returns the smallest window containing w and o.
func (w GeoWindow) Union(o GeoWindow) GeoWindow {
	return GeoWindow{
		TopLeft: LatLng{
			Lat: math.Max(w.TopLeft.Lat, o.TopLeft.Lat),
			Lng: math.Min(w.TopLeft.Lng, o.TopLeft.Lng),
		},
		BottomRight: LatLng{
			Lat: math.Min(w.BottomRight.Lat, o.BottomRight.Lat),
			Lng: math.Max(w.BottomRight.Lng, o.BottomRight.Lng),
		},
	}
}

// Area returns the window area in square degrees.
func (w GeoWindow) Area() float64 {
	return math.Abs(w.BottomRight.Lng-w.TopLeft.Lng) * math.Abs(w.TopLeft.Lat-w.BottomRight.Lat)
}

// BBox returns [minLng, minLat, maxLng, maxLat].
func (w GeoWindow) BBox() [4]float64 {
	return [4]float64{w.TopLeft.Lng, w.BottomRight.Lat, w.BottomRight.Lng, w.TopLeft.Lat}
}

// WKT encodes the window as a closed polygon.
func (w GeoWindow) WKT() string {
	return fmt.Sprintf("POLYGON ((%[1]f %[4]f, %[3]f %[4]f, %[3]f %[2]f, %[1]f %[2]f, %[1]f %[4]f))",
		w.TopLeft.Lng, w.BottomRight.Lat, w.BottomRight.Lng, w.TopLeft.Lat)
}

// TileSize is a tile's pixel dimensions.
type TileSize struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Quad is the tile footprint as four geographic corners in
// top-left, top-right, bottom-right, bottom-left order.
type Quad [4]LatLng
