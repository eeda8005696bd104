package common

// TileRequest asks for one rendered map tile. Key identifies the tile for
// the caller (zoom/column/row or equivalent); Cell is the tile footprint,
// which is generally not rectangular once projected into a scene's CRS.
type TileRequest struct {
	Key    string    `json:"key"`
	Window GeoWindow `json:"window"`
	Cell   Quad      `json:"cellCoords"`
	Size   TileSize  `json:"tileSize"`
}
