package loader

import (
	"fmt"

	"github.com/terrascope/geometry"
	"github.com/terrascope/proj4go"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/raster"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/warp"
)

// sceneQuad projects the four tile corners into the scene's coordinate
// system and returns the projected quad together with its bounding pixel
// window. Geographic scenes need no projection.
func sceneQuad(cell common.Quad, epsg int) (warp.Quad, raster.Window, error) {
	var quad warp.Quad
	if epsg == 4326 {
		for i, c := range cell {
			quad[i] = [2]float64{c.Lng, c.Lat}
		}
	} else {
		proj, err := proj4Def(epsg)
		if err != nil {
			return quad, raster.Window{}, fmt.Errorf("sceneQuad.%w", err)
		}
		pts := make([]geometry.Point, len(cell))
		for i, c := range cell {
			pts[i] = geometry.Point{X: c.Lng, Y: c.Lat}
		}
		proj4go.Forwards(proj, pts)
		for i, p := range pts {
			quad[i] = [2]float64{p.X, p.Y}
		}
	}

	window := raster.Window{MinX: quad[0][0], MinY: quad[0][1], MaxX: quad[0][0], MaxY: quad[0][1]}
	for _, p := range quad[1:] {
		if p[0] < window.MinX {
			window.MinX = p[0]
		}
		if p[0] > window.MaxX {
			window.MaxX = p[0]
		}
		if p[1] < window.MinY {
			window.MinY = p[1]
		}
		if p[1] > window.MaxY {
			window.MaxY = p[1]
		}
	}
	return quad, window, nil
}

// proj4Def builds the proj4 definition for the coordinate systems
// Sentinel-2 products are delivered in.
func proj4Def(epsg int) (string, error) {
	switch {
	case epsg >= 32601 && epsg <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", epsg-32600), nil
	case epsg >= 32701 && epsg <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", epsg-32700), nil
	case epsg == 3857:
		return "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs", nil
	}
	return "", fmt.Errorf("proj4Def: unsupported EPSG code %d", epsg)
}
