package geometry

import (
	"fmt"
	"math"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/paulsmith/gogeos/geos"
)

var TOLERANCE_GEOG = 0.000001

// WindowPolygon returns the window as a geos polygon.
func WindowPolygon(w common.GeoWindow) (*geos.Geometry, error) {
	g, err := geos.FromWKT(w.WKT())
	if err != nil {
		return nil, fmt.Errorf("WindowPolygon.FromWKT: %w", err)
	}
	return g, nil
}

// Intersection returns footprint∩window and the covered fraction of the
// window area. The ratio is rounded to 2 decimals to absorb polygon-math
// noise. A nil geometry with ratio 0 means no intersection.
func Intersection(footprint, window *geos.Geometry) (*geos.Geometry, float64, error) {
	inter, err := footprint.Intersection(window)
	if err != nil {
		return nil, 0, fmt.Errorf("Intersection: %w", err)
	}
	if empty, err := inter.IsEmpty(); err != nil {
		return nil, 0, fmt.Errorf("Intersection.IsEmpty: %w", err)
	} else if empty {
		return nil, 0, nil
	}
	ratio, err := AreaRatio(inter, window)
	if err != nil {
		return nil, 0, fmt.Errorf("Intersection.%w", err)
	}
	return inter, RoundRatio(ratio), nil
}

// AreaRatio returns area(g)/area(window), unrounded.
func AreaRatio(g, window *geos.Geometry) (float64, error) {
	ga, err := g.Area()
	if err != nil {
		return 0, fmt.Errorf("AreaRatio.Area: %w", err)
	}
	wa, err := window.Area()
	if err != nil {
		return 0, fmt.Errorf("AreaRatio.Area: %w", err)
	}
	if wa == 0 {
		return 0, nil
	}
	return ga / wa, nil
}

// RoundRatio rounds a coverage ratio to 2 decimals.
func RoundRatio(r float64) float64 {
	return math.Round(r*100) / 100
}

// Union merges the geometries, simplifying with the tolerance when the
// n-ary union fails on a degenerate input.
func Union(geoms []*geos.Geometry, tolerance float64) (*geos.Geometry, error) {
	aoi, err := UnaryUnion(geoms)
	if err == nil {
		if aoi, err = aoi.Simplify(tolerance); err != nil {
			return nil, fmt.Errorf("Union.Simplify: %w", err)
		}
		return aoi, nil
	}
	// Union all failed, retry one by one with simplify
	aoi = nil
	for _, geom := range geoms {
		if geom, err = geom.Simplify(tolerance); err != nil {
			return nil, fmt.Errorf("Union.Simplify: %w", err)
		}
		if aoi == nil {
			aoi = geom
			continue
		}
		if aoi, err = geom.Union(aoi); err != nil {
			return nil, fmt.Errorf("Union: %w", err)
		}
	}
	return aoi, nil
}

func UnaryUnion(geoms []*geos.Geometry) (*geos.Geometry, error) {
	aoi, err := geos.NewCollection(geos.MULTIPOLYGON, geoms...)
	if err != nil {
		return nil, fmt.Errorf("UnaryUnion.NewCollection: %w", err)
	}
	if aoi, err = aoi.UnaryUnion(); err != nil {
		return nil, fmt.Errorf("UnaryUnion.UnaryUnion: %w", err)
	}
	return aoi, nil
}
