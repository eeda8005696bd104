// Package warp resamples a projected raster window onto an arbitrary
// quadrilateral of output pixels and composites multiple sources into one
// image, most-recent-wins.
package warp

import (
	"image"
	"math"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/raster"
)

// Point is a position in a source raster's pixel-index space.
type Point struct {
	X, Y float64
}

// Quad is the destination tile footprint in the source's projected
// coordinates: corners A,B,C,D matching the top-left, top-right,
// bottom-right and bottom-left of the output pixel grid.
type Quad [4][2]float64

// Source is a decoded raster window: at least 3 row-major band planes plus
// the projected bounds they were read from.
type Source struct {
	Bounds raster.Window
	Width  int
	Height int
	Bands  [][]float64
}

// pixel converts projected coordinates to pixel indices, row 0 at MaxY.
func (s *Source) pixel(x, y float64) Point {
	return Point{
		X: (x - s.Bounds.MinX) / s.Bounds.Width() * float64(s.Width),
		Y: (s.Bounds.MaxY - y) / s.Bounds.Height() * float64(s.Height),
	}
}

// Paint samples src over the quad into dst. The mapping is the bilinear
// (non-affine) interpolation of the four corner vectors,
// P = A + u(B−A) + v(D−A) + uv((C−B)−(D−A)), because reprojection is
// locally curved and the quad is generally not a parallelogram. Sampling is
// nearest-pixel. An all-zero RGB sample is nodata and leaves the
// destination pixel untouched, and only not-yet-opaque destination pixels
// are written, so repeated calls composite most-recent-first with gap fill
// from older sources.
func Paint(src *Source, quad Quad, dst *image.RGBA) {
	if len(src.Bands) < 3 || src.Width <= 0 || src.Height <= 0 {
		return
	}
	a := src.pixel(quad[0][0], quad[0][1])
	b := src.pixel(quad[1][0], quad[1][1])
	c := src.pixel(quad[2][0], quad[2][1])
	d := src.pixel(quad[3][0], quad[3][1])

	// corner-to-corner vectors of the bilinear map
	abX, abY := b.X-a.X, b.Y-a.Y
	adX, adY := d.X-a.X, d.Y-a.Y
	crossX, crossY := (c.X-b.X)-adX, (c.Y-b.Y)-adY

	bounds := dst.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	red, green, blue := src.Bands[0], src.Bands[1], src.Bands[2]

	for y := 0; y < h; y++ {
		v := float64(y) / float64(h)
		for x := 0; x < w; x++ {
			idx := dst.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			if dst.Pix[idx+3] == 255 {
				continue
			}
			u := float64(x) / float64(w)
			px := a.X + u*abX + v*adX + u*v*crossX
			py := a.Y + u*abY + v*adY + u*v*crossY

			sx := clampInt(int(math.Round(px)), 0, src.Width-1)
			sy := clampInt(int(math.Round(py)), 0, src.Height-1)
			s := sy*src.Width + sx

			r, g, bl := red[s], green[s], blue[s]
			if r == 0 && g == 0 && bl == 0 {
				// nodata: leave the pixel for an older scene to fill
				continue
			}
			dst.Pix[idx] = clampByte(r)
			dst.Pix[idx+1] = clampByte(g)
			dst.Pix[idx+2] = clampByte(bl)
			dst.Pix[idx+3] = 255
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
