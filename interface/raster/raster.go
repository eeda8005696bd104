// Package raster defines the capability used to read pixel windows out of a
// remote imagery asset, and an HTTP implementation for world-file
// georeferenced PNG/JPEG assets. Heavier formats (COG, JPEG2000) plug in
// behind the same interfaces.
package raster

import "context"

// Window is an axis-aligned rectangle in the raster's projected coordinates.
type Window struct {
	MinX, MinY, MaxX, MaxY float64
}

// Width returns the window extent along X.
func (w Window) Width() float64 { return w.MaxX - w.MinX }

// Height returns the window extent along Y.
func (w Window) Height() float64 { return w.MaxY - w.MinY }

// Source opens readers on imagery assets.
type Source interface {
	Open(ctx context.Context, url string) (Reader, error)
}

// Reader reads pixel windows from one open asset.
type Reader interface {
	// ReadWindow resamples the given projected window to outW×outH pixels and
	// returns one row-major plane per band.
	ReadWindow(ctx context.Context, w Window, outW, outH int) ([][]float64, error)
	Close() error
}
