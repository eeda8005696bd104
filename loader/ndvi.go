package loader

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/raster"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/warp"
)

// RampStop maps an index value to a color. Stops are ordered by Value.
type RampStop struct {
	Value   float64
	R, G, B uint8
}

// NDVIRamp is a red-to-green gradient for the normalized difference
// vegetation index, sampled in [0, 1].
var NDVIRamp = []RampStop{
	{0.00, 215, 25, 28},
	{0.25, 253, 174, 97},
	{0.50, 255, 255, 191},
	{0.75, 166, 217, 106},
	{1.00, 26, 150, 65},
}

// IndexSource computes a normalized difference index from two spectral
// bands and colors it through a gradient ramp.
type IndexSource struct {
	BandA string // numerator minuend (e.g. near infrared)
	BandB string // numerator subtrahend (e.g. red)
	Ramp  []RampStop
}

func NewNDVISource() IndexSource {
	return IndexSource{BandA: common.AssetNIR, BandB: common.AssetRed, Ramp: NDVIRamp}
}

func (s IndexSource) Produce(ctx context.Context, pool *ReaderPool, scene *common.Scene, window raster.Window, width, height int) (*warp.Source, error) {
	urlA, okA := scene.Assets[s.BandA]
	urlB, okB := scene.Assets[s.BandB]
	if !okA || !okB {
		return nil, fmt.Errorf("Produce: scene %s is missing %s or %s asset", scene.ID, s.BandA, s.BandB)
	}

	var bandA, bandB []float64
	wg, wgCtx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		var err error
		bandA, err = s.readBand(wgCtx, pool, urlA, window, width, height)
		return err
	})
	wg.Go(func() error {
		var err error
		bandB, err = s.readBand(wgCtx, pool, urlB, window, width, height)
		return err
	})
	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("Produce.%w", err)
	}

	r := make([]float64, len(bandA))
	g := make([]float64, len(bandA))
	b := make([]float64, len(bandA))
	for i := range bandA {
		a, bb := bandA[i], bandB[i]
		if a == 0 && bb == 0 {
			// nodata: left black, skipped by the painter
			continue
		}
		idx := (a - bb) / (a + bb)
		cr, cg, cb := rampColor(s.Ramp, idx)
		r[i], g[i], b[i] = float64(cr), float64(cg), float64(cb)
	}

	return &warp.Source{
		Bounds: window,
		Width:  width,
		Height: height,
		Bands:  [][]float64{r, g, b},
	}, nil
}

func (s IndexSource) readBand(ctx context.Context, pool *ReaderPool, url string, window raster.Window, width, height int) ([]float64, error) {
	reader, err := pool.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	bands, err := pool.ReadWindow(ctx, reader, window, width, height)
	if err != nil {
		return nil, err
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("readBand: %s returned no band", url)
	}
	return bands[0], nil
}

// rampColor interpolates the ramp at the given value, clamped to the
// ramp's domain.
func rampColor(ramp []RampStop, value float64) (uint8, uint8, uint8) {
	if len(ramp) == 0 {
		return 0, 0, 0
	}
	if value <= ramp[0].Value {
		return ramp[0].R, ramp[0].G, ramp[0].B
	}
	last := ramp[len(ramp)-1]
	if value >= last.Value {
		return last.R, last.G, last.B
	}
	for i := 1; i < len(ramp); i++ {
		if value > ramp[i].Value {
			continue
		}
		lo, hi := ramp[i-1], ramp[i]
		t := (value - lo.Value) / (hi.Value - lo.Value)
		return lerpByte(lo.R, hi.R, t), lerpByte(lo.G, hi.G, t), lerpByte(lo.B, hi.B, t)
	}
	return last.R, last.G, last.B
}

func lerpByte(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
}
