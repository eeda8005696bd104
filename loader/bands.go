package loader

import (
	"context"
	"fmt"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/raster"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/warp"
)

// BandSource produces the RGB raster of one scene over a pixel window.
// Implementations decide which assets to read and how to turn them into
// color bands (true color, spectral index, ...).
type BandSource interface {
	Produce(ctx context.Context, pool *ReaderPool, scene *common.Scene, window raster.Window, width, height int) (*warp.Source, error)
}

// VisualSource reads the precomposed true-color asset of a scene.
type VisualSource struct {
	Asset string
}

func NewVisualSource() VisualSource {
	return VisualSource{Asset: common.AssetVisual}
}

func (s VisualSource) Produce(ctx context.Context, pool *ReaderPool, scene *common.Scene, window raster.Window, width, height int) (*warp.Source, error) {
	url, ok := scene.Assets[s.Asset]
	if !ok {
		return nil, fmt.Errorf("Produce: scene %s has no %s asset", scene.ID, s.Asset)
	}
	reader, err := pool.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("Produce.%w", err)
	}
	bands, err := pool.ReadWindow(ctx, reader, window, width, height)
	if err != nil {
		return nil, fmt.Errorf("Produce.%w", err)
	}
	if len(bands) < 3 {
		return nil, fmt.Errorf("Produce: %s asset of scene %s has %d bands, want 3", s.Asset, scene.ID, len(bands))
	}
	return &warp.Source{
		Bounds: window,
		Width:  width,
		Height: height,
		Bands:  bands[:3],
	}, nil
}
