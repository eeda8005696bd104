package loader

import (
	"context"
	"testing"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/raster"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service"
)

func TestRampColor(t *testing.T) {
	tests := []struct {
		value   float64
		r, g, b uint8
	}{
		{-1, 215, 25, 28},   // clamped below
		{0, 215, 25, 28},    // first stop
		{0.5, 255, 255, 191}, // exact stop
		{0.125, 234, 100, 63}, // halfway between the first two stops
		{1, 26, 150, 65},    // last stop
		{2, 26, 150, 65},    // clamped above
	}
	for _, tt := range tests {
		r, g, b := rampColor(NDVIRamp, tt.value)
		if r != tt.r || g != tt.g || b != tt.b {
			t.Errorf("rampColor(%g) = (%d %d %d), want (%d %d %d)", tt.value, r, g, b, tt.r, tt.g, tt.b)
		}
	}
}

func TestIndexSourceProduce(t *testing.T) {
	source := &fakeSource{planes: map[string][][]float64{
		"https://assets.test/S2A/B04.tif": {{0, 1}},
		"https://assets.test/S2A/B08.tif": {{0, 3}},
	}}
	pool := NewReaderPool(source, nil, service.DefaultRetryPolicy())
	scene := coveringScene("S2A")

	window := raster.Window{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
	src, err := NewNDVISource().Produce(context.Background(), pool, scene, window, 2, 1)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if len(src.Bands) != 3 {
		t.Fatalf("bands = %d, want 3", len(src.Bands))
	}

	// pixel 0 has no data in either band and stays black
	for band := 0; band < 3; band++ {
		if src.Bands[band][0] != 0 {
			t.Errorf("band %d nodata pixel = %g, want 0", band, src.Bands[band][0])
		}
	}
	// pixel 1: (3-1)/(3+1) = 0.5, the middle ramp stop
	if r, g, b := src.Bands[0][1], src.Bands[1][1], src.Bands[2][1]; r != 255 || g != 255 || b != 191 {
		t.Errorf("indexed pixel = (%g %g %g), want (255 255 191)", r, g, b)
	}
}

func TestIndexSourceMissingAsset(t *testing.T) {
	source := &fakeSource{planes: map[string][][]float64{}}
	pool := NewReaderPool(source, nil, service.DefaultRetryPolicy())
	scene := coveringScene("S2A")
	delete(scene.Assets, "B08")

	window := raster.Window{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
	if _, err := NewNDVISource().Produce(context.Background(), pool, scene, window, 2, 1); err == nil {
		t.Fatal("expected an error for a scene without the near infrared asset")
	}
}
