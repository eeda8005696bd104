package loader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/catalog"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/auth"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/raster"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service/log"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/warp"
)

// renderCacheSize bounds the number of finished tile renders kept in memory.
const renderCacheSize = 256

type pendingTile struct {
	cancel context.CancelFunc
}

// cachedRender keeps a finished PNG together with the acquisition dates of
// the scenes composited into it, so a cache hit restores the key's date
// bookkeeping after an unload.
type cachedRender struct {
	png   []byte
	dates service.StringSet
}

// Loader orchestrates the rendering of one tile layer: it resolves the
// scene coverage of a tile, reads and reprojects each scene's pixels and
// composites them into a PNG. Re-requesting a key cancels the render still
// in flight for that key.
type Loader struct {
	catalog *catalog.Catalog
	bands   BandSource
	pool    *ReaderPool
	retry   service.RetryPolicy

	mu      sync.Mutex
	pending map[string]*pendingTile
	visible map[string]service.StringSet
	renders *lru.Cache[string, cachedRender]
}

func New(cat *catalog.Catalog, source raster.Source, tokens auth.TokenProvider, bands BandSource) *Loader {
	retry := service.DefaultRetryPolicy()
	renders, _ := lru.New[string, cachedRender](renderCacheSize)
	return &Loader{
		catalog: cat,
		bands:   bands,
		pool:    NewReaderPool(source, tokens, retry),
		retry:   retry,
		pending: map[string]*pendingTile{},
		visible: map[string]service.StringSet{},
		renders: renders,
	}
}

// CreateTile renders the tile described by req and returns it PNG-encoded.
// Renders with complete scene coverage are cached by key and served from
// memory on repeat requests. A tile with no available coverage renders
// fully transparent.
func (l *Loader) CreateTile(ctx context.Context, req common.TileRequest) ([]byte, error) {
	if cached, ok := l.renders.Get(req.Key); ok {
		l.mu.Lock()
		l.visible[req.Key] = cached.dates
		l.mu.Unlock()
		return cached.png, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	entry := &pendingTile{cancel: cancel}
	l.mu.Lock()
	if prev, ok := l.pending[req.Key]; ok {
		prev.cancel()
	}
	l.pending[req.Key] = entry
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		if l.pending[req.Key] == entry {
			delete(l.pending, req.Key)
		}
		l.mu.Unlock()
	}()

	var coverage catalog.Coverage
	err := service.WithRetry(ctx, l.retry, func(ctx context.Context) error {
		var e error
		coverage, e = l.catalog.FetchCoverage(ctx, req.Window)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("CreateTile.%w", err)
	}
	if err := checkpoint(ctx); err != nil {
		return nil, fmt.Errorf("CreateTile.%w", err)
	}

	out := image.NewRGBA(image.Rect(0, 0, req.Size.X, req.Size.Y))
	dates := service.StringSet{}
	for _, scene := range coverage.Scenes {
		quad, window, err := sceneQuad(req.Cell, scene.EPSG)
		if err != nil {
			return nil, fmt.Errorf("CreateTile[%s].%w", scene.ID, err)
		}
		src, err := l.bands.Produce(ctx, l.pool, scene, window, req.Size.X, req.Size.Y)
		if err != nil {
			return nil, fmt.Errorf("CreateTile[%s].%w", scene.ID, err)
		}
		if err := checkpoint(ctx); err != nil {
			return nil, fmt.Errorf("CreateTile.%w", err)
		}
		warp.Paint(src, quad, out)
		dates.Push(scene.AcquisitionDate())
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("CreateTile.Encode: %w", err)
	}
	// UnloadTile cancels under the same mutex, so a cancellation observed
	// here can never be followed by a visible or render cache write.
	l.mu.Lock()
	if err := checkpoint(ctx); err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("CreateTile.%w", err)
	}
	l.visible[req.Key] = dates
	if coverage.Complete {
		l.renders.Add(req.Key, cachedRender{png: buf.Bytes(), dates: dates})
	} else if len(coverage.Scenes) > 0 {
		log.Logger(ctx).Debug("partial coverage, render not cached",
			zap.String("key", req.Key), zap.Float64("ratio", coverage.Ratio))
	}
	l.mu.Unlock()
	return buf.Bytes(), nil
}

// UnloadTile cancels the render in flight for the key, if any, and drops
// the key from the visible set. The render cache entry survives so the
// tile comes back instantly when panned into view again.
func (l *Loader) UnloadTile(key string) {
	l.mu.Lock()
	if entry, ok := l.pending[key]; ok {
		entry.cancel()
		delete(l.pending, key)
	}
	delete(l.visible, key)
	l.mu.Unlock()
}

// Close releases the pooled raster readers.
func (l *Loader) Close() error {
	return l.pool.Close()
}

// VisibleAcquisitionDates returns the sorted acquisition dates of every
// scene composited into a currently loaded tile.
func (l *Loader) VisibleAcquisitionDates() []string {
	set := service.StringSet{}
	l.mu.Lock()
	for _, dates := range l.visible {
		for _, d := range dates.Slice() {
			set.Push(d)
		}
	}
	l.mu.Unlock()
	dates := set.Slice()
	sort.Strings(dates)
	return dates
}

func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return service.MakeCancelled(err)
	}
	return nil
}
