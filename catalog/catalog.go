// Package catalog maintains the local cache of scene metadata and selects,
// for a geographic window, the minimal recent scene set covering it.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service/geometry"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service/log"
	"github.com/paulsmith/gogeos/geos"
)

const (
	// A window is considered fully covered above this ratio.
	nearCompleteRatio = 0.9999
	// Below this ratio the coverage is unusable and the tile resolves empty.
	lowCoverageRatio = 0.01
	// A candidate must improve the running coverage by more than this.
	unionGainMargin = 0.001

	// Search limit scales with window area, clamped to [10,100].
	scenesPerSquareDegree = 200
	minSearchLimit        = 10
	maxSearchLimit        = 100

	batchWindow = 50 * time.Millisecond
)

// Searcher queries the remote scene catalog.
type Searcher interface {
	Search(ctx context.Context, window common.GeoWindow, maxCloudCover float64, limit int) ([]*common.Scene, error)
}

// Coverage is the result of FetchCoverage: the selected scenes in
// compositing order (most recent first) and the covered fraction of the
// window. Complete means the window is covered up to the near-complete
// threshold.
type Coverage struct {
	Scenes   []*common.Scene
	Ratio    float64
	Complete bool
}

type cachedScene struct {
	scene     *common.Scene
	footprint *geos.Geometry
}

// Catalog caches scenes for the process lifetime (append-only, keyed by id)
// and coalesces concurrent remote searches.
type Catalog struct {
	searcher      Searcher
	maxCloudCover float64

	mu      sync.Mutex
	scenes  map[string]*cachedScene
	batcher *batcher
}

func New(searcher Searcher, maxCloudCover float64) *Catalog {
	c := &Catalog{
		searcher:      searcher,
		maxCloudCover: maxCloudCover,
		scenes:        map[string]*cachedScene{},
	}
	c.batcher = newBatcher(batchWindow, func(ctx context.Context, w common.GeoWindow, limit int) ([]*common.Scene, error) {
		return searcher.Search(ctx, w, maxCloudCover, limit)
	})
	return c
}

// FetchCoverage returns an ordered scene set covering the window. The cached
// scenes are tried first; below the near-complete threshold one batched
// remote search is issued, then at most one more, uncoalesced, so batching
// cannot distort the refinement. An already-covered window costs zero
// network calls.
func (c *Catalog) FetchCoverage(ctx context.Context, window common.GeoWindow) (Coverage, error) {
	windowPoly, err := geometry.WindowPolygon(window)
	if err != nil {
		return Coverage{}, fmt.Errorf("FetchCoverage.%w", err)
	}

	sel, err := c.selectCoverage(windowPoly)
	if err != nil {
		return Coverage{}, fmt.Errorf("FetchCoverage.%w", err)
	}

	if sel.ratio < nearCompleteRatio {
		scenes, err := c.batcher.Search(ctx, window, searchLimit(window))
		if err != nil {
			return Coverage{}, fmt.Errorf("FetchCoverage.%w", err)
		}
		c.merge(ctx, scenes)
		if sel, err = c.selectCoverage(windowPoly); err != nil {
			return Coverage{}, fmt.Errorf("FetchCoverage.%w", err)
		}
	}

	if sel.ratio < nearCompleteRatio {
		// Second pass refines over the exact window, bypassing the batcher.
		scenes, err := c.searcher.Search(ctx, window, c.maxCloudCover, searchLimit(window))
		if err != nil {
			return Coverage{}, fmt.Errorf("FetchCoverage.%w", err)
		}
		c.merge(ctx, scenes)
		if sel, err = c.selectCoverage(windowPoly); err != nil {
			return Coverage{}, fmt.Errorf("FetchCoverage.%w", err)
		}
	}

	if sel.ratio <= lowCoverageRatio {
		log.Logger(ctx).Sugar().Debugf("no usable coverage for %v (ratio=%.3f)", window.BBox(), sel.ratio)
		return Coverage{}, nil
	}

	return Coverage{
		Scenes:   sel.scenes,
		Ratio:    sel.ratio,
		Complete: sel.ratio >= nearCompleteRatio,
	}, nil
}

// CachedScenes returns the number of scenes in the cache.
func (c *Catalog) CachedScenes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scenes)
}

// merge inserts the scenes into the cache, idempotently by id.
func (c *Catalog) merge(ctx context.Context, scenes []*common.Scene) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, scene := range scenes {
		if _, ok := c.scenes[scene.ID]; ok {
			continue
		}
		footprint, err := geos.FromWKT(scene.GeometryWKT)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("merge: skipping %s: %v", scene.ID, err)
			continue
		}
		c.scenes[scene.ID] = &cachedScene{scene: scene, footprint: footprint}
	}
}

func searchLimit(window common.GeoWindow) int {
	limit := int(window.Area() * scenesPerSquareDegree)
	if limit < minSearchLimit {
		return minSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}
