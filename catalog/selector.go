package catalog

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service/geometry"
	"github.com/paulsmith/gogeos/geos"
)

type selection struct {
	scenes []*common.Scene
	ratio  float64
}

type candidate struct {
	scene        *common.Scene
	intersection *geos.Geometry
	ratio        float64
}

// selectCoverage greedily unions cached scenes over the window. Recency is
// the primary sort key, not area: imagery currency matters more than
// minimizing the scene count. A candidate is kept only if it grows the
// running coverage by more than the gain margin, and selection stops as
// soon as the near-complete threshold is reached.
func (c *Catalog) selectCoverage(window *geos.Geometry) (selection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var candidates []candidate
	for _, cached := range c.scenes {
		inter, ratio, err := geometry.Intersection(cached.footprint, window)
		if err != nil {
			return selection{}, fmt.Errorf("selectCoverage.%w", err)
		}
		if ratio == 0 {
			continue
		}
		candidates = append(candidates, candidate{scene: cached.scene, intersection: inter, ratio: ratio})
	}
	if len(candidates) == 0 {
		return selection{}, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].scene.Date.Equal(candidates[j].scene.Date) {
			return candidates[i].scene.Date.After(candidates[j].scene.Date)
		}
		return candidates[i].ratio > candidates[j].ratio
	})

	running := candidates[0].intersection
	runningRatio := candidates[0].ratio
	selected := []*common.Scene{candidates[0].scene}

	for _, cand := range candidates[1:] {
		if runningRatio >= nearCompleteRatio {
			break
		}
		union, err := geometry.Union([]*geos.Geometry{running, cand.intersection}, geometry.TOLERANCE_GEOG)
		if err != nil {
			return selection{}, fmt.Errorf("selectCoverage.%w", err)
		}
		ratio, err := geometry.AreaRatio(union, window)
		if err != nil {
			return selection{}, fmt.Errorf("selectCoverage.%w", err)
		}
		if ratio <= runningRatio+unionGainMargin {
			continue
		}
		running = union
		runningRatio = ratio
		selected = append(selected, cand.scene)
	}
	runtime.KeepAlive(running)

	return selection{scenes: selected, ratio: runningRatio}, nil
}
