package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service"
)

type fakeSearcher struct {
	mu      sync.Mutex
	windows []common.GeoWindow
	limits  []int
	scenes  []*common.Scene
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, window common.GeoWindow, maxCloudCover float64, limit int) ([]*common.Scene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, window)
	f.limits = append(f.limits, limit)
	return f.scenes, f.err
}

func (f *fakeSearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

func day(d int) time.Time {
	return time.Date(2024, 6, d, 10, 0, 0, 0, time.UTC)
}

func boxScene(id string, date time.Time, minLng, minLat, maxLng, maxLat float64) *common.Scene {
	return &common.Scene{
		ID:   id,
		Date: date,
		GeometryWKT: fmt.Sprintf("POLYGON ((%[1]f %[2]f, %[3]f %[2]f, %[3]f %[4]f, %[1]f %[4]f, %[1]f %[2]f))",
			minLng, minLat, maxLng, maxLat),
		EPSG:   32633,
		Assets: map[string]string{common.AssetVisual: "https://example.com/" + id + ".tif"},
	}
}

func unitWindow() common.GeoWindow {
	return common.GeoWindow{TopLeft: common.LatLng{Lat: 1, Lng: 0}, BottomRight: common.LatLng{Lat: 0, Lng: 1}}
}

func TestFetchCoverageFullyCached(t *testing.T) {
	searcher := &fakeSearcher{}
	c := New(searcher, 20)
	c.merge(context.Background(), []*common.Scene{
		boxScene("full", day(12), -1, -1, 2, 2),
		boxScene("older", day(1), -1, -1, 2, 2),
	})

	cov, err := c.FetchCoverage(context.Background(), unitWindow())
	if err != nil {
		t.Fatal(err)
	}
	if !cov.Complete {
		t.Errorf("expecting complete coverage, found ratio %f", cov.Ratio)
	}
	if len(cov.Scenes) != 1 || cov.Scenes[0].ID != "full" {
		t.Errorf("expecting the single recent scene, found %d scenes", len(cov.Scenes))
	}
	if searcher.calls() != 0 {
		t.Errorf("a cached window must not hit the network, found %d calls", searcher.calls())
	}
}

func TestSelectionOrderAndGapFill(t *testing.T) {
	searcher := &fakeSearcher{}
	c := New(searcher, 20)
	c.merge(context.Background(), []*common.Scene{
		// newest covers the left half
		boxScene("left-new", day(14), 0, 0, 0.5, 1),
		// same geometry, older: no marginal gain, must be skipped
		boxScene("left-old", day(10), 0, 0, 0.5, 1),
		// older still, covers the right half
		boxScene("right", day(5), 0.5, 0, 1.5, 1),
	})

	cov, err := c.FetchCoverage(context.Background(), unitWindow())
	if err != nil {
		t.Fatal(err)
	}
	if len(cov.Scenes) != 2 {
		t.Fatalf("expecting 2 scenes, found %d", len(cov.Scenes))
	}
	if cov.Scenes[0].ID != "left-new" || cov.Scenes[1].ID != "right" {
		t.Errorf("unexpected selection order: %s, %s", cov.Scenes[0].ID, cov.Scenes[1].ID)
	}
	if !cov.Complete {
		t.Errorf("expecting complete coverage, found ratio %f", cov.Ratio)
	}
}

func TestSelectionTimestampTieBreak(t *testing.T) {
	searcher := &fakeSearcher{}
	c := New(searcher, 20)
	c.merge(context.Background(), []*common.Scene{
		boxScene("small", day(12), 0, 0, 0.3, 1),
		boxScene("large", day(12), 0, 0, 2, 2),
	})

	cov, err := c.FetchCoverage(context.Background(), unitWindow())
	if err != nil {
		t.Fatal(err)
	}
	if cov.Scenes[0].ID != "large" {
		t.Errorf("equal timestamps must rank by ratio, found %s first", cov.Scenes[0].ID)
	}
	if len(cov.Scenes) != 1 {
		t.Errorf("the small scene adds no coverage, found %d scenes", len(cov.Scenes))
	}
}

func TestFetchCoveragePartialIssuesTwoSearches(t *testing.T) {
	// the remote catalog only knows a scene covering 40% of the window
	searcher := &fakeSearcher{scenes: []*common.Scene{boxScene("partial", day(12), 0, 0, 0.4, 1)}}
	c := New(searcher, 20)

	cov, err := c.FetchCoverage(context.Background(), unitWindow())
	if err != nil {
		t.Fatal(err)
	}
	if searcher.calls() != 2 {
		t.Errorf("expecting one batched and one direct search, found %d calls", searcher.calls())
	}
	if cov.Complete {
		t.Error("40%% coverage must not be complete")
	}
	if cov.Ratio < 0.39 || cov.Ratio > 0.41 {
		t.Errorf("expecting ratio ~0.4, found %f", cov.Ratio)
	}
	if len(cov.Scenes) != 1 || cov.Scenes[0].ID != "partial" {
		t.Errorf("expecting the partial scene, found %v", cov.Scenes)
	}
}

func TestFetchCoverageNoScenes(t *testing.T) {
	searcher := &fakeSearcher{}
	c := New(searcher, 20)

	cov, err := c.FetchCoverage(context.Background(), unitWindow())
	if err != nil {
		t.Fatal(err)
	}
	if len(cov.Scenes) != 0 || cov.Complete {
		t.Errorf("expecting an empty coverage, found %+v", cov)
	}
	if searcher.calls() != 2 {
		t.Errorf("expecting 2 round trips at most, found %d", searcher.calls())
	}
}

func TestMergeIdempotent(t *testing.T) {
	c := New(&fakeSearcher{}, 20)
	scenes := []*common.Scene{boxScene("a", day(1), 0, 0, 1, 1)}
	c.merge(context.Background(), scenes)
	c.merge(context.Background(), scenes)
	if c.CachedScenes() != 1 {
		t.Errorf("expecting 1 cached scene, found %d", c.CachedScenes())
	}
}

func TestSearchLimit(t *testing.T) {
	tiny := common.GeoWindow{TopLeft: common.LatLng{Lat: 0.01, Lng: 0}, BottomRight: common.LatLng{Lat: 0, Lng: 0.01}}
	if l := searchLimit(tiny); l != minSearchLimit {
		t.Errorf("expecting %d, found %d", minSearchLimit, l)
	}
	huge := common.GeoWindow{TopLeft: common.LatLng{Lat: 10, Lng: 0}, BottomRight: common.LatLng{Lat: 0, Lng: 10}}
	if l := searchLimit(huge); l != maxSearchLimit {
		t.Errorf("expecting %d, found %d", maxSearchLimit, l)
	}
}

func TestBatcherCoalesces(t *testing.T) {
	var calls int32
	search := func(ctx context.Context, w common.GeoWindow, limit int) ([]*common.Scene, error) {
		atomic.AddInt32(&calls, 1)
		return []*common.Scene{boxScene("u", day(12), w.TopLeft.Lng, w.BottomRight.Lat, w.BottomRight.Lng, w.TopLeft.Lat)}, nil
	}
	b := newBatcher(20*time.Millisecond, search)

	w1 := common.GeoWindow{TopLeft: common.LatLng{Lat: 1, Lng: 0}, BottomRight: common.LatLng{Lat: 0, Lng: 1}}
	w2 := common.GeoWindow{TopLeft: common.LatLng{Lat: 2, Lng: 1}, BottomRight: common.LatLng{Lat: 1, Lng: 2}}

	var wg sync.WaitGroup
	results := make([][]*common.Scene, 2)
	for i, w := range []common.GeoWindow{w1, w2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = b.Search(context.Background(), w, 10)
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expecting 1 coalesced search, found %d", calls)
	}
	// both callers see the same result over the union window
	if len(results[0]) != 1 || len(results[1]) != 1 || results[0][0] != results[1][0] {
		t.Error("callers did not share the batched result")
	}
	u := results[0][0]
	if u.GeometryWKT != boxScene("u", day(12), 0, 0, 2, 2).GeometryWKT {
		t.Errorf("expecting the union window footprint, found %s", u.GeometryWKT)
	}
}

func TestBatcherCancelledCaller(t *testing.T) {
	block := make(chan struct{})
	search := func(ctx context.Context, w common.GeoWindow, limit int) ([]*common.Scene, error) {
		<-block
		return nil, nil
	}
	b := newBatcher(time.Millisecond, search)

	ctx, cncl := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Search(ctx, unitWindow(), 10)
		done <- err
	}()
	cncl()
	err := <-done
	close(block)

	if !service.Cancelled(err) {
		t.Errorf("expecting a cancelled error, found %v", err)
	}
}
