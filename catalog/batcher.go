package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service"
)

type searchFunc func(ctx context.Context, window common.GeoWindow, limit int) ([]*common.Scene, error)

// batcher coalesces concurrent remote searches: the first caller arms a
// timer, later callers within the batch window join it, and one request is
// issued over the union of all pending windows. Every caller receives the
// same result set.
type batcher struct {
	delay  time.Duration
	search searchFunc

	mu      sync.Mutex
	pending *batch
}

type batch struct {
	window common.GeoWindow
	limit  int
	done   chan struct{}
	scenes []*common.Scene
	err    error
}

func newBatcher(delay time.Duration, search searchFunc) *batcher {
	return &batcher{delay: delay, search: search}
}

// Search joins (or arms) the pending batch and waits for its result. The
// outgoing request runs on a context detached from any single caller, so
// one caller's cancellation does not starve the others; a cancelled caller
// gets a cancelled error immediately.
func (b *batcher) Search(ctx context.Context, window common.GeoWindow, limit int) ([]*common.Scene, error) {
	b.mu.Lock()
	bt := b.pending
	if bt == nil {
		bt = &batch{window: window, limit: limit, done: make(chan struct{})}
		b.pending = bt
		dispatchCtx := context.WithoutCancel(ctx)
		time.AfterFunc(b.delay, func() { b.dispatch(dispatchCtx, bt) })
	} else {
		bt.window = bt.window.Union(window)
		if limit > bt.limit {
			bt.limit = limit
		}
	}
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, service.MakeCancelled(ctx.Err())
	case <-bt.done:
		return bt.scenes, bt.err
	}
}

func (b *batcher) dispatch(ctx context.Context, bt *batch) {
	b.mu.Lock()
	if b.pending == bt {
		b.pending = nil
	}
	window, limit := bt.window, bt.limit
	b.mu.Unlock()

	bt.scenes, bt.err = b.search(ctx, window, limit)
	close(bt.done)
}
