package loader

import (
	"context"
	"fmt"
	neturl "net/url"
	"sync"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/auth"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/raster"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service"
)

type openReader struct {
	reader raster.Reader
	token  string
}

// ReaderPool shares open raster readers across tiles, keyed by asset URL.
// Each entry is tagged with the token it was opened with: when the token
// has rotated since, the entry is dropped on next lookup and a fresh reader
// is opened with the current token. Entries are never evicted otherwise.
type ReaderPool struct {
	source raster.Source
	tokens auth.TokenProvider
	retry  service.RetryPolicy

	mu      sync.Mutex
	readers map[string]openReader
}

func NewReaderPool(source raster.Source, tokens auth.TokenProvider, retry service.RetryPolicy) *ReaderPool {
	return &ReaderPool{
		source:  source,
		tokens:  tokens,
		retry:   retry,
		readers: map[string]openReader{},
	}
}

// Open returns the pooled reader for the asset, or opens one with the
// current token appended to the URL. Opens are retried under the pool's
// policy, except on cancellation.
func (p *ReaderPool) Open(ctx context.Context, assetURL string) (raster.Reader, error) {
	var token string
	if p.tokens != nil {
		var err error
		if token, err = p.tokens.Get(); err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
	}

	p.mu.Lock()
	if entry, ok := p.readers[assetURL]; ok {
		if entry.token == token {
			p.mu.Unlock()
			return entry.reader, nil
		}
		// stale token: lazily invalidate
		delete(p.readers, assetURL)
		entry.reader.Close()
	}
	p.mu.Unlock()

	signed, err := signURL(assetURL, token)
	if err != nil {
		return nil, fmt.Errorf("Open.%w", err)
	}

	var reader raster.Reader
	err = service.WithRetry(ctx, p.retry, func(ctx context.Context) error {
		var e error
		reader, e = p.source.Open(ctx, signed)
		if e != nil && ctx.Err() != nil {
			return service.MakeCancelled(e)
		}
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("Open[%s]: %w", assetURL, err)
	}

	p.mu.Lock()
	if entry, ok := p.readers[assetURL]; ok && entry.token == token {
		// lost the race, keep the first reader
		p.mu.Unlock()
		reader.Close()
		return entry.reader, nil
	}
	p.readers[assetURL] = openReader{reader: reader, token: token}
	p.mu.Unlock()

	return reader, nil
}

// Close releases every pooled reader, merging the close errors.
func (p *ReaderPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for url, entry := range p.readers {
		err = service.MergeErrors(true, err, entry.reader.Close())
		delete(p.readers, url)
	}
	return err
}

// ReadWindow reads a pixel window through the pool's retry policy.
func (p *ReaderPool) ReadWindow(ctx context.Context, reader raster.Reader, w raster.Window, outW, outH int) ([][]float64, error) {
	var bands [][]float64
	err := service.WithRetry(ctx, p.retry, func(ctx context.Context) error {
		var e error
		bands, e = reader.ReadWindow(ctx, w, outW, outH)
		if e != nil && ctx.Err() != nil {
			return service.MakeCancelled(e)
		}
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("ReadWindow: %w", err)
	}
	return bands, nil
}

func signURL(assetURL, token string) (string, error) {
	if token == "" {
		return assetURL, nil
	}
	u, err := neturl.Parse(assetURL)
	if err != nil {
		return "", fmt.Errorf("signURL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
