package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	neturl "net/url"
	"path"
	"strconv"
	"strings"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service"
)

// HTTPSource fetches whole imagery assets over HTTP and serves pixel
// windows from the decoded image. The georeference is read from an ESRI
// world file expected next to the asset (same name, .wld extension).
type HTTPSource struct {
	Client  *http.Client
	Retries int
}

func (s HTTPSource) Open(ctx context.Context, url string) (Reader, error) {
	body, err := s.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("Open.%w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Open.Decode[%s]: %w", url, err)
	}

	wldURL, err := worldFileURL(url)
	if err != nil {
		return nil, fmt.Errorf("Open.%w", err)
	}
	wld, err := s.fetch(ctx, wldURL)
	if err != nil {
		return nil, fmt.Errorf("Open.%w", err)
	}
	gt, err := parseWorldFile(wld)
	if err != nil {
		return nil, fmt.Errorf("Open[%s]: %w", wldURL, err)
	}

	return &imageReader{img: img, gt: gt}, nil
}

func (s HTTPSource) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	body, err := service.DoBodyRetry(client, req, s.Retries)
	if err != nil {
		if ctx.Err() != nil {
			return nil, service.MakeCancelled(err)
		}
		return nil, fmt.Errorf("fetch[%s]: %w", url, err)
	}
	return body, nil
}

// worldFileURL swaps the asset extension for .wld, keeping the query.
func worldFileURL(assetURL string) (string, error) {
	u, err := neturl.Parse(assetURL)
	if err != nil {
		return "", fmt.Errorf("worldFileURL: %w", err)
	}
	ext := path.Ext(u.Path)
	u.Path = strings.TrimSuffix(u.Path, ext) + ".wld"
	return u.String(), nil
}

// geoTransform maps projected coordinates to pixel indices. originX/originY
// is the outer corner of the top-left pixel; pixelH is negative for
// north-up imagery.
type geoTransform struct {
	originX, originY float64
	pixelW, pixelH   float64
}

// parseWorldFile reads the six-line ESRI world file format. The world
// file's origin is the center of the top-left pixel.
func parseWorldFile(data []byte) (geoTransform, error) {
	var gt geoTransform
	fields := strings.Fields(string(data))
	if len(fields) < 6 {
		return gt, fmt.Errorf("parseWorldFile: %d values, want 6", len(fields))
	}
	vals := make([]float64, 6)
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return gt, fmt.Errorf("parseWorldFile: %w", err)
		}
		vals[i] = v
	}
	if vals[1] != 0 || vals[2] != 0 {
		return gt, fmt.Errorf("parseWorldFile: rotated rasters are not supported")
	}
	gt.pixelW, gt.pixelH = vals[0], vals[3]
	gt.originX = vals[4] - gt.pixelW/2
	gt.originY = vals[5] - gt.pixelH/2
	return gt, nil
}

type imageReader struct {
	img image.Image
	gt  geoTransform
}

// ReadWindow samples the decoded image over the projected window at the
// requested output size, nearest neighbor. Samples outside the image come
// back zero on all bands.
func (r *imageReader) ReadWindow(ctx context.Context, w Window, outW, outH int) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, service.MakeCancelled(err)
	}
	bounds := r.img.Bounds()
	red := make([]float64, outW*outH)
	green := make([]float64, outW*outH)
	blue := make([]float64, outW*outH)
	for y := 0; y < outH; y++ {
		// row 0 is the window's north edge
		projY := w.MaxY - (float64(y)+0.5)/float64(outH)*w.Height()
		srcY := bounds.Min.Y + int(math.Floor((projY-r.gt.originY)/r.gt.pixelH))
		for x := 0; x < outW; x++ {
			projX := w.MinX + (float64(x)+0.5)/float64(outW)*w.Width()
			srcX := bounds.Min.X + int(math.Floor((projX-r.gt.originX)/r.gt.pixelW))
			if srcX < bounds.Min.X || srcX >= bounds.Max.X || srcY < bounds.Min.Y || srcY >= bounds.Max.Y {
				continue
			}
			cr, cg, cb, _ := r.img.At(srcX, srcY).RGBA()
			i := y*outW + x
			red[i] = float64(cr >> 8)
			green[i] = float64(cg >> 8)
			blue[i] = float64(cb >> 8)
		}
	}
	return [][]float64{red, green, blue}, nil
}

func (r *imageReader) Close() error { return nil }
