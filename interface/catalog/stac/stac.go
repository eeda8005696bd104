// Package stac queries a STAC item-search endpoint for scenes.
package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service/log"
	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/go-spatial/geom/encoding/wkt"
)

const defaultCloudCoverField = "eo:cloud_cover"

type Client struct {
	Endpoint        string
	Collections     []string
	CloudCoverField string
	HTTPClient      *http.Client
}

type searchRequest struct {
	Collections []string                          `json:"collections"`
	BBox        [4]float64                        `json:"bbox"`
	Query       map[string]map[string]float64     `json:"query"`
	Limit       int                               `json:"limit"`
	SortBy      []struct {
		Field     string `json:"field"`
		Direction string `json:"direction"`
	} `json:"sortby"`
}

type feature struct {
	ID         string           `json:"id"`
	Geometry   geojson.Geometry `json:"geometry"`
	Properties map[string]any   `json:"properties"`
	Assets     map[string]struct {
		Href string `json:"href"`
	} `json:"assets"`
}

// Search returns the scenes of the configured collections intersecting the
// window, filtered by cloud cover and sorted by capture time descending.
func (c *Client) Search(ctx context.Context, window common.GeoWindow, maxCloudCover float64, limit int) ([]*common.Scene, error) {
	field := c.CloudCoverField
	if field == "" {
		field = defaultCloudCoverField
	}
	body := searchRequest{
		Collections: c.Collections,
		BBox:        window.BBox(),
		Query:       map[string]map[string]float64{field: {"lte": maxCloudCover}},
		Limit:       limit,
	}
	body.SortBy = append(body.SortBy, struct {
		Field     string `json:"field"`
		Direction string `json:"direction"`
	}{Field: "properties.datetime", Direction: "desc"})

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("Search.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("Search.NewRequest: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, service.MakeCancelled(err)
		}
		return nil, service.MakeTemporary(fmt.Errorf("Search: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		err := fmt.Errorf("Search: %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// a malformed query will not get better on retry
			return nil, service.MakeFatal(err)
		}
		return nil, service.MakeTemporary(err)
	}

	results := struct {
		Features []feature `json:"features"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("Search.Decode: %w", err)
	}

	scenes := make([]*common.Scene, 0, len(results.Features))
	for _, f := range results.Features {
		scene, err := sceneFromFeature(f)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("Search: skipping %s: %v", f.ID, err)
			continue
		}
		scenes = append(scenes, scene)
	}
	log.Logger(ctx).Sugar().Debugf("%d scenes found for bbox %v", len(scenes), window.BBox())

	return scenes, nil
}

func sceneFromFeature(f feature) (*common.Scene, error) {
	datetime, ok := f.Properties["datetime"].(string)
	if !ok {
		return nil, fmt.Errorf("missing datetime")
	}
	date, err := dateparse.ParseAny(datetime)
	if err != nil {
		return nil, fmt.Errorf("parse datetime: %w", err)
	}

	epsg := 0
	if v, ok := f.Properties["proj:epsg"].(float64); ok {
		epsg = int(v)
	}

	cloudCover := 0.0
	for _, key := range []string{"eo:cloud_cover", "cloud_cover", "cloudCover"} {
		if v, ok := f.Properties[key].(float64); ok {
			cloudCover = v
			break
		}
	}

	assets := make(map[string]string, len(f.Assets))
	for name, a := range f.Assets {
		assets[name] = a.Href
	}

	return &common.Scene{
		ID:          f.ID,
		GeometryWKT: wkt.MustEncode(f.Geometry.Geometry),
		Date:        date,
		CloudCover:  cloudCover,
		EPSG:        epsg,
		Assets:      assets,
	}, nil
}
