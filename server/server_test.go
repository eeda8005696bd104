package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service"
)

type fakeLoader struct {
	mu       sync.Mutex
	image    []byte
	err      error
	dates    []string
	unloaded []string
}

func (f *fakeLoader) CreateTile(ctx context.Context, req common.TileRequest) ([]byte, error) {
	return f.image, f.err
}

func (f *fakeLoader) UnloadTile(key string) {
	f.mu.Lock()
	f.unloaded = append(f.unloaded, key)
	f.mu.Unlock()
}

func (f *fakeLoader) VisibleAcquisitionDates() []string { return f.dates }

func dialLayer(t *testing.T, srv *httptest.Server, layer string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tiles/" + layer
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestServer(t *testing.T, tiles TileLoader) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	NewHandler(map[string]TileLoader{"visual": tiles}).AddRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func createTileMessage(key string) map[string]interface{} {
	return map[string]interface{}{
		"type":              "createTile",
		"key":               key,
		"coordsTopLeft":     map[string]float64{"lat": 1, "lng": 0},
		"coordsBottomRight": map[string]float64{"lat": 0, "lng": 1},
		"cellCoords":        [][2]float64{{0, 1}, {1, 1}, {1, 0}, {0, 0}},
		"tileSize":          map[string]int{"x": 4, "y": 4},
	}
}

func TestCreateTileRoundTrip(t *testing.T) {
	tiles := &fakeLoader{image: []byte("not-really-a-png")}
	conn := dialLayer(t, newTestServer(t, tiles), "visual")

	if err := conn.WriteJSON(createTileMessage("1/2/3")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var done doneMessage
	if err := conn.ReadJSON(&done); err != nil {
		t.Fatalf("read: %v", err)
	}
	if done.Type != "done" || done.Key != "1/2/3" {
		t.Errorf("reply = %+v, want done for 1/2/3", done)
	}
	if done.Error != nil {
		t.Errorf("error = %q, want none", *done.Error)
	}
	if done.Image == nil {
		t.Fatal("no image in reply")
	}
	decoded, err := base64.StdEncoding.DecodeString(*done.Image)
	if err != nil || string(decoded) != "not-really-a-png" {
		t.Errorf("image = %q (%v), want the rendered bytes", *done.Image, err)
	}
}

func TestCreateTileFailure(t *testing.T) {
	tiles := &fakeLoader{err: fmt.Errorf("scene read failed")}
	conn := dialLayer(t, newTestServer(t, tiles), "visual")

	if err := conn.WriteJSON(createTileMessage("1/2/3")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var done doneMessage
	if err := conn.ReadJSON(&done); err != nil {
		t.Fatalf("read: %v", err)
	}
	if done.Error == nil || !strings.Contains(*done.Error, "scene read failed") {
		t.Errorf("error = %v, want the render failure", done.Error)
	}
	if done.Image != nil {
		t.Error("failed render must not carry an image")
	}
}

func TestCancelledRenderStaysSilent(t *testing.T) {
	tiles := &fakeLoader{err: service.MakeCancelled(fmt.Errorf("superseded")), dates: []string{"2024-06-01"}}
	conn := dialLayer(t, newTestServer(t, tiles), "visual")

	if err := conn.WriteJSON(createTileMessage("1/2/3")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "getImagesDates"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply datesMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	// the cancelled render must not have produced a done message
	if reply.Type != "getImagesDates" {
		t.Fatalf("reply type = %q, want getImagesDates", reply.Type)
	}
	if len(reply.ImagesDates) != 1 || reply.ImagesDates[0] != "2024-06-01" {
		t.Errorf("imagesDates = %v, want [2024-06-01]", reply.ImagesDates)
	}
}

func TestUnloadTile(t *testing.T) {
	tiles := &fakeLoader{}
	conn := dialLayer(t, newTestServer(t, tiles), "visual")

	if err := conn.WriteJSON(map[string]string{"type": "unloadTile", "key": "1/2/3"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// unloadTile has no reply; use a dates round trip as a barrier
	if err := conn.WriteJSON(map[string]string{"type": "getImagesDates"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply datesMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	tiles.mu.Lock()
	defer tiles.mu.Unlock()
	if len(tiles.unloaded) != 1 || tiles.unloaded[0] != "1/2/3" {
		t.Errorf("unloaded = %v, want [1/2/3]", tiles.unloaded)
	}
}

func TestUnknownLayer(t *testing.T) {
	srv := newTestServer(t, &fakeLoader{})
	resp, err := http.Get(srv.URL + "/tiles/thermal")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTileRequestValidation(t *testing.T) {
	valid := clientMessage{
		Type:              "createTile",
		Key:               "1/2/3",
		CoordsTopLeft:     &common.LatLng{Lat: 1, Lng: 0},
		CoordsBottomRight: &common.LatLng{Lat: 0, Lng: 1},
		CellCoords:        [][2]float64{{0, 1}, {1, 1}, {1, 0}, {0, 0}},
		TileSize:          &common.TileSize{X: 256, Y: 256},
	}

	req, err := tileRequest(valid)
	if err != nil {
		t.Fatalf("tileRequest: %v", err)
	}
	if req.Cell[0] != (common.LatLng{Lat: 1, Lng: 0}) {
		t.Errorf("cell corner = %+v, want lng/lat swapped into place", req.Cell[0])
	}

	missingKey := valid
	missingKey.Key = ""
	if _, err := tileRequest(missingKey); err == nil {
		t.Error("missing key must be rejected")
	}

	badCell := valid
	badCell.CellCoords = valid.CellCoords[:3]
	if _, err := tileRequest(badCell); err == nil {
		t.Error("a three-corner cell must be rejected")
	}

	badSize := valid
	badSize.TileSize = &common.TileSize{X: 0, Y: 256}
	if _, err := tileRequest(badSize); err == nil {
		t.Error("a zero tile size must be rejected")
	}
}
