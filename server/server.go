package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/common"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service/log"
)

// TileLoader is the per-layer rendering backend of a tile channel.
type TileLoader interface {
	CreateTile(ctx context.Context, req common.TileRequest) ([]byte, error)
	UnloadTile(key string)
	VisibleAcquisitionDates() []string
}

// Handler serves one websocket tile channel per configured layer on
// /tiles/{layer}.
type Handler struct {
	layers   map[string]TileLoader
	upgrader websocket.Upgrader
}

func NewHandler(layers map[string]TileLoader) *Handler {
	return &Handler{
		layers: layers,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// AddRoutes registers the tile channel endpoint on the router.
func (h *Handler) AddRoutes(r *mux.Router) {
	r.HandleFunc("/tiles/{layer}", h.serveLayer).Methods("GET")
}

func (h *Handler) serveLayer(w http.ResponseWriter, r *http.Request) {
	layer := mux.Vars(r)["layer"]
	tiles, ok := h.layers[layer]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown layer %q", layer), http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Logger(r.Context()).Warn("upgrade failed", zap.String("layer", layer), zap.Error(err))
		return
	}

	ctx := log.With(context.Background(), zap.String("layer", layer), zap.String("session", uuid.New().String()))
	s := &session{conn: conn, tiles: tiles}
	s.serve(ctx)
}

// clientMessage is the envelope of every message a viewer sends.
type clientMessage struct {
	Type              string           `json:"type"`
	Key               string           `json:"key,omitempty"`
	CoordsTopLeft     *common.LatLng   `json:"coordsTopLeft,omitempty"`
	CoordsBottomRight *common.LatLng   `json:"coordsBottomRight,omitempty"`
	CellCoords        [][2]float64     `json:"cellCoords,omitempty"` // [lng, lat]
	TileSize          *common.TileSize `json:"tileSize,omitempty"`
}

type doneMessage struct {
	Type  string  `json:"type"`
	Key   string  `json:"key"`
	Error *string `json:"error"`
	Image *string `json:"image"`
}

type datesMessage struct {
	Type        string   `json:"type"`
	ImagesDates []string `json:"imagesDates"`
}

// session is one websocket connection on a tile channel. Renders run
// concurrently; writes to the connection are serialized.
type session struct {
	conn  *websocket.Conn
	tiles TileLoader

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func (s *session) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
		s.conn.Close()
	}()
	log.Logger(ctx).Info("session opened")

	for {
		var msg clientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Logger(ctx).Warn("session closed", zap.Error(err))
			} else {
				log.Logger(ctx).Info("session closed")
			}
			return
		}

		switch msg.Type {
		case "createTile":
			req, err := tileRequest(msg)
			if err != nil {
				s.sendDone(ctx, msg.Key, nil, err)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.createTile(ctx, req)
			}()
		case "unloadTile":
			s.tiles.UnloadTile(msg.Key)
		case "getImagesDates":
			s.send(ctx, datesMessage{Type: "getImagesDates", ImagesDates: s.tiles.VisibleAcquisitionDates()})
		default:
			log.Logger(ctx).Warn("unknown message type", zap.String("type", msg.Type))
		}
	}
}

// createTile renders the tile and reports the outcome exactly once, except
// when the render was superseded or the tile unloaded: a cancelled render
// stays silent.
func (s *session) createTile(ctx context.Context, req common.TileRequest) {
	image, err := s.tiles.CreateTile(ctx, req)
	if service.Cancelled(err) || ctx.Err() != nil {
		log.Logger(ctx).Debug("render cancelled", zap.String("key", req.Key))
		return
	}
	s.sendDone(ctx, req.Key, image, err)
}

func (s *session) sendDone(ctx context.Context, key string, image []byte, err error) {
	msg := doneMessage{Type: "done", Key: key}
	if err != nil {
		text := err.Error()
		msg.Error = &text
		log.Logger(ctx).Warn("render failed", zap.String("key", key), zap.Error(err))
	} else {
		encoded := base64.StdEncoding.EncodeToString(image)
		msg.Image = &encoded
	}
	s.send(ctx, msg)
}

func (s *session) send(ctx context.Context, msg interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		log.Logger(ctx).Warn("write failed", zap.Error(err))
	}
}

// tileRequest validates a createTile message and maps it onto the loader's
// request shape.
func tileRequest(msg clientMessage) (common.TileRequest, error) {
	var req common.TileRequest
	if msg.Key == "" {
		return req, fmt.Errorf("tileRequest: missing key")
	}
	if msg.CoordsTopLeft == nil || msg.CoordsBottomRight == nil {
		return req, fmt.Errorf("tileRequest[%s]: missing window coordinates", msg.Key)
	}
	if len(msg.CellCoords) != 4 {
		return req, fmt.Errorf("tileRequest[%s]: cellCoords has %d corners, want 4", msg.Key, len(msg.CellCoords))
	}
	if msg.TileSize == nil || msg.TileSize.X <= 0 || msg.TileSize.Y <= 0 {
		return req, fmt.Errorf("tileRequest[%s]: invalid tile size", msg.Key)
	}
	req.Key = msg.Key
	req.Window = common.GeoWindow{TopLeft: *msg.CoordsTopLeft, BottomRight: *msg.CoordsBottomRight}
	for i, c := range msg.CellCoords {
		req.Cell[i] = common.LatLng{Lng: c[0], Lat: c[1]}
	}
	req.Size = *msg.TileSize
	return req, nil
}
