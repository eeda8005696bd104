package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/catalog"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/auth"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/catalog/stac"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/interface/raster"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/loader"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/server"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service"
	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service/log"
)

type config struct {
	Port int

	StacEndpoint    string
	StacCollections string

	TokenEndpoint string
	TokenRefresh  time.Duration
	StaticToken   string

	MaxCloudCover     float64
	NDVIMaxCloudCover float64
	FetchRetries      int
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.IntVar(&config.Port, "port", 8080, "HTTP port to listen on")

	flag.StringVar(&config.StacEndpoint, "stac-endpoint", "", "STAC search endpoint of the scene catalog")
	flag.StringVar(&config.StacCollections, "stac-collections", "sentinel-2-l2a", "comma-separated STAC collections to search")

	flag.StringVar(&config.TokenEndpoint, "token-endpoint", "", "endpoint delivering short-lived asset access tokens (optional)")
	flag.DurationVar(&config.TokenRefresh, "token-refresh", 30*time.Minute, "asset token refresh period")
	flag.StringVar(&config.StaticToken, "token", "", "static asset access token (optional, overridden by -token-endpoint)")

	flag.Float64Var(&config.MaxCloudCover, "max-cloud-cover", 30, "cloud cover threshold (%) of the visual layer")
	flag.Float64Var(&config.NDVIMaxCloudCover, "ndvi-max-cloud-cover", 10, "cloud cover threshold (%) of the ndvi layer")
	flag.IntVar(&config.FetchRetries, "fetch-retries", 3, "retries when fetching imagery assets")
	flag.Parse()

	if config.StacEndpoint == "" {
		return nil, fmt.Errorf("missing -stac-endpoint")
	}
	return &config, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx); err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	var tokens auth.TokenProvider
	if config.TokenEndpoint != "" {
		manager, cancel := auth.NewManager(ctx, http.DefaultClient, config.TokenEndpoint, config.TokenRefresh)
		defer cancel()
		tokens = manager
	} else if config.StaticToken != "" {
		tokens = auth.Static(config.StaticToken)
	}

	searcher := &stac.Client{
		Endpoint:    config.StacEndpoint,
		Collections: strings.Split(config.StacCollections, ","),
	}
	source := raster.HTTPSource{Retries: config.FetchRetries}

	visual := loader.New(catalog.New(searcher, config.MaxCloudCover), source, tokens, loader.NewVisualSource())
	ndvi := loader.New(catalog.New(searcher, config.NDVIMaxCloudCover), source, tokens, loader.NewNDVISource())
	layers := map[string]server.TileLoader{
		"visual": visual,
		"ndvi":   ndvi,
	}

	r := mux.NewRouter()
	server.NewHandler(layers).AddRoutes(r)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}).Methods("GET")

	headersOk := handlers.AllowedHeaders([]string{"*"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"})
	s := http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: handlers.CORS(originsOk, headersOk, methodsOk)(r),
	}

	go func() {
		log.Logger(ctx).Info("listening", zap.String("addr", s.Addr))
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger(ctx).Fatal("tileserver.ListenAndServe", zap.Error(err))
		}
	}()

	<-ctx.Done()
	sctx, cncl := context.WithTimeout(context.Background(), 30*time.Second)
	defer cncl()
	err = s.Shutdown(sctx)
	return service.MergeErrors(true, err, visual.Close(), ndvi.Close())
}
