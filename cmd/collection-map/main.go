package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-collection-map/internal/api"
	"github.com/mr1hm/go-collection-map/internal/bootstrap"
	"github.com/mr1hm/go-collection-map/internal/broadcast"
	"github.com/mr1hm/go-collection-map/internal/config"
	"github.com/mr1hm/go-collection-map/internal/icons"
	"github.com/mr1hm/go-collection-map/internal/ingestion"
	"github.com/mr1hm/go-collection-map/internal/interaction"
	"github.com/mr1hm/go-collection-map/internal/layers"
	"github.com/mr1hm/go-collection-map/internal/logging"
	"github.com/mr1hm/go-collection-map/internal/mapengine"
	"github.com/mr1hm/go-collection-map/internal/popup"
	"github.com/mr1hm/go-collection-map/internal/repository"
	"github.com/mr1hm/go-collection-map/internal/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("server starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "collection", cfg.Collection.URL)

	decl, err := layers.Load(cfg.Map.LayersFile)
	if err != nil {
		logging.Fatalf("Failed to load layers: %v", err)
	}

	indexHTML, err := web.IndexPage("Sammelkarte")
	if err != nil {
		logging.Fatalf("Failed to build index page: %v", err)
	}

	// Snapshots are optional; without them a failed fetch means an empty map.
	var snapshots repository.SnapshotRepository
	if cfg.Snapshot.Path != "" {
		db, err := repository.NewSQLiteDB(cfg.Snapshot.Path)
		if err != nil {
			logging.Fatalf("Failed to initialize snapshot database: %v", err)
		}
		defer db.Close()
		snapshots = db
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := broadcast.NewBroadcaster()
	loc := cfg.Location()
	store := ingestion.NewStore(loc)
	loader := ingestion.NewLoader(cfg.Collection.URL, cfg.Collection.Timeout, snapshots)

	templater := popup.New(loc)
	dispatcher := interaction.NewDispatcher(store, templater, cfg.Popup.Debounce)

	scene := mapengine.NewScene(mapengine.Style{
		URL:         cfg.Map.Style,
		AccessToken: cfg.Map.AccessToken,
		Center:      cfg.Map.Center,
		Zoom:        cfg.Map.Zoom,
		Bounds:      cfg.Map.Bounds,
	}, cfg.Collection.Timeout)

	seq := bootstrap.NewSequencer(bootstrap.Config{
		Engine:     scene,
		Icons:      icons.NewLoader(cfg.Icons.Dir, cfg.Icons.Size, cfg.Icons.Workers),
		Data:       loader,
		Store:      store,
		Publisher:  broadcaster,
		Layers:     layers.NewConfigurator(decl),
		Binder:     dispatcher,
		SourceData: "/api/features",
	})
	result, err := seq.Run(ctx)
	if err != nil {
		logging.Fatalf("Bootstrap failed: %v", err)
	}

	mgr := ingestion.NewManager(loader, store, broadcaster, cfg.Collection.RefreshInterval)
	mgr.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))

	handler := api.NewHandler(api.Deps{
		Store:     store,
		Scene:     scene,
		Renderer:  templater,
		Icons:     result.Icons,
		Updates:   broadcaster,
		Forgetter: dispatcher,
		IndexHTML: indexHTML,
		RateLimit: cfg.Server.RateLimit,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	broadcaster.Close() // ends open event streams

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
