// Package bootstrap brings the map up: style, icons and data load
// concurrently, then the scene is declared in dependency order.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-collection-map/internal/icons"
	"github.com/mr1hm/go-collection-map/internal/ingestion"
	"github.com/mr1hm/go-collection-map/internal/layers"
	"github.com/mr1hm/go-collection-map/internal/mapengine"
	"github.com/mr1hm/go-collection-map/internal/models"
)

const (
	TaskMap   = "map"
	TaskIcons = "icons"
	TaskData  = "data"
)

type IconLoader interface {
	LoadAll(ctx context.Context, kinds []models.Kind) (*icons.Registry, map[models.Kind]error)
}

type Binder interface {
	Bind(engine mapengine.Engine, layerIDs []string) error
}

type Config struct {
	Engine     mapengine.Engine
	Icons      IconLoader
	Data       ingestion.CollectionLoader
	Store      *ingestion.Store
	Publisher  ingestion.Publisher
	Layers     *layers.Configurator
	Binder     Binder
	SourceData string // URL the engine loads the feature collection from
	IconURL    func(kind models.Kind) string
}

type Result struct {
	Layers       []string
	Icons        *icons.Registry
	LoadedIcons  []models.Kind
	FailedIcons  map[models.Kind]error
	FeatureCount int
	Degraded     bool
	Failures     map[string]error
	Elapsed      time.Duration
}

type Sequencer struct {
	cfg Config
}

func NewSequencer(cfg Config) *Sequencer {
	if cfg.IconURL == nil {
		cfg.IconURL = func(k models.Kind) string { return "/icons/" + k.String() }
	}
	return &Sequencer{cfg: cfg}
}

// Run performs the bootstrap. Only a map failure or a rejected
// declaration is returned as an error; icon and data failures are
// reported in the result.
func (s *Sequencer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{
		FailedIcons: make(map[models.Kind]error),
		Failures:    make(map[string]error),
	}

	var (
		mu       sync.Mutex
		registry *icons.Registry
		coll     *models.Collection
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.cfg.Engine.WaitReady(gctx); err != nil {
			return fmt.Errorf("%s: %w", TaskMap, err)
		}
		slog.Debug("bootstrap task done", "task", TaskMap)
		return nil
	})

	g.Go(func() error {
		reg, failed := s.cfg.Icons.LoadAll(gctx, models.AllKinds())
		mu.Lock()
		registry = reg
		for k, err := range failed {
			res.FailedIcons[k] = err
		}
		mu.Unlock()
		slog.Debug("bootstrap task done", "task", TaskIcons, "loaded", reg.Len())
		return nil
	})

	g.Go(func() error {
		c, err := s.cfg.Data.Load(gctx)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Failures[TaskData] = err
			slog.Error("collection not loaded, starting with an empty map", "error", err)
			return nil
		}
		coll = c
		slog.Debug("bootstrap task done", "task", TaskData, "count", c.Len())
		return nil
	})

	if err := g.Wait(); err != nil {
		res.Failures[TaskMap] = err
		slog.Error("bootstrap aborted", "error", err)
		return res, err
	}

	// All three tasks have joined; declarations happen in order from here.
	res.Icons = s.registerIcons(registry, res)
	res.LoadedIcons = res.Icons.Kinds()

	if coll != nil {
		ingestion.Publish(s.cfg.Store, s.cfg.Publisher, coll)
		res.FeatureCount = coll.Len()
	} else {
		res.Degraded = true
	}

	src := mapengine.Source{ID: s.cfg.Layers.SourceID(), Type: "geojson", Data: s.cfg.SourceData}
	if err := s.cfg.Engine.AddSource(src); err != nil {
		return res, fmt.Errorf("adding source: %w", err)
	}

	ids, err := s.cfg.Layers.Apply(s.cfg.Engine, res.Icons)
	res.Layers = ids
	if err != nil {
		return res, err
	}

	if err := s.cfg.Binder.Bind(s.cfg.Engine, ids); err != nil {
		return res, err
	}

	res.Elapsed = time.Since(start)
	slog.Info("bootstrap complete",
		"layers", len(res.Layers),
		"icons", len(res.LoadedIcons),
		"failed_icons", len(res.FailedIcons),
		"features", res.FeatureCount,
		"degraded", res.Degraded,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// registerIcons adds every loaded icon to the engine and returns the
// registry of the ones it accepted.
func (s *Sequencer) registerIcons(reg *icons.Registry, res *Result) *icons.Registry {
	accepted := make(map[models.Kind]icons.Icon, reg.Len())
	for _, k := range reg.Kinds() {
		icon, _ := reg.Get(k)
		img := mapengine.Image{
			ID:     icons.ImageID(k),
			URL:    s.cfg.IconURL(k),
			Width:  icon.Width,
			Height: icon.Height,
		}
		if err := s.cfg.Engine.AddImage(img); err != nil {
			res.FailedIcons[k] = fmt.Errorf("%w: registering %s: %v", models.ErrIconLoadFailure, k, err)
			slog.Warn("icon not registered", "kind", k.String(), "error", err)
			continue
		}
		accepted[k] = icon
	}
	return icons.NewRegistry(accepted)
}
