package main

import (
	"context"
	"log/slog"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/mr1hm/go-collection-map/internal/config"
	"github.com/mr1hm/go-collection-map/internal/ingestion"
	"github.com/mr1hm/go-collection-map/internal/logging"
	"github.com/mr1hm/go-collection-map/internal/models"
	"github.com/mr1hm/go-collection-map/internal/popup"
)

// collection-check fetches the collection once and renders every popup,
// reporting the features that would fail on the map.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	loader := ingestion.NewLoader(cfg.Collection.URL, cfg.Collection.Timeout, nil)
	coll, err := loader.Load(context.Background())
	if err != nil {
		logging.Fatalf("Fetching collection failed: %v", err)
	}
	loc := cfg.Location()
	models.SortByStart(coll.Features, loc)

	templater := popup.New(loc)
	failures := make(map[string]int)
	for _, f := range coll.Features {
		if _, err := templater.Render(f); err != nil {
			code := models.ErrorCode(err)
			failures[code]++
			slog.Warn("popup would fail", "feature", f.ID, "kind", f.RawKind, "code", code, "error", err)
		}
	}

	counts := coll.CountByKind()
	slog.Info("collection checked",
		"url", cfg.Collection.URL,
		"features", coll.Len(),
		"group", counts[models.KindGroup],
		"collection", counts[models.KindCollection],
		"event", counts[models.KindEvent],
		"dropoff", counts[models.KindDropoff],
		"material", counts[models.KindMaterial],
		"unknown", counts[models.KindUnknown],
		"malformed_details", failures["malformed_details"],
		"missing_template", failures["missing_template"],
	)

	if bound, ok := coll.Bound(); ok {
		slog.Info("collection extent", "min", bound.Min, "max", bound.Max)
		if !cfg.Map.Bounds.Contains(bound.Min) || !cfg.Map.Bounds.Contains(bound.Max) {
			slog.Warn("features lie outside the map bounds", "bounds_min", cfg.Map.Bounds.Min, "bounds_max", cfg.Map.Bounds.Max)
		}
	}
}
