package layers

import (
	"fmt"
	"log/slog"

	"github.com/mr1hm/go-collection-map/internal/icons"
	"github.com/mr1hm/go-collection-map/internal/mapengine"
	"github.com/mr1hm/go-collection-map/internal/models"
)

// IconSet reports which kinds have a registered icon image.
type IconSet interface {
	Has(kind models.Kind) bool
}

// Placement is a layer and the layer it must be inserted below.
type Placement struct {
	Layer    mapengine.Layer
	BeforeID string
}

type Configurator struct {
	decl *Declaration
}

func NewConfigurator(decl *Declaration) *Configurator {
	return &Configurator{decl: decl}
}

func (c *Configurator) SourceID() string {
	return c.decl.Source
}

// Layers returns the layers for every declared kind in declaration
// order. Polygon layers come first so point symbols draw above them.
// A kind without an icon gets a circle layer instead of a symbol layer.
func (c *Configurator) Layers(iconSet IconSet) []Placement {
	var polygons, points []Placement

	for _, ks := range c.decl.Kinds {
		k := ks.ModelKind()
		if ks.Polygon != nil {
			polygons = append(polygons, c.polygonLayers(ks)...)
		}

		before := ""
		if ks.BeforeLabel {
			before = c.decl.LabelLayer
		}
		if iconSet != nil && iconSet.Has(k) {
			points = append(points, Placement{Layer: c.symbolLayer(ks), BeforeID: before})
		} else {
			slog.Warn("no icon for kind, using circle layer", "kind", k.String())
			points = append(points, Placement{Layer: c.circleLayer(ks), BeforeID: before})
		}
	}

	return append(polygons, points...)
}

// Apply adds the layers to engine and returns their ids in order.
func (c *Configurator) Apply(engine mapengine.Engine, iconSet IconSet) ([]string, error) {
	placements := c.Layers(iconSet)
	ids := make([]string, 0, len(placements))
	for _, p := range placements {
		if err := engine.AddLayer(p.Layer, p.BeforeID); err != nil {
			return ids, fmt.Errorf("adding layer %s: %w", p.Layer.ID, err)
		}
		ids = append(ids, p.Layer.ID)
	}
	slog.Info("layers added", "count", len(ids))
	return ids, nil
}

func (c *Configurator) symbolLayer(ks KindStyle) mapengine.Layer {
	k := ks.ModelKind()
	layout := map[string]any{
		"icon-image":            icons.ImageID(k),
		"icon-size":             interpolate(c.decl.IconSize),
		"icon-allow-overlap":    true,
		"icon-ignore-placement": true,
	}
	if ks.SymbolZOrder != "" {
		layout["symbol-z-order"] = ks.SymbolZOrder
	}
	return mapengine.Layer{
		ID:     k.String(),
		Type:   "symbol",
		Source: c.decl.Source,
		Filter: kindFilter(k, "Point"),
		Layout: layout,
	}
}

func (c *Configurator) circleLayer(ks KindStyle) mapengine.Layer {
	k := ks.ModelKind()
	return mapengine.Layer{
		ID:     k.String(),
		Type:   "circle",
		Source: c.decl.Source,
		Filter: kindFilter(k, "Point"),
		Paint: map[string]any{
			"circle-color":        ks.Color,
			"circle-radius":       c.decl.CircleRadius,
			"circle-stroke-color": "#ffffff",
			"circle-stroke-width": 1,
		},
	}
}

func (c *Configurator) polygonLayers(ks KindStyle) []Placement {
	k := ks.ModelKind()
	fill := mapengine.Layer{
		ID:     k.String() + "-fill",
		Type:   "fill",
		Source: c.decl.Source,
		Filter: kindFilter(k, "Polygon"),
		Paint: map[string]any{
			"fill-color":   ks.Color,
			"fill-opacity": ks.Polygon.FillOpacity,
		},
	}
	outline := mapengine.Layer{
		ID:     k.String() + "-outline",
		Type:   "line",
		Source: c.decl.Source,
		Filter: kindFilter(k, "Polygon"),
		Paint: map[string]any{
			"line-color": ks.Color,
			"line-width": ks.Polygon.OutlineWidth,
		},
	}
	return []Placement{{Layer: fill}, {Layer: outline}}
}

// kindFilter matches features whose kind property is one of the kind's
// wire aliases and whose geometry has the given type.
func kindFilter(k models.Kind, geometryType string) []any {
	aliases := make([]any, 0, len(k.Aliases()))
	for _, a := range k.Aliases() {
		aliases = append(aliases, a)
	}
	return []any{
		"all",
		[]any{"==", []any{"geometry-type"}, geometryType},
		[]any{"match", []any{"get", "kind"}, aliases, true, false},
	}
}

func interpolate(stops []Stop) []any {
	expr := []any{"interpolate", []any{"linear"}, []any{"zoom"}}
	for _, s := range stops {
		expr = append(expr, s.Zoom, s.Value)
	}
	return expr
}
