// Package interaction answers pointer events on feature layers.
package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mr1hm/go-collection-map/internal/mapengine"
	"github.com/mr1hm/go-collection-map/internal/models"
)

// DefaultWindow is how long clicks are ignored after a popup opened.
const DefaultWindow = 500 * time.Millisecond

// sessions older than the window carry no state worth keeping
const pruneThreshold = 1024

type FeatureSource interface {
	Feature(id string) (models.Feature, bool)
}

type Renderer interface {
	Render(f models.Feature) (string, error)
}

type Option func(*Dispatcher)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

type Dispatcher struct {
	features FeatureSource
	renderer Renderer
	window   time.Duration
	now      func() time.Time

	mu         sync.Mutex
	lastOpened map[string]time.Time
}

func NewDispatcher(features FeatureSource, renderer Renderer, window time.Duration, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		features:   features,
		renderer:   renderer,
		window:     window,
		now:        time.Now,
		lastOpened: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Click opens the popup of the clicked feature unless a popup opened
// for the same session less than the window ago.
func (d *Dispatcher) Click(ctx context.Context, ev mapengine.Event) mapengine.Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.lastOpened[ev.Session]; ok && now.Sub(last) < d.window {
		slog.Debug("click suppressed", "session", ev.Session, "feature", ev.FeatureID, "since", now.Sub(last))
		return mapengine.Response{Action: mapengine.ActionIgnored}
	}

	f, ok := d.features.Feature(ev.FeatureID)
	if !ok {
		return mapengine.Response{Action: mapengine.ActionNone, Error: "not_found"}
	}
	if k := layerKind(ev.LayerID); k.Known() && k != f.Kind {
		slog.Warn("feature does not belong to clicked layer",
			"feature", f.ID, "kind", f.Kind.String(), "layer", ev.LayerID)
		return mapengine.Response{Action: mapengine.ActionNone, Error: "kind_mismatch"}
	}

	html, err := d.renderer.Render(f)
	if err != nil {
		slog.Warn("popup render failed", "feature", f.ID, "kind", f.RawKind, "error", err)
		return mapengine.Response{Action: mapengine.ActionNone, Error: models.ErrorCode(err)}
	}

	pos, err := Placement(f, ev.LngLat)
	if err != nil {
		slog.Warn("popup has no position", "feature", f.ID, "error", err)
		return mapengine.Response{Action: mapengine.ActionNone, Error: "no_position"}
	}

	d.lastOpened[ev.Session] = now
	if len(d.lastOpened) > pruneThreshold {
		d.prune(now)
	}

	return mapengine.Response{
		Action: mapengine.ActionOpenPopup,
		Popup:  &mapengine.Popup{LngLat: pos, HTML: html},
	}
}

// Hover switches the pointer cursor on entering a layer and back on
// leaving it.
func (d *Dispatcher) Hover(ctx context.Context, ev mapengine.Event) mapengine.Response {
	switch ev.Type {
	case mapengine.EventMouseEnter:
		return mapengine.Response{Action: mapengine.ActionCursor, Cursor: "pointer"}
	case mapengine.EventMouseLeave:
		return mapengine.Response{Action: mapengine.ActionCursor, Cursor: ""}
	default:
		return mapengine.Response{Action: mapengine.ActionNone}
	}
}

// Bind registers the click and hover handlers on every layer.
func (d *Dispatcher) Bind(engine mapengine.Engine, layerIDs []string) error {
	for _, id := range layerIDs {
		if err := engine.On(mapengine.EventClick, id, d.Click); err != nil {
			return fmt.Errorf("binding click on %s: %w", id, err)
		}
		if err := engine.On(mapengine.EventMouseEnter, id, d.Hover); err != nil {
			return fmt.Errorf("binding mouseenter on %s: %w", id, err)
		}
		if err := engine.On(mapengine.EventMouseLeave, id, d.Hover); err != nil {
			return fmt.Errorf("binding mouseleave on %s: %w", id, err)
		}
	}
	return nil
}

// Forget drops the state of a session.
func (d *Dispatcher) Forget(session string) {
	d.mu.Lock()
	delete(d.lastOpened, session)
	d.mu.Unlock()
}

func (d *Dispatcher) prune(now time.Time) {
	for s, last := range d.lastOpened {
		if now.Sub(last) >= d.window {
			delete(d.lastOpened, s)
		}
	}
}

// layerKind returns the kind a feature layer draws. Polygon layers carry
// a -fill or -outline suffix; other layers report KindUnknown.
func layerKind(layerID string) models.Kind {
	id := strings.TrimSuffix(strings.TrimSuffix(layerID, "-fill"), "-outline")
	return models.ParseKind(id)
}

// Placement picks where a popup opens: at the point for point features,
// otherwise at the cursor, or the centroid when no cursor is known.
func Placement(f models.Feature, cursor *orb.Point) (orb.Point, error) {
	if p, ok := f.Coordinates(); ok {
		return p, nil
	}
	if cursor != nil {
		return *cursor, nil
	}
	if f.Geometry == nil {
		return orb.Point{}, fmt.Errorf("feature %s has no geometry", f.ID)
	}
	c, _ := planar.CentroidArea(f.Geometry)
	return c, nil
}
