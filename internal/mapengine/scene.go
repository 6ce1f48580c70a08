package mapengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
)

type Style struct {
	URL         string
	AccessToken string
	Center      orb.Point
	Zoom        float64
	Bounds      orb.Bound
}

type styleState struct {
	URL         string       `json:"url"`
	AccessToken string       `json:"accessToken,omitempty"`
	Center      orb.Point    `json:"center"`
	Zoom        float64      `json:"zoom"`
	MaxBounds   [2]orb.Point `json:"maxBounds"`
}

type PlacedLayer struct {
	Layer
	BeforeID string `json:"beforeId,omitempty"`
}

type Binding struct {
	Event   EventType `json:"event"`
	LayerID string    `json:"layer"`
}

// State is the declaration list the browser replays in order.
type State struct {
	Style    styleState    `json:"style"`
	Ready    bool          `json:"ready"`
	Images   []Image       `json:"images"`
	Sources  []Source      `json:"sources"`
	Layers   []PlacedLayer `json:"layers"`
	Bindings []Binding     `json:"bindings"`
}

type bindingKey struct {
	event   EventType
	layerID string
}

// Scene is the server-side Engine. It records declarations, rejects
// them out of order and routes browser events to bound handlers.
type Scene struct {
	style  Style
	client *http.Client

	mu       sync.RWMutex
	ready    bool
	images   map[string]Image
	sources  map[string]Source
	layerIDs map[string]bool
	state    State
	handlers map[bindingKey][]Handler
}

func NewScene(style Style, timeout time.Duration) *Scene {
	return &Scene{
		style:    style,
		client:   &http.Client{Timeout: timeout},
		images:   make(map[string]Image),
		sources:  make(map[string]Source),
		layerIDs: make(map[string]bool),
		handlers: make(map[bindingKey][]Handler),
		state: State{
			Style: styleState{
				URL:         style.URL,
				AccessToken: style.AccessToken,
				Center:      style.Center,
				Zoom:        style.Zoom,
				MaxBounds:   [2]orb.Point{style.Bounds.Min, style.Bounds.Max},
			},
			Images:   []Image{},
			Sources:  []Source{},
			Layers:   []PlacedLayer{},
			Bindings: []Binding{},
		},
	}
}

// WaitReady resolves the style. mapbox:// styles are hosted by the
// engine itself; http(s) styles must serve a style document.
func (s *Scene) WaitReady(ctx context.Context) error {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if ready {
		return nil
	}

	switch {
	case strings.HasPrefix(s.style.URL, "mapbox://"):
	case strings.HasPrefix(s.style.URL, "http://"), strings.HasPrefix(s.style.URL, "https://"):
		if err := s.fetchStyle(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unsupported style url %q", ErrStyleInvalid, s.style.URL)
	}

	s.mu.Lock()
	s.ready = true
	s.state.Ready = true
	s.mu.Unlock()

	slog.Info("map style ready", "style", s.style.URL)
	return nil
}

func (s *Scene) fetchStyle(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.style.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStyleInvalid, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching style: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: style returned status %d", ErrStyleInvalid, resp.StatusCode)
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&doc); err != nil {
		return fmt.Errorf("%w: decoding style: %v", ErrStyleInvalid, err)
	}
	if _, ok := doc["version"]; !ok {
		return fmt.Errorf("%w: style has no version", ErrStyleInvalid)
	}
	return nil
}

func (s *Scene) AddImage(img Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return fmt.Errorf("%w: image %s", ErrNotReady, img.ID)
	}
	if _, ok := s.images[img.ID]; ok {
		return fmt.Errorf("%w: image %s", ErrDuplicateID, img.ID)
	}
	s.images[img.ID] = img
	s.state.Images = append(s.state.Images, img)
	return nil
}

func (s *Scene) AddSource(src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return fmt.Errorf("%w: source %s", ErrNotReady, src.ID)
	}
	if _, ok := s.sources[src.ID]; ok {
		return fmt.Errorf("%w: source %s", ErrDuplicateID, src.ID)
	}
	s.sources[src.ID] = src
	s.state.Sources = append(s.state.Sources, src)
	return nil
}

// AddLayer appends layer, or places it below beforeID. beforeID may
// name a layer of the base style, so it is not checked.
func (s *Scene) AddLayer(layer Layer, beforeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return fmt.Errorf("%w: layer %s", ErrNotReady, layer.ID)
	}
	if s.layerIDs[layer.ID] {
		return fmt.Errorf("%w: layer %s", ErrDuplicateID, layer.ID)
	}
	if _, ok := s.sources[layer.Source]; !ok {
		return fmt.Errorf("%w: layer %s uses %q", ErrUnknownSource, layer.ID, layer.Source)
	}
	if img, ok := layer.IconImage(); ok {
		if _, ok := s.images[img]; !ok {
			return fmt.Errorf("%w: layer %s uses %q", ErrUnknownImage, layer.ID, img)
		}
	}

	s.layerIDs[layer.ID] = true
	s.state.Layers = append(s.state.Layers, PlacedLayer{Layer: layer, BeforeID: beforeID})
	return nil
}

func (s *Scene) On(event EventType, layerID string, h Handler) error {
	if !event.Valid() {
		return fmt.Errorf("unsupported event %q", event)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.layerIDs[layerID] {
		return fmt.Errorf("binding %s: unknown layer %s", event, layerID)
	}
	key := bindingKey{event: event, layerID: layerID}
	s.handlers[key] = append(s.handlers[key], h)
	s.state.Bindings = append(s.state.Bindings, Binding{Event: event, LayerID: layerID})
	return nil
}

// Dispatch runs the handlers bound to the event's layer and returns the
// first response that asks for something. Otherwise the last response
// is returned so its error reaches the caller.
func (s *Scene) Dispatch(ctx context.Context, ev Event) Response {
	s.mu.RLock()
	handlers := s.handlers[bindingKey{event: ev.Type, layerID: ev.LayerID}]
	s.mu.RUnlock()

	last := Response{Action: ActionNone}
	for _, h := range handlers {
		resp := h(ctx, ev)
		if resp.Action != ActionNone {
			return resp
		}
		last = resp
	}
	return last
}

func (s *Scene) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// State returns a copy of the declarations made so far.
func (s *Scene) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state
	st.Images = slices.Clone(s.state.Images)
	st.Sources = slices.Clone(s.state.Sources)
	st.Layers = slices.Clone(s.state.Layers)
	st.Bindings = slices.Clone(s.state.Bindings)
	return st
}
