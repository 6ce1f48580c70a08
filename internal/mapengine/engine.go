// Package mapengine describes the map engine the browser drives and
// records what the server declares on it.
package mapengine

import (
	"context"
	"errors"

	"github.com/paulmach/orb"
)

var (
	ErrNotReady      = errors.New("map style not ready")
	ErrStyleInvalid  = errors.New("map style invalid")
	ErrUnknownSource = errors.New("unknown source")
	ErrUnknownImage  = errors.New("unknown image")
	ErrDuplicateID   = errors.New("duplicate id")
)

type EventType string

const (
	EventClick      EventType = "click"
	EventMouseEnter EventType = "mouseenter"
	EventMouseLeave EventType = "mouseleave"
)

func (t EventType) Valid() bool {
	switch t {
	case EventClick, EventMouseEnter, EventMouseLeave:
		return true
	}
	return false
}

type Action string

const (
	ActionOpenPopup Action = "open-popup"
	ActionIgnored   Action = "ignored"
	ActionCursor    Action = "cursor"
	ActionNone      Action = "none"
)

// Event is a pointer event on a layer as reported by the browser.
type Event struct {
	Type      EventType  `json:"type"`
	LayerID   string     `json:"layer"`
	Session   string     `json:"-"`
	FeatureID string     `json:"featureId,omitempty"`
	LngLat    *orb.Point `json:"lngLat,omitempty"`
}

type Popup struct {
	LngLat orb.Point `json:"lngLat"`
	HTML   string    `json:"html"`
}

// Response tells the browser what to do after an event.
type Response struct {
	Action Action `json:"action"`
	Popup  *Popup `json:"popup,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Handler func(ctx context.Context, ev Event) Response

type Image struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type Source struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data string `json:"data"`
}

type Layer struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Filter []any          `json:"filter,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
	Paint  map[string]any `json:"paint,omitempty"`
}

// IconImage returns the image a symbol layer refers to, if any.
func (l Layer) IconImage() (string, bool) {
	if l.Type != "symbol" || l.Layout == nil {
		return "", false
	}
	id, ok := l.Layout["icon-image"].(string)
	return id, ok && id != ""
}

// Engine is the subset of the map engine the application uses.
type Engine interface {
	WaitReady(ctx context.Context) error
	AddImage(img Image) error
	AddSource(src Source) error
	AddLayer(layer Layer, beforeID string) error
	On(event EventType, layerID string, h Handler) error
}
