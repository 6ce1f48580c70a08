package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

type Feature struct {
	ID          string
	Kind        Kind
	RawKind     string // kind as sent by the API
	Name        string
	Description string
	URL         string
	DetailsRaw  string // JSON document embedded as a string
	Geometry    orb.Geometry
	Properties  map[string]any
}

type Details struct {
	Address string `json:"address,omitempty"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDetails decodes the embedded details document.
func (f *Feature) ParseDetails() (Details, error) {
	var d Details
	raw := strings.TrimSpace(f.DetailsRaw)
	if raw == "" {
		return d, fmt.Errorf("%w: feature %s has no details", ErrMalformedDetails, f.ID)
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return d, fmt.Errorf("%w: feature %s: %v", ErrMalformedDetails, f.ID, err)
	}
	return d, nil
}

// Start returns the parsed details.start, or false when details are
// missing, malformed or carry no usable start. Timestamps without an
// offset are read in loc.
func (f *Feature) Start(loc *time.Location) (time.Time, bool) {
	d, err := f.ParseDetails()
	if err != nil {
		return time.Time{}, false
	}
	return d.StartTime(loc)
}

func (d Details) StartTime(loc *time.Location) (time.Time, bool) {
	return ParseTimestamp(d.Start, loc)
}

func (d Details) EndTime(loc *time.Location) (time.Time, bool) {
	return ParseTimestamp(d.End, loc)
}

// ParseTimestamp reads s in one of the accepted layouts. An explicit
// offset wins; otherwise s is wall time in loc (UTC when nil).
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (f *Feature) IsPoint() bool {
	_, ok := f.Geometry.(orb.Point)
	return ok
}

// Coordinates returns the feature position for point geometries.
func (f *Feature) Coordinates() (orb.Point, bool) {
	p, ok := f.Geometry.(orb.Point)
	return p, ok
}

func (f *Feature) GeometryType() string {
	if f.Geometry == nil {
		return ""
	}
	return f.Geometry.GeoJSONType()
}
