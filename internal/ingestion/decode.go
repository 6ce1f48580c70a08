package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mr1hm/go-collection-map/internal/models"
)

// legacyItem is the bare-array payload served by the first API revision.
type legacyItem struct {
	ID          any             `json:"id"`
	Kind        string          `json:"kind"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	URL         string          `json:"url"`
	Details     any             `json:"details"`
	Geo         json.RawMessage `json:"geo"`
}

// Decode accepts either a GeoJSON FeatureCollection or a JSON array of
// legacy items. Features without a usable geometry are dropped.
func Decode(raw []byte) ([]models.Feature, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	var (
		features []models.Feature
		err      error
	)
	switch trimmed[0] {
	case '{':
		features, err = decodeFeatureCollection(trimmed)
	case '[':
		features, err = decodeLegacy(trimmed)
	default:
		return nil, fmt.Errorf("unexpected payload starting with %q", trimmed[0])
	}
	if err != nil {
		return nil, err
	}
	uniqueIDs(features)
	return features, nil
}

// uniqueIDs renames features whose id is shared with another feature to
// <kind>-<id>, adding a counter if that is taken too. Upstream ids are
// only unique per kind.
func uniqueIDs(features []models.Feature) {
	counts := make(map[string]int, len(features))
	for _, f := range features {
		counts[f.ID]++
	}
	taken := make(map[string]bool, len(features))
	for id, n := range counts {
		if n == 1 {
			taken[id] = true
		}
	}

	for i := range features {
		f := &features[i]
		if counts[f.ID] < 2 {
			continue
		}
		prefix := f.RawKind
		if prefix == "" {
			prefix = "feature"
		}
		base := prefix + "-" + f.ID
		id := base
		for n := 2; taken[id]; n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		taken[id] = true

		slog.Warn("feature id collides, renamed", "id", f.ID, "kind", f.RawKind, "renamed", id)
		f.ID = id
	}
}

func decodeFeatureCollection(raw []byte) ([]models.Feature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("error decoding feature collection: %w", err)
	}

	features := make([]models.Feature, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			slog.Warn("dropping feature without geometry", "index", i)
			continue
		}
		props := map[string]any(f.Properties)
		id := idString(f.ID)
		if id == "" {
			id = idString(props["id"])
		}

		features = append(features, newFeature(
			id, i,
			stringProp(props, "kind"),
			stringProp(props, "name"),
			stringProp(props, "description"),
			stringProp(props, "url"),
			detailsString(props["details"]),
			f.Geometry,
			props,
		))
	}
	return features, nil
}

func decodeLegacy(raw []byte) ([]models.Feature, error) {
	var items []legacyItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("error decoding item list: %w", err)
	}

	features := make([]models.Feature, 0, len(items))
	for i, item := range items {
		if len(item.Geo) == 0 {
			slog.Warn("dropping item without geo", "index", i, "id", item.ID)
			continue
		}
		g, err := geojson.UnmarshalGeometry(item.Geo)
		if err != nil || g.Geometry() == nil {
			slog.Warn("dropping item with invalid geo", "index", i, "id", item.ID, "error", err)
			continue
		}

		props := map[string]any{
			"kind":        item.Kind,
			"name":        item.Name,
			"description": item.Description,
			"url":         item.URL,
		}
		details := detailsString(item.Details)
		if details != "" {
			props["details"] = details
		}

		features = append(features, newFeature(
			idString(item.ID), i,
			item.Kind, item.Name, item.Description, item.URL,
			details,
			g.Geometry(),
			props,
		))
	}
	return features, nil
}

func newFeature(id string, index int, kind, name, description, url, details string, geom orb.Geometry, props map[string]any) models.Feature {
	if id == "" {
		id = "feature-" + strconv.Itoa(index)
	}
	return models.Feature{
		ID:          id,
		Kind:        models.ParseKind(kind),
		RawKind:     kind,
		Name:        name,
		Description: description,
		URL:         url,
		DetailsRaw:  details,
		Geometry:    geom,
		Properties:  props,
	}
}

func stringProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

// detailsString normalises details to the embedded-string form. Some
// payloads send an object instead of a string.
func detailsString(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
