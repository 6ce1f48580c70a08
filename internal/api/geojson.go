package api

import (
	"maps"

	"github.com/paulmach/orb/geojson"

	"github.com/mr1hm/go-collection-map/internal/models"
)

// toGeoJSON converts the collection back to GeoJSON. Layer filters
// match on the kind property as received, so the raw value is kept.
func toGeoJSON(c *models.Collection) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, f := range c.Features {
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.ID

		props := make(geojson.Properties, len(f.Properties)+6)
		maps.Copy(props, f.Properties)
		props["id"] = f.ID
		props["kind"] = f.RawKind
		if f.RawKind == "" && f.Kind.Known() {
			props["kind"] = f.Kind.String()
		}
		props["name"] = f.Name
		props["description"] = f.Description
		props["url"] = f.URL
		if f.DetailsRaw != "" {
			props["details"] = f.DetailsRaw
		}
		gf.Properties = props

		fc.Append(gf)
	}

	return fc
}
