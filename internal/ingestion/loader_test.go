package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mr1hm/go-collection-map/internal/models"
	"github.com/mr1hm/go-collection-map/internal/repository"
)

const fixtureCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": 7,
     "geometry": {"type": "Polygon", "coordinates": [[[13.3,52.5],[13.4,52.5],[13.4,52.6],[13.3,52.5]]]},
     "properties": {"kind": "group", "name": "Kiezgruppe Mitte", "description": "Wir sammeln", "url": "https://example.org/g/7"}},
    {"type": "Feature",
     "geometry": {"type": "Point", "coordinates": [13.41, 52.52]},
     "properties": {"id": "loc-1", "kind": "location", "name": "Spätkauf", "url": "https://example.org/l/1",
                    "details": "{\"address\":\"Torstraße 1\"}"}},
    {"type": "Feature", "id": "ev-1",
     "geometry": {"type": "Point", "coordinates": [13.42, 52.51]},
     "properties": {"kind": "event", "name": "Sammeltag",
                    "details": {"start": "2024-01-01T10:00:00Z", "end": "2024-01-01T12:00:00Z"}}}
  ]
}`

const fixtureLegacy = `[
  {"id": 1, "kind": "location", "name": "Buchladen", "description": "Hier unterschreiben", "url": "https://example.org/1",
   "geo": {"type": "Point", "coordinates": [13.4, 52.5]}},
  {"id": 2, "kind": "event", "name": "Infostand", "geo": {"type": "Point", "coordinates": [13.5, 52.4]},
   "details": "{\"start\":\"2024-02-01T09:00:00Z\"}"},
  {"id": 3, "kind": "group", "name": "ohne Ort"}
]`

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("expected Accept application/json, got %q", got)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoader_FeatureCollection(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, fixtureCollection)
	loader := NewLoader(srv.URL, time.Second, nil)

	c, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Len() != 3 {
		t.Fatalf("expected 3 features, got %d", c.Len())
	}
	if c.SourceURL != srv.URL || c.Stale {
		t.Errorf("unexpected collection metadata %+v", c)
	}

	group, ok := c.Feature("7")
	if !ok {
		t.Fatal("expected numeric id 7 to be kept as string")
	}
	if group.Kind != models.KindGroup || group.GeometryType() != "Polygon" {
		t.Errorf("unexpected group feature %+v", group)
	}

	loc, ok := c.Feature("loc-1")
	if !ok {
		t.Fatal("expected id taken from properties")
	}
	if loc.Kind != models.KindCollection || loc.RawKind != "location" {
		t.Errorf("expected location to map to collection kind, got %v/%q", loc.Kind, loc.RawKind)
	}

	ev, _ := c.Feature("ev-1")
	if _, ok := ev.Start(time.UTC); !ok {
		t.Errorf("expected object details to be normalised, got %q", ev.DetailsRaw)
	}
}

func TestLoader_LegacyItems(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, fixtureLegacy)
	loader := NewLoader(srv.URL, time.Second, nil)

	c, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 features (item without geo dropped), got %d", c.Len())
	}

	f, ok := c.Feature("1")
	if !ok {
		t.Fatal("expected feature 1")
	}
	if p, ok := f.Coordinates(); !ok || p != (orb.Point{13.4, 52.5}) {
		t.Errorf("unexpected coordinates %v", f.Geometry)
	}
	if f.Properties["kind"] != "location" {
		t.Errorf("expected kind property to be kept, got %v", f.Properties["kind"])
	}
}

func TestLoader_FetchFailures(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error": {http.StatusInternalServerError, `{"error":"boom"}`},
		"not found":    {http.StatusNotFound, ``},
		"bad json":     {http.StatusOK, `{"type": "FeatureCollection", "features": [`},
		"html":         {http.StatusOK, `<html>maintenance</html>`},
		"empty":        {http.StatusOK, ``},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := newTestServer(t, tc.status, tc.body)
			_, err := NewLoader(srv.URL, time.Second, nil).Load(context.Background())
			if !errors.Is(err, models.ErrFetchFailure) {
				t.Errorf("expected ErrFetchFailure, got %v", err)
			}
		})
	}
}

func TestLoader_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewLoader(url, time.Second, nil).Load(context.Background())
	if !errors.Is(err, models.ErrFetchFailure) {
		t.Errorf("expected ErrFetchFailure, got %v", err)
	}
}

func TestLoader_SnapshotFallback(t *testing.T) {
	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	defer db.Close()

	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(fixtureCollection))
	}))
	defer srv.Close()

	loader := NewLoader(srv.URL, time.Second, db)
	ctx := context.Background()

	if _, err := loader.Load(ctx); err != nil {
		t.Fatalf("first Load failed: %v", err)
	}

	healthy.Store(false)
	c, err := loader.Load(ctx)
	if err != nil {
		t.Fatalf("expected snapshot fallback, got %v", err)
	}
	if !c.Stale {
		t.Error("expected collection to be marked stale")
	}
	if c.Len() != 3 {
		t.Errorf("expected 3 features from snapshot, got %d", c.Len())
	}
}

func TestLoader_SnapshotFallbackEmpty(t *testing.T) {
	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	defer db.Close()

	srv := newTestServer(t, http.StatusServiceUnavailable, "")
	_, err = NewLoader(srv.URL, time.Second, db).Load(context.Background())
	if !errors.Is(err, models.ErrFetchFailure) {
		t.Errorf("expected ErrFetchFailure without snapshot, got %v", err)
	}
}

func TestStore(t *testing.T) {
	s := NewStore(time.UTC)
	if s.Current().Len() != 0 || s.Version() != 0 {
		t.Fatal("expected empty store at version 0")
	}

	v := s.Set(&models.Collection{Features: []models.Feature{{ID: "a"}, {ID: "b"}}})
	if v != 1 {
		t.Errorf("expected version 1, got %d", v)
	}
	if _, ok := s.Feature("b"); !ok {
		t.Error("expected feature b")
	}
	if _, ok := s.Feature("c"); ok {
		t.Error("expected no feature c")
	}

	s.Set(nil)
	if s.Current() == nil || s.Current().Len() != 0 {
		t.Error("expected nil collection to be replaced by an empty one")
	}
}
