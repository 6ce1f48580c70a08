package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mr1hm/go-collection-map/internal/broadcast"
	"github.com/mr1hm/go-collection-map/internal/icons"
	"github.com/mr1hm/go-collection-map/internal/ingestion"
	"github.com/mr1hm/go-collection-map/internal/interaction"
	"github.com/mr1hm/go-collection-map/internal/mapengine"
	"github.com/mr1hm/go-collection-map/internal/models"
	"github.com/mr1hm/go-collection-map/internal/popup"
)

type testEnv struct {
	router      *gin.Engine
	store       *ingestion.Store
	broadcaster *broadcast.Broadcaster
	dispatcher  *interaction.Dispatcher
}

func testCollection() *models.Collection {
	return &models.Collection{
		Features: []models.Feature{
			{ID: "g1", Kind: models.KindGroup, RawKind: "group", Name: "Gruppe", URL: "https://example.org/g1",
				Geometry: orb.Point{13.4, 52.5}, Properties: map[string]any{"extra": "kept"}},
			{ID: "e1", Kind: models.KindEvent, RawKind: "event", Name: "Sammeltag", Geometry: orb.Point{13.5, 52.4},
				DetailsRaw: `{"start":"2024-01-01T10:00:00Z"}`},
			{ID: "bad", Kind: models.KindEvent, RawKind: "event", Name: "Kaputt", Geometry: orb.Point{13.5, 52.4},
				DetailsRaw: `{`},
			{ID: "u1", Kind: models.KindUnknown, RawKind: "petition", Geometry: orb.Point{13.5, 52.4}},
			{ID: "l1", Kind: models.KindCollection, RawKind: "location", Name: "Späti", Geometry: orb.Point{13.41, 52.52}},
		},
	}
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := ingestion.NewStore(time.UTC)
	b := broadcast.NewBroadcaster()
	t.Cleanup(b.Close)
	ingestion.Publish(store, b, testCollection())

	templater := popup.New(time.UTC)
	dispatcher := interaction.NewDispatcher(store, templater, interaction.DefaultWindow)

	scene := mapengine.NewScene(mapengine.Style{URL: "mapbox://styles/mapbox/streets-v9"}, time.Second)
	scene.WaitReady(context.Background())
	scene.AddSource(mapengine.Source{ID: "collection", Type: "geojson", Data: "/api/features"})
	scene.AddLayer(mapengine.Layer{ID: "group", Type: "circle", Source: "collection"}, "")
	if err := dispatcher.Bind(scene, []string{"group"}); err != nil {
		t.Fatal(err)
	}

	registry := icons.NewRegistry(map[models.Kind]icons.Icon{
		models.KindGroup: {Kind: models.KindGroup, PNG: []byte("\x89PNG fake"), Width: 8, Height: 8},
	})

	router := gin.New()
	handler := NewHandler(Deps{
		Store:     store,
		Scene:     scene,
		Renderer:  templater,
		Icons:     registry,
		Updates:   b,
		Forgetter: dispatcher,
		IndexHTML: []byte("<!doctype html><title>map</title>"),
		RateLimit: 100,
	})
	handler.RegisterRoutes(router)

	return &testEnv{router: router, store: store, broadcaster: b, dispatcher: dispatcher}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	w := e.do("POST", "/api/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["id"] == "" {
		t.Fatal("expected session id")
	}
	return resp["id"]
}

func TestGetFeatures_ReturnsGeoJSON(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/features", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("expected content-type application/geo+json, got %s", ct)
	}

	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	if err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(fc.Features) != 5 {
		t.Fatalf("expected 5 features, got %d", len(fc.Features))
	}

	// sorted: the dated event leads
	first := fc.Features[0]
	if first.Properties["id"] != "e1" {
		t.Errorf("expected e1 first, got %v", first.Properties["id"])
	}

	for _, f := range fc.Features {
		if f.Properties["id"] == "l1" && f.Properties["kind"] != "location" {
			t.Errorf("expected raw kind location, got %v", f.Properties["kind"])
		}
		if f.Properties["id"] == "g1" && f.Properties["extra"] != "kept" {
			t.Errorf("expected extra property to be kept, got %v", f.Properties)
		}
	}
}

func TestGetPopup(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/features/g1/popup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Mitmachen") {
		t.Errorf("unexpected popup %s", w.Body.String())
	}

	cases := map[string]struct {
		status int
		code   string
	}{
		"bad":     {http.StatusUnprocessableEntity, "malformed_details"},
		"u1":      {http.StatusUnprocessableEntity, "missing_template"},
		"missing": {http.StatusNotFound, "not_found"},
	}
	for id, tc := range cases {
		w := env.do("GET", "/api/features/"+id+"/popup", nil)
		if w.Code != tc.status {
			t.Errorf("%s: expected status %d, got %d", id, tc.status, w.Code)
		}
		var resp map[string]string
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["error"] != tc.code {
			t.Errorf("%s: expected error %q, got %q", id, tc.code, resp["error"])
		}
	}
}

func TestDispatchEvent(t *testing.T) {
	env := setupTestRouter(t)
	session := env.newSession(t)
	path := "/api/sessions/" + session + "/events"

	w := env.do("POST", path, map[string]any{"type": "click", "layer": "group", "featureId": "g1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp mapengine.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Action != mapengine.ActionOpenPopup || resp.Popup == nil {
		t.Fatalf("expected open-popup, got %+v", resp)
	}

	// a second click right away falls into the rebound window
	w = env.do("POST", path, map[string]any{"type": "click", "layer": "group", "featureId": "g1"})
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Action != mapengine.ActionIgnored {
		t.Errorf("expected ignored, got %+v", resp)
	}

	w = env.do("POST", path, map[string]any{"type": "mouseenter", "layer": "group"})
	resp = mapengine.Response{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Action != mapengine.ActionCursor || resp.Cursor != "pointer" {
		t.Errorf("expected pointer cursor, got %+v", resp)
	}
}

func TestDispatchEvent_Invalid(t *testing.T) {
	env := setupTestRouter(t)
	session := env.newSession(t)

	w := env.do("POST", "/api/sessions/nope/events", map[string]any{"type": "click", "layer": "group"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", w.Code)
	}

	w = env.do("POST", "/api/sessions/"+session+"/events", map[string]any{"type": "dblclick", "layer": "group"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown event type, got %d", w.Code)
	}

	req, _ := http.NewRequest("POST", "/api/sessions/"+session+"/events", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json, got %d", rec.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	env := setupTestRouter(t)
	session := env.newSession(t)

	if w := env.do("DELETE", "/api/sessions/"+session, nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w := env.do("DELETE", "/api/sessions/"+session, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/limited", RateLimitMiddleware(2), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/limited", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected 200,200,429 got %v", codes)
	}

	// another client has its own bucket
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/limited", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for other client, got %d", w.Code)
	}
}

func TestRateLimit_DropsIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute, func() time.Time { return now })

	for i := 0; i < 50; i++ {
		rl.allow("10.0.1." + strconv.Itoa(i))
	}
	if n := rl.len(); n != 50 {
		t.Fatalf("expected 50 clients, got %d", n)
	}

	now = now.Add(30 * time.Second)
	rl.allow("10.0.0.1")
	if n := rl.len(); n != 51 {
		t.Errorf("expected no sweep before the idle period, got %d clients", n)
	}

	now = now.Add(45 * time.Second)
	rl.allow("10.0.0.2")
	if n := rl.len(); n != 2 {
		t.Errorf("expected only recently seen clients to remain, got %d", n)
	}
}

func TestIcon(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/icons/group", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("expected png icon, got %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if w := env.do("GET", "/icons/event", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing icon, got %d", w.Code)
	}
}

func TestSceneAndIndex(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/scene", nil)
	var st struct {
		Ready    bool              `json:"ready"`
		Sources  []json.RawMessage `json:"sources"`
		Bindings []json.RawMessage `json:"bindings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to parse scene: %v", err)
	}
	if !st.Ready || len(st.Sources) != 1 || len(st.Bindings) != 3 {
		t.Errorf("unexpected scene %s", w.Body.String())
	}

	w = env.do("GET", "/", nil)
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected index response %d", w.Code)
	}

	req, _ := http.NewRequest("GET", "/", nil)
	req.Header.Set("If-None-Match", w.Header().Get("ETag"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Errorf("expected 304, got %d", rec.Code)
	}
}

func TestIndexETagFollowsContent(t *testing.T) {
	before := NewHandler(Deps{IndexHTML: []byte("<p>version one</p>")})
	after := NewHandler(Deps{IndexHTML: []byte("<p>version two</p>")})
	if before.etag == after.etag {
		t.Errorf("expected pages of equal length to get different etags, both %s", before.etag)
	}
	if again := NewHandler(Deps{IndexHTML: []byte("<p>version one</p>")}); again.etag != before.etag {
		t.Errorf("expected stable etag, got %s and %s", before.etag, again.etag)
	}
}

func TestHealth(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
	if resp["features"] != float64(5) {
		t.Errorf("expected 5 features, got %v", resp["features"])
	}
}

func TestStream(t *testing.T) {
	env := setupTestRouter(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("expected event stream, got %s", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}

	waitFor("event:hello")

	ingestion.Publish(env.store, env.broadcaster, testCollection())
	waitFor("event:collection-updated")
	data := waitFor("data:")

	var u broadcast.Update
	if err := json.Unmarshal([]byte(strings.TrimPrefix(data, "data:")), &u); err != nil {
		t.Fatalf("bad update payload %q: %v", data, err)
	}
	if u.Version != 2 || u.FeatureCount != 5 {
		t.Errorf("unexpected update %+v", u)
	}

	env.broadcaster.Close()
	for lines.Scan() {
	}
}
