package api

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-collection-map/internal/broadcast"
	"github.com/mr1hm/go-collection-map/internal/icons"
	"github.com/mr1hm/go-collection-map/internal/mapengine"
	"github.com/mr1hm/go-collection-map/internal/models"
)

const maxSessions = 10000

type FeatureStore interface {
	Current() *models.Collection
	Feature(id string) (models.Feature, bool)
	Version() uint64
}

type Scene interface {
	State() mapengine.State
	Dispatch(ctx context.Context, ev mapengine.Event) mapengine.Response
}

type Renderer interface {
	Render(f models.Feature) (string, error)
}

type Subscriber interface {
	Subscribe() (uint64, <-chan broadcast.Update)
	Unsubscribe(id uint64)
}

// Forgetter drops per-session interaction state.
type Forgetter interface {
	Forget(session string)
}

type Deps struct {
	Store     FeatureStore
	Scene     Scene
	Renderer  Renderer
	Icons     *icons.Registry
	Updates   Subscriber
	Forgetter Forgetter
	IndexHTML []byte
	RateLimit int
}

type Handler struct {
	deps     Deps
	sessions *Sessions
	etag     string
}

func NewHandler(deps Deps) *Handler {
	sum := sha256.Sum256(deps.IndexHTML)
	return &Handler{
		deps:     deps,
		sessions: NewSessions(maxSessions),
		etag:     fmt.Sprintf(`"%x"`, sum[:12]),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.index)
	r.GET("/health", h.health)
	r.GET("/icons/:kind", h.icon)

	api := r.Group("/api")
	api.GET("/scene", h.scene)
	api.GET("/features", h.getFeatures)
	api.GET("/features/:id/popup", h.getPopup)
	api.POST("/sessions", h.createSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.POST("/sessions/:id/events", RateLimitMiddleware(h.deps.RateLimit), h.dispatchEvent)
	api.GET("/stream", h.stream)
}

func (h *Handler) index(c *gin.Context) {
	if c.GetHeader("If-None-Match") == h.etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("ETag", h.etag)
	c.Header("Cache-Control", "public, no-cache")
	c.Data(http.StatusOK, "text/html; charset=utf-8", h.deps.IndexHTML)
}

func (h *Handler) health(c *gin.Context) {
	coll := h.deps.Store.Current()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  h.deps.Store.Version(),
		"features": coll.Len(),
		"stale":    coll.Stale,
	})
}

func (h *Handler) scene(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Scene.State())
}

func (h *Handler) getFeatures(c *gin.Context) {
	data, err := toGeoJSON(h.deps.Store.Current()).MarshalJSON()
	if err != nil {
		slog.Error("encoding features failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to encode features",
		})
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/geo+json", data)
}

func (h *Handler) getPopup(c *gin.Context) {
	f, ok := h.deps.Store.Feature(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	html, err := h.deps.Renderer.Render(f)
	if err != nil {
		slog.Warn("popup render failed", "feature", f.ID, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": models.ErrorCode(err)})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (h *Handler) createSession(c *gin.Context) {
	id, evicted := h.sessions.Create(time.Now())
	if evicted != "" && h.deps.Forgetter != nil {
		h.deps.Forgetter.Forget(evicted)
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if !h.sessions.Delete(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_session"})
		return
	}
	if h.deps.Forgetter != nil {
		h.deps.Forgetter.Forget(id)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) dispatchEvent(c *gin.Context) {
	session := c.Param("id")
	if !h.sessions.Exists(session) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_session"})
		return
	}

	var ev mapengine.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
		return
	}
	if !ev.Type.Valid() || ev.LayerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
		return
	}
	ev.Session = session

	c.JSON(http.StatusOK, h.deps.Scene.Dispatch(c.Request.Context(), ev))
}

func (h *Handler) icon(c *gin.Context) {
	kind := models.ParseKind(c.Param("kind"))
	icon, ok := h.deps.Icons.Get(kind)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", icon.PNG)
}

// stream pushes a collection-updated event whenever the collection is
// replaced, until the client leaves or the broadcaster closes.
func (h *Handler) stream(c *gin.Context) {
	if h.deps.Updates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "streaming_disabled"})
		return
	}

	id, updates := h.deps.Updates.Subscribe()
	defer h.deps.Updates.Unsubscribe(id)

	slog.Debug("stream subscriber connected", "id", id)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("hello", gin.H{"version": h.deps.Store.Version()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case u, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("collection-updated", u)
			return true
		}
	})
	slog.Debug("stream subscriber disconnected", "id", id)
}
