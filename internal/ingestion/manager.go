package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-collection-map/internal/broadcast"
	"github.com/mr1hm/go-collection-map/internal/models"
)

type Publisher interface {
	Publish(u broadcast.Update)
}

// Manager keeps the store fresh by reloading the collection on a fixed
// interval. The first load is done by the bootstrap sequence.
type Manager struct {
	loader    CollectionLoader
	store     *Store
	publisher Publisher
	interval  time.Duration
	wg        sync.WaitGroup
}

func NewManager(loader CollectionLoader, store *Store, publisher Publisher, interval time.Duration) *Manager {
	return &Manager{
		loader:    loader,
		store:     store,
		publisher: publisher,
		interval:  interval,
	}
}

// Start launches the poller. An interval of zero leaves the collection
// as loaded at startup.
func (m *Manager) Start(ctx context.Context) {
	if m.interval <= 0 {
		slog.Info("collection refresh disabled")
		return
	}
	m.wg.Add(1)
	go m.runPoller(ctx)
}

func (m *Manager) runPoller(ctx context.Context) {
	defer m.wg.Done()
	slog.Info("starting collection poller", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("collection poller shutting down")
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				slog.Error("refresh failed", "error", err)
			}
		}
	}
}

// Refresh loads, sorts and publishes one collection. On error the
// previous collection stays in place.
func (m *Manager) Refresh(ctx context.Context) error {
	slog.Debug("refreshing collection")

	c, err := m.loader.Load(ctx)
	if err != nil {
		return err
	}
	Publish(m.store, m.publisher, c)
	return nil
}

// Publish sorts c, swaps it into store and announces the new version.
// publisher may be nil.
func Publish(store *Store, publisher Publisher, c *models.Collection) uint64 {
	models.SortByStart(c.Features, store.Location())
	version := store.Set(c)

	if publisher != nil {
		publisher.Publish(broadcast.Update{
			Version:      version,
			FeatureCount: c.Len(),
			Stale:        c.Stale,
			At:           c.FetchedAt,
		})
	}

	slog.Info("collection published", "version", version, "count", c.Len(), "stale", c.Stale)
	return version
}

func (m *Manager) Stop() {
	m.wg.Wait()
	slog.Info("ingestion manager stopped")
}
