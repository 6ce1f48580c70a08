package ingestion

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mr1hm/go-collection-map/internal/models"
)

type indexed struct {
	coll *models.Collection
	byID map[string]int
}

// Store holds the collection currently served. A collection passed to
// Set must not be mutated afterwards.
type Store struct {
	loc     *time.Location
	current atomic.Pointer[indexed]
	version atomic.Uint64
}

// NewStore returns an empty store. loc is the zone for event times
// that carry no offset (UTC when nil).
func NewStore(loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	s := &Store{loc: loc}
	s.current.Store(&indexed{coll: &models.Collection{}, byID: map[string]int{}})
	return s
}

func (s *Store) Location() *time.Location {
	return s.loc
}

// Set publishes c and returns the new version. Decode already makes ids
// unique; should two still collide, the first one wins.
func (s *Store) Set(c *models.Collection) uint64 {
	if c == nil {
		c = &models.Collection{}
	}
	byID := make(map[string]int, len(c.Features))
	for i, f := range c.Features {
		if prev, dup := byID[f.ID]; dup {
			slog.Warn("duplicate feature id, keeping the first",
				"id", f.ID, "kept", c.Features[prev].RawKind, "dropped", f.RawKind)
			continue
		}
		byID[f.ID] = i
	}
	s.current.Store(&indexed{coll: c, byID: byID})
	return s.version.Add(1)
}

func (s *Store) Current() *models.Collection {
	return s.current.Load().coll
}

func (s *Store) Version() uint64 {
	return s.version.Load()
}

func (s *Store) Feature(id string) (models.Feature, bool) {
	cur := s.current.Load()
	i, ok := cur.byID[id]
	if !ok {
		return models.Feature{}, false
	}
	return cur.coll.Features[i], true
}
