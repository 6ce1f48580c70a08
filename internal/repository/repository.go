package repository

import (
	"context"
	"time"
)

// Snapshot is a raw collection response kept for fallback after a failed fetch.
type Snapshot struct {
	ID           string
	SourceURL    string
	Raw          []byte
	FeatureCount int
	FetchedAt    time.Time
}

type SnapshotRepository interface {
	Save(ctx context.Context, s *Snapshot) error
	// Latest returns the newest snapshot for sourceURL, or nil if none exists.
	Latest(ctx context.Context, sourceURL string) (*Snapshot, error)
	// Prune keeps the newest keep snapshots per source and reports how many were removed.
	Prune(ctx context.Context, keep int) (int64, error)
}
