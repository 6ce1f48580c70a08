package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mr1hm/go-collection-map/internal/models"
	"github.com/mr1hm/go-collection-map/internal/repository"
)

const (
	maxBodyBytes  = 32 << 20
	snapshotsKept = 5
)

// CollectionLoader fetches the current feature collection.
type CollectionLoader interface {
	Load(ctx context.Context) (*models.Collection, error)
}

type Loader struct {
	url       string
	client    *http.Client
	snapshots repository.SnapshotRepository
	now       func() time.Time
}

// NewLoader returns a loader for url. snapshots may be nil, which
// disables the fallback to the last good response.
func NewLoader(url string, timeout time.Duration, snapshots repository.SnapshotRepository) *Loader {
	return &Loader{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		snapshots: snapshots,
		now:       time.Now,
	}
}

func (l *Loader) URL() string {
	return l.url
}

func (l *Loader) Load(ctx context.Context) (*models.Collection, error) {
	raw, features, err := l.fetch(ctx)
	if err == nil {
		c := &models.Collection{
			Features:  features,
			SourceURL: l.url,
			FetchedAt: l.now(),
		}
		l.saveSnapshot(ctx, raw, c)
		return c, nil
	}

	if l.snapshots == nil {
		return nil, err
	}

	stale, snapErr := l.fromSnapshot(ctx)
	if snapErr != nil || stale == nil {
		if snapErr != nil {
			slog.Error("snapshot fallback failed", "url", l.url, "error", snapErr)
		}
		return nil, err
	}

	slog.Warn("serving collection from snapshot",
		"url", l.url, "error", err, "fetched_at", stale.FetchedAt, "count", stale.Len())
	return stale, nil
}

func (l *Loader) fetch(ctx context.Context) ([]byte, []models.Feature, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: error creating request: %v", models.ErrFetchFailure, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: error while doing request: %v", models.ErrFetchFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: unexpected status code: %d - status: %s", models.ErrFetchFailure, resp.StatusCode, resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: error reading resp.Body: %v", models.ErrFetchFailure, err)
	}

	features, err := Decode(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrFetchFailure, err)
	}

	return raw, features, nil
}

func (l *Loader) saveSnapshot(ctx context.Context, raw []byte, c *models.Collection) {
	if l.snapshots == nil {
		return
	}
	snap := &repository.Snapshot{
		SourceURL:    l.url,
		Raw:          raw,
		FeatureCount: c.Len(),
		FetchedAt:    c.FetchedAt,
	}
	if err := l.snapshots.Save(ctx, snap); err != nil {
		slog.Error("error saving snapshot", "url", l.url, "error", err)
		return
	}
	if n, err := l.snapshots.Prune(ctx, snapshotsKept); err != nil {
		slog.Error("error pruning snapshots", "error", err)
	} else if n > 0 {
		slog.Debug("pruned snapshots", "removed", n)
	}
}

func (l *Loader) fromSnapshot(ctx context.Context) (*models.Collection, error) {
	snap, err := l.snapshots.Latest(ctx, l.url)
	if err != nil || snap == nil {
		return nil, err
	}
	features, err := Decode(snap.Raw)
	if err != nil {
		return nil, fmt.Errorf("error decoding snapshot %s: %w", snap.ID, err)
	}
	return &models.Collection{
		Features:  features,
		SourceURL: l.url,
		FetchedAt: snap.FetchedAt,
		Stale:     true,
	}, nil
}
