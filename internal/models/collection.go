package models

import (
	"slices"
	"time"

	"github.com/paulmach/orb"
)

type Collection struct {
	Features  []Feature
	SourceURL string
	FetchedAt time.Time
	Stale     bool // served from a snapshot after a failed fetch
}

func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Features)
}

func (c *Collection) Feature(id string) (Feature, bool) {
	if c == nil {
		return Feature{}, false
	}
	for _, f := range c.Features {
		if f.ID == id {
			return f, true
		}
	}
	return Feature{}, false
}

// CountByKind returns how many features each kind holds.
func (c *Collection) CountByKind() map[Kind]int {
	counts := make(map[Kind]int)
	if c == nil {
		return counts
	}
	for _, f := range c.Features {
		counts[f.Kind]++
	}
	return counts
}

// Bound returns the union of all feature bounds. ok is false when no
// feature carries a geometry.
func (c *Collection) Bound() (b orb.Bound, ok bool) {
	if c == nil {
		return b, false
	}
	for _, f := range c.Features {
		if f.Geometry == nil {
			continue
		}
		if !ok {
			b, ok = f.Geometry.Bound(), true
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b, ok
}

// CompareByStart orders features with an earlier details.start first.
// Features without a usable start sort after every feature that has one
// and compare equal among themselves.
func CompareByStart(a, b *Feature, loc *time.Location) int {
	return compareStarts(startKeyOf(a, loc), startKeyOf(b, loc))
}

// SortByStart sorts in place and keeps the relative order of features
// that compare equal. Each start is parsed once.
func SortByStart(features []Feature, loc *time.Location) {
	keyed := make([]keyedFeature, len(features))
	for i := range features {
		keyed[i] = keyedFeature{f: features[i], key: startKeyOf(&features[i], loc)}
	}
	slices.SortStableFunc(keyed, func(a, b keyedFeature) int {
		return compareStarts(a.key, b.key)
	})
	for i := range keyed {
		features[i] = keyed[i].f
	}
}

type startKey struct {
	at time.Time
	ok bool
}

type keyedFeature struct {
	f   Feature
	key startKey
}

func startKeyOf(f *Feature, loc *time.Location) startKey {
	at, ok := f.Start(loc)
	return startKey{at: at, ok: ok}
}

func compareStarts(a, b startKey) int {
	switch {
	case a.ok && b.ok:
		return a.at.Compare(b.at)
	case a.ok:
		return -1
	case b.ok:
		return 1
	default:
		return 0
	}
}
