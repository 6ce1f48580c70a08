package icons

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"

	"github.com/mr1hm/go-collection-map/internal/models"
	"github.com/mr1hm/go-collection-map/internal/worker"
)

var extensions = []string{".png", ".webp"}

type Loader struct {
	dir     string
	size    int
	workers int
}

// NewLoader loads icons named after the kind (or one of its wire
// aliases) from dir and fits them into a size x size square.
func NewLoader(dir string, size, workers int) *Loader {
	return &Loader{dir: dir, size: size, workers: workers}
}

// LoadAll loads an icon for every kind. A failed kind is reported in
// the returned map and left out of the registry; the others still load.
func (l *Loader) LoadAll(ctx context.Context, kinds []models.Kind) (*Registry, map[models.Kind]error) {
	var (
		mu     sync.Mutex
		loaded = make(map[models.Kind]Icon, len(kinds))
		failed = make(map[models.Kind]error)
	)

	pool := worker.NewWorkerPool(l.workers, len(kinds), func(ctx context.Context, kind models.Kind) error {
		icon, err := l.Load(ctx, kind)
		if err != nil {
			return err
		}
		mu.Lock()
		loaded[kind] = icon
		mu.Unlock()
		return nil
	})
	pool.OnError(func(kind models.Kind, err error) {
		mu.Lock()
		failed[kind] = err
		mu.Unlock()
	})

	pool.Start(ctx)
	for _, kind := range kinds {
		if !pool.Submit(ctx, kind) {
			break
		}
	}
	pool.Stop()

	// jobs dropped by cancellation never reached a worker
	for _, kind := range kinds {
		_, ok := loaded[kind]
		_, bad := failed[kind]
		if !ok && !bad {
			failed[kind] = fmt.Errorf("%w: %s: %v", models.ErrIconLoadFailure, kind, context.Cause(ctx))
		}
	}

	for kind, err := range failed {
		slog.Warn("icon not loaded", "kind", kind.String(), "error", err)
	}
	slog.Info("icons loaded", "loaded", len(loaded), "failed", len(failed))

	return NewRegistry(loaded), failed
}

func (l *Loader) Load(ctx context.Context, kind models.Kind) (Icon, error) {
	if err := ctx.Err(); err != nil {
		return Icon{}, fmt.Errorf("%w: %s: %v", models.ErrIconLoadFailure, kind, err)
	}

	path, err := l.find(kind)
	if err != nil {
		return Icon{}, fmt.Errorf("%w: %s: %v", models.ErrIconLoadFailure, kind, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Icon{}, fmt.Errorf("%w: %s: %v", models.ErrIconLoadFailure, kind, err)
	}

	src, err := decode(path, data)
	if err != nil {
		return Icon{}, fmt.Errorf("%w: %s: decoding %s: %v", models.ErrIconLoadFailure, kind, filepath.Base(path), err)
	}

	dst := fit(src, l.size)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return Icon{}, fmt.Errorf("%w: %s: encoding: %v", models.ErrIconLoadFailure, kind, err)
	}

	slog.Debug("icon loaded", "kind", kind.String(), "path", path)
	return Icon{
		Kind:   kind,
		PNG:    buf.Bytes(),
		Width:  dst.Bounds().Dx(),
		Height: dst.Bounds().Dy(),
	}, nil
}

func (l *Loader) find(kind models.Kind) (string, error) {
	names := append([]string{kind.String()}, kind.Aliases()...)
	for _, name := range names {
		for _, ext := range extensions {
			path := filepath.Join(l.dir, name+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("no icon file for %q in %s", kind.String(), l.dir)
}

func decode(path string, data []byte) (image.Image, error) {
	switch filepath.Ext(path) {
	case ".png":
		return png.Decode(bytes.NewReader(data))
	case ".webp":
		return webp.Decode(bytes.NewReader(data))
	default:
		return nil, errors.New("unsupported icon format")
	}
}

// fit scales src into a size x size transparent square, keeping its
// aspect ratio and centring it.
func fit(src image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))

	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	if w == 0 || h == 0 {
		return dst
	}

	tw, th := size, size
	if w > h {
		th = max(1, size*h/w)
	} else if h > w {
		tw = max(1, size*w/h)
	}
	x0 := (size - tw) / 2
	y0 := (size - th) / 2

	draw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+tw, y0+th), src, sb, draw.Over, nil)
	return dst
}
