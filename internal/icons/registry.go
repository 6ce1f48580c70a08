package icons

import (
	"github.com/mr1hm/go-collection-map/internal/models"
)

type Icon struct {
	Kind   models.Kind
	PNG    []byte
	Width  int
	Height int
}

// ImageID is the engine image name layers reference for kind.
func ImageID(kind models.Kind) string {
	return "icon-" + kind.String()
}

// Registry maps kinds to loaded icons. It is filled once by the loader
// and read-only afterwards.
type Registry struct {
	icons map[models.Kind]Icon
}

func NewRegistry(icons map[models.Kind]Icon) *Registry {
	copied := make(map[models.Kind]Icon, len(icons))
	for k, v := range icons {
		copied[k] = v
	}
	return &Registry{icons: copied}
}

func (r *Registry) Get(kind models.Kind) (Icon, bool) {
	if r == nil {
		return Icon{}, false
	}
	icon, ok := r.icons[kind]
	return icon, ok
}

func (r *Registry) Has(kind models.Kind) bool {
	_, ok := r.Get(kind)
	return ok
}

// Kinds lists the registered kinds in declaration order.
func (r *Registry) Kinds() []models.Kind {
	var out []models.Kind
	for _, k := range models.AllKinds() {
		if r.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.icons)
}
