// Package layers turns the YAML layer declarations into map layers.
package layers

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mr1hm/go-collection-map/internal/models"
)

//go:embed default.yaml
var defaultDeclaration []byte

// Declaration is the root of a layers file.
type Declaration struct {
	Source       string      `yaml:"source"`
	LabelLayer   string      `yaml:"label_layer,omitempty"`
	IconSize     []Stop      `yaml:"icon_size"`
	CircleRadius float64     `yaml:"circle_radius,omitempty"`
	Kinds        []KindStyle `yaml:"kinds"`
}

// Stop is one zoom stop of an interpolated property.
type Stop struct {
	Zoom  float64 `yaml:"zoom"`
	Value float64 `yaml:"value"`
}

type KindStyle struct {
	Kind         string        `yaml:"kind"`
	Color        string        `yaml:"color"`
	BeforeLabel  bool          `yaml:"before_label,omitempty"`
	SymbolZOrder string        `yaml:"symbol_z_order,omitempty"`
	Polygon      *PolygonStyle `yaml:"polygon,omitempty"`

	kind models.Kind
}

// PolygonStyle adds fill and outline layers for polygon features.
type PolygonStyle struct {
	FillOpacity  float64 `yaml:"fill_opacity"`
	OutlineWidth float64 `yaml:"outline_width"`
}

func (k KindStyle) ModelKind() models.Kind {
	return k.kind
}

// Load reads declarations from path, or the embedded defaults when
// path is empty.
func Load(path string) (*Declaration, error) {
	data := defaultDeclaration
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading layers file: %w", err)
		}
	}
	return Parse(data)
}

func Parse(data []byte) (*Declaration, error) {
	var decl Declaration
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("parsing layers: %w", err)
	}
	if err := decl.validate(); err != nil {
		return nil, fmt.Errorf("invalid layers: %w", err)
	}
	return &decl, nil
}

func (d *Declaration) validate() error {
	if strings.TrimSpace(d.Source) == "" {
		return errors.New("source is required")
	}
	if len(d.IconSize) == 0 {
		return errors.New("icon_size needs at least one stop")
	}
	for i := 1; i < len(d.IconSize); i++ {
		if d.IconSize[i].Zoom <= d.IconSize[i-1].Zoom {
			return fmt.Errorf("icon_size stops must be in ascending zoom order, got %v after %v",
				d.IconSize[i].Zoom, d.IconSize[i-1].Zoom)
		}
	}
	if d.CircleRadius == 0 {
		d.CircleRadius = 6
	}
	if d.CircleRadius < 0 {
		return fmt.Errorf("circle_radius must be positive, got %v", d.CircleRadius)
	}

	seen := make(map[models.Kind]bool)
	for i := range d.Kinds {
		ks := &d.Kinds[i]
		k := models.ParseKind(ks.Kind)
		if !k.Known() {
			return fmt.Errorf("unknown kind %q", ks.Kind)
		}
		if seen[k] {
			return fmt.Errorf("kind %q declared twice", ks.Kind)
		}
		seen[k] = true
		ks.kind = k

		if ks.Color == "" {
			return fmt.Errorf("kind %q has no color", ks.Kind)
		}
		if ks.BeforeLabel && d.LabelLayer == "" {
			return fmt.Errorf("kind %q is placed before the label layer but label_layer is empty", ks.Kind)
		}
		switch ks.SymbolZOrder {
		case "", "auto", "viewport-y", "source":
		default:
			return fmt.Errorf("kind %q: invalid symbol_z_order %q", ks.Kind, ks.SymbolZOrder)
		}
	}
	return nil
}
