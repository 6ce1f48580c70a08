// Package popup renders the HTML body of a feature popup.
package popup

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/mr1hm/go-collection-map/internal/models"
)

const timeLayout = "02.01.2006 15:04"

const templates = `
{{define "link"}}{{if .URL}}<a class="popup-cta" href="{{.URL}}" target="_blank" rel="noopener">{{.Label}}</a>{{end}}{{end}}

{{define "group"}}<div class="popup popup-group">
<h3>{{.Name}}</h3>
{{if .Description}}<p>{{.Description}}</p>{{end}}
{{template "link" .}}
</div>{{end}}

{{define "collection"}}<div class="popup popup-collection">
<h3>{{.Name}}</h3>
{{if .Address}}<p class="popup-address">{{.Address}}</p>{{end}}
{{if .Description}}<p>{{.Description}}</p>{{end}}
{{template "link" .}}
</div>{{end}}

{{define "event"}}<div class="popup popup-event">
<h3>{{.Name}}</h3>
{{if .Start}}<p class="popup-time"><time>{{.Start}}</time>{{if .End}} – <time>{{.End}}</time>{{end}}</p>{{end}}
{{if .Address}}<p class="popup-address">{{.Address}}</p>{{end}}
{{if .Description}}<p>{{.Description}}</p>{{end}}
{{template "link" .}}
</div>{{end}}

{{define "dropoff"}}<div class="popup popup-dropoff">
<h3>{{.Name}}</h3>
{{if .Address}}<p class="popup-address">{{.Address}}</p>{{end}}
{{if .Description}}<p>{{.Description}}</p>{{end}}
{{template "link" .}}
</div>{{end}}

{{define "material"}}<div class="popup popup-material">
<h3>{{.Name}}</h3>
{{if .Address}}<p class="popup-address">{{.Address}}</p>{{end}}
{{if .Description}}<p>{{.Description}}</p>{{end}}
{{template "link" .}}
</div>{{end}}
`

// view is what every template sees.
type view struct {
	Name        string
	Description string
	URL         string
	Label       string
	Address     string
	Start       string
	End         string
}

type Templater struct {
	loc  *time.Location
	tmpl *template.Template
}

// New returns a templater formatting times in loc (UTC when nil).
func New(loc *time.Location) *Templater {
	if loc == nil {
		loc = time.UTC
	}
	return &Templater{
		loc:  loc,
		tmpl: template.Must(template.New("popup").Parse(templates)),
	}
}

// Render produces the popup body for f. Unknown kinds fail with
// ErrMissingTemplate; events whose details are not JSON fail with
// ErrMalformedDetails. An event without a usable start renders without
// the time line.
func (t *Templater) Render(f models.Feature) (string, error) {
	switch f.Kind {
	case models.KindGroup:
		return t.group(f)
	case models.KindCollection:
		return t.collection(f)
	case models.KindEvent:
		return t.event(f)
	case models.KindDropoff:
		return t.dropoff(f)
	case models.KindMaterial:
		return t.material(f)
	default:
		return "", fmt.Errorf("%w: kind %q of feature %s", models.ErrMissingTemplate, f.RawKind, f.ID)
	}
}

// FormatTime renders a timestamp the way popups show it.
func (t *Templater) FormatTime(ts time.Time) string {
	return ts.In(t.loc).Format(timeLayout)
}

func (t *Templater) group(f models.Feature) (string, error) {
	return t.execute("group", baseView(f, "Mitmachen"))
}

func (t *Templater) collection(f models.Feature) (string, error) {
	v := baseView(f, "Mitmachen")
	v.Address = optionalAddress(f)
	return t.execute("collection", v)
}

func (t *Templater) event(f models.Feature) (string, error) {
	d, err := f.ParseDetails()
	if err != nil {
		return "", err
	}

	v := baseView(f, "Mitmachen")
	v.Address = d.Address
	if start, ok := d.StartTime(t.loc); ok {
		v.Start = t.FormatTime(start)
		if end, ok := d.EndTime(t.loc); ok {
			v.End = t.FormatTime(end)
		}
	} else if d.Start != "" {
		slog.Warn("unreadable event start, omitting time", "feature", f.ID, "start", d.Start)
	}
	return t.execute("event", v)
}

func (t *Templater) dropoff(f models.Feature) (string, error) {
	v := baseView(f, "Zur Abgabestelle")
	v.Address = optionalAddress(f)
	return t.execute("dropoff", v)
}

func (t *Templater) material(f models.Feature) (string, error) {
	v := baseView(f, "Material abholen")
	v.Address = optionalAddress(f)
	return t.execute("material", v)
}

func (t *Templater) execute(name string, v view) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("rendering %s popup: %w", name, err)
	}
	return buf.String(), nil
}

func baseView(f models.Feature, label string) view {
	return view{
		Name:        f.Name,
		Description: f.Description,
		URL:         f.URL,
		Label:       label,
	}
}

// Only events require details; elsewhere they just add an address.
func optionalAddress(f models.Feature) string {
	if f.DetailsRaw == "" {
		return ""
	}
	d, err := f.ParseDetails()
	if err != nil {
		return ""
	}
	return d.Address
}
