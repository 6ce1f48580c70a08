// Package web builds the single page that replays the map scene.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

const MapboxVersion = "v1.13.3"

//go:embed assets
var assets embed.FS

type PageData struct {
	Title         string
	MapboxVersion string
	CSS           string
	JS            string
}

// IndexPage renders the minified index page with inlined styles and
// script.
func IndexPage(title string) ([]byte, error) {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/javascript", js.Minify)

	cssMin, err := minifyAsset(m, "text/css", "assets/style.css")
	if err != nil {
		return nil, err
	}
	jsMin, err := minifyAsset(m, "text/javascript", "assets/app.js")
	if err != nil {
		return nil, err
	}

	tmpl, err := template.ParseFS(assets, "assets/index.html.tpl")
	if err != nil {
		return nil, fmt.Errorf("parsing index template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, PageData{
		Title:         title,
		MapboxVersion: MapboxVersion,
		CSS:           cssMin,
		JS:            jsMin,
	})
	if err != nil {
		return nil, fmt.Errorf("executing index template: %w", err)
	}

	out, err := m.Bytes("text/html", buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("minifying index: %w", err)
	}
	return out, nil
}

func minifyAsset(m *minify.M, mediatype, name string) (string, error) {
	raw, err := assets.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	out, err := m.String(mediatype, string(raw))
	if err != nil {
		return "", fmt.Errorf("minifying %s: %w", name, err)
	}
	return out, nil
}
