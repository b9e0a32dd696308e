// Package latex finds display-math blocks in assistant replies and renders
// them to PNG through an external rendering service.
package latex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var blockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)\$\$(.+?)\$\$`),
	regexp.MustCompile(`(?s)\\\[(.+?)\\\]`),
}

// Extract returns the display-math expressions in order of appearance,
// delimiters stripped.
func Extract(text string) []string {
	type match struct {
		start int
		expr  string
	}
	var found []match
	for _, pat := range blockPatterns {
		for _, m := range pat.FindAllStringSubmatchIndex(text, -1) {
			expr := strings.TrimSpace(text[m[2]:m[3]])
			if expr != "" {
				found = append(found, match{start: m[0], expr: expr})
			}
		}
	}
	// Two patterns scan independently; restore document order.
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && found[j].start < found[j-1].start; j-- {
			found[j], found[j-1] = found[j-1], found[j]
		}
	}
	out := make([]string, len(found))
	for i, m := range found {
		out[i] = m.expr
	}
	return out
}

// Renderer turns one LaTeX expression into a PNG via an HTTP rendering
// endpoint. The rendering itself is an external collaborator; this is only
// the request/response mapping.
type Renderer struct {
	BaseURL string
	HTTP    *http.Client
}

func NewRenderer(baseURL string) *Renderer {
	if baseURL == "" {
		baseURL = "https://latex.codecogs.com/png.image"
	}
	return &Renderer{
		BaseURL: strings.TrimRight(baseURL, "?"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *Renderer) Render(ctx context.Context, expr string) ([]byte, error) {
	u := r.BaseURL + "?" + url.QueryEscape(`\dpi{200}`+expr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("latex render http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	png, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(png) == 0 {
		return nil, fmt.Errorf("latex render: empty image")
	}
	return png, nil
}

// RenderAll renders every display-math block in text, skipping blocks the
// service rejects. A reply with no math costs nothing.
func (r *Renderer) RenderAll(ctx context.Context, text string) [][]byte {
	exprs := Extract(text)
	if len(exprs) == 0 {
		return nil
	}
	var out [][]byte
	for _, expr := range exprs {
		png, err := r.Render(ctx, expr)
		if err != nil {
			continue
		}
		out = append(out, png)
	}
	return out
}
