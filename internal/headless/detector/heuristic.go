// Package detector decides when a plain fetch of a profile page returned a
// script-only shell that needs a headless render.
package detector

import (
	"bytes"
	"io"
	"net/http"

	"golang.org/x/net/html"

	"github.com/JakeFAU/page-insights/internal/insights"
)

// DefaultBodyLengthThreshold is the size below which script-heavy bodies are
// treated as shells.
const DefaultBodyLengthThreshold = 2048

// Heuristic implements insights.RenderDetector with rule-based checks.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. threshold <= 0 uses the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyLengthThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// shellMarkers appear in client-rendered app roots.
var shellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte(`id="mount_0_0`),
	[]byte(`data-reactroot`),
}

// contentMarkers indicate server-rendered profile content worth extracting.
var contentMarkers = [][]byte{
	[]byte("<h1"),
	[]byte("userContentWrapper"),
	[]byte("feed"),
}

// ShouldPromote reports whether resp looks like an unrendered shell.
func (h *Heuristic) ShouldPromote(resp insights.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if containsAny(body, shellMarkers) && !containsAny(body, contentMarkers) {
		return true
	}
	return len(body) < h.BodyLengthThreshold && scriptShare(body) >= 25
}

func containsAny(body []byte, markers [][]byte) bool {
	for _, m := range markers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

// scriptShare is the percentage of body bytes inside <script> elements,
// tags included.
func scriptShare(body []byte) int {
	z := html.NewTokenizer(bytes.NewReader(body))
	inScript := false
	script := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				break
			}
			return 0
		}
		raw := len(z.Raw())
		name, _ := z.TagName()
		isScript := string(name) == "script"
		switch {
		case tt == html.StartTagToken && isScript:
			inScript = true
			script += raw
		case tt == html.EndTagToken && isScript:
			inScript = false
			script += raw
		case inScript:
			script += raw
		}
	}
	return script * 100 / len(body)
}
