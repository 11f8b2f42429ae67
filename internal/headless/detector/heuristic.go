// Package detector decides when a candidate page is a JavaScript shell that
// must be rendered headlessly before it can be scored.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

var _ enrichment.HeadlessDetector = (*Heuristic)(nil)

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// Markers left by client-rendered frameworks and hosted site builders.
var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
	[]byte("wix-thunderbolt"),
}

var noscriptHints = []string{
	"enable javascript",
	"javascript is required",
	"requires javascript",
}

// ShouldPromote reports whether probe looks like a shell whose content is
// rendered client-side.
func (h *Heuristic) ShouldPromote(probe enrichment.FetchResponse) bool {
	if probe.StatusCode != 200 {
		return false
	}
	body := probe.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return asksForJavaScript(body)
}

func asksForJavaScript(body []byte) bool {
	lower := strings.ToLower(string(body))
	start := strings.Index(lower, "<noscript")
	if start == -1 {
		return false
	}
	end := strings.Index(lower[start:], "</noscript>")
	if end == -1 {
		end = len(lower) - start
	}
	block := lower[start : start+end]
	for _, hint := range noscriptHints {
		if strings.Contains(block, hint) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagEnd + 1
		closeAt := strings.Index(lower[contentStart:], closeTag)
		next := total
		if closeAt != -1 {
			next = contentStart + closeAt + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage > 0 && coverage*100/total >= 25
}
