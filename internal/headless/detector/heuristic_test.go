package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		threshold int
		resp      enrichment.FetchResponse
		want      bool
	}{
		{
			name: "empty body",
			resp: enrichment.FetchResponse{StatusCode: 200},
			want: true,
		},
		{
			name: "next.js shell",
			resp: enrichment.FetchResponse{StatusCode: 200, Body: []byte(`<div id="__next"></div>`)},
			want: true,
		},
		{
			name:      "script heavy small page",
			threshold: 1000,
			resp:      enrichment.FetchResponse{StatusCode: 200, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)},
			want:      true,
		},
		{
			name: "noscript warning",
			resp: enrichment.FetchResponse{StatusCode: 200, Body: []byte(
				`<html><body><noscript>Please enable JavaScript to view this site.</noscript>` +
					`<p>Loading</p></body></html>`)},
			want: true,
		},
		{
			name: "static brochure site",
			resp: enrichment.FetchResponse{StatusCode: 200, Body: []byte(
				`<html><body><h1>Acme Tools Ltd</h1><p>Company number 01234567</p></body></html>`)},
			want: false,
		},
		{
			name: "non-200 never promoted",
			resp: enrichment.FetchResponse{StatusCode: 404, Body: []byte("not found")},
			want: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHeuristic(tt.threshold)
			require.Equal(t, tt.want, h.ShouldPromote(tt.resp))
		})
	}
}
