package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-insights/internal/insights"
)

func response(status int, body string) insights.FetchResponse {
	return insights.FetchResponse{StatusCode: status, Body: []byte(body)}
}

func TestShouldPromote(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	tests := []struct {
		name string
		resp insights.FetchResponse
		want bool
	}{
		{name: "empty body", resp: response(200, "  \n"), want: true},
		{name: "app shell", resp: response(200, `<html><body><div id="mount_0_0_xy"></div></body></html>`), want: true},
		{
			name: "shell marker with server content",
			resp: response(200, `<div id="root"><h1 class="page-name">Acme</h1></div>`),
			want: false,
		},
		{
			name: "script dominated small body",
			resp: response(200, `<html><script>var a=1;window.boot(a);</script><p>t</p></html>`),
			want: true,
		},
		{
			name: "server rendered profile",
			resp: response(200, `<html><body><h1>Acme</h1><div class="about">`+strings.Repeat("x", 200)+`</div></body></html>`),
			want: false,
		},
		{name: "non-200 never promoted", resp: response(404, ""), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, h.ShouldPromote(tc.resp))
		})
	}
}

func TestScriptDensityIgnoredForLargeBodies(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(16)
	body := `<html><script>` + strings.Repeat("x", 100) + `</script><p>t</p></html>`
	require.False(t, h.ShouldPromote(response(200, body)))
}

func TestScriptShare(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, scriptShare([]byte(`<p>plain</p>`)))
	require.Equal(t, 100, scriptShare([]byte(`<script>x</script>`)))
}

func TestNewHeuristicDefault(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultBodyLengthThreshold, NewHeuristic(0).BodyLengthThreshold)
}
