package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-insights/internal/config"
	"github.com/JakeFAU/page-insights/internal/insights"
)

func memoryConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second},
		Fetch:  config.FetchConfig{BaseURL: baseURL, Timeout: 2 * time.Second},
		Store:  config.StoreConfig{Backend: config.BackendMemory, MaxRetries: 1},
		Cache:  config.CacheConfig{Enabled: true, Capacity: 10, TTL: time.Minute},
		Archive: config.ArchiveConfig{
			Backend: config.BackendLocal,
			BaseDir: t.TempDir(),
			Prefix:  "raw",
		},
		Events: config.EventsConfig{Backend: config.BackendMemory},
	}
}

func TestBuildWithMemoryBackends(t *testing.T) {
	cfg := memoryConfig(t, "http://127.0.0.1:1")
	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, app.Service().Ready())
}

func TestBuildDegradedPostgresStillServes(t *testing.T) {
	cfg := memoryConfig(t, "http://127.0.0.1:1")
	cfg.Store = config.StoreConfig{
		Backend:      config.BackendPostgres,
		DSN:          "postgres://insights@127.0.0.1:1/insights?connect_timeout=1",
		MaxRetries:   1,
		RetryDelayMS: 1,
	}
	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	_, err = app.Service().GetPage(context.Background(), "acme")
	require.ErrorIs(t, err, insights.ErrNotInitialized)
}

func TestBuildIngestsEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/acme" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><h1 class="page-name">Acme</h1>` +
			`<div>2.3K followers</div>` +
			`<div class="feed-story"><abbr title="2024-03-02 09:15:00">x</abbr><div class="post-content">one</div></div>` +
			`</body></html>`))
	}))
	t.Cleanup(upstream.Close)

	app, err := BuildWithLogger(context.Background(), memoryConfig(t, upstream.URL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/page/acme", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"follower_count":2300`)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/page/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/page/acme/posts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"content":"one"`)
}

func TestSetupArchiveAndPublisherDisabled(t *testing.T) {
	cfg := memoryConfig(t, "http://127.0.0.1:1")
	cfg.Archive.Backend = config.BackendNone
	cfg.Events.Backend = config.BackendNone
	app := &App{cfg: cfg, logger: zap.NewNop()}

	archiver, err := setupArchive(context.Background(), app, nil)
	require.NoError(t, err)
	assert.Nil(t, archiver)

	publisher, err := setupPublisher(context.Background(), app)
	require.NoError(t, err)
	assert.Nil(t, publisher)
}

