package route

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bassista/go_leaf/internal/app"
	"github.com/bassista/go_leaf/internal/config"
	"github.com/bassista/go_leaf/internal/export"
	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var routePage = page.Size{W: 60, H: 80}

func newTestServer(t *testing.T) (*gin.Engine, *app.App) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{Port: 8084, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second, ShutDownTimeout: time.Second, RequestTimeout: 5 * time.Second, CORSAllowedOrigins: "*"},
		Data:   config.DataConfig{RepositoryType: "json", FilePath: filepath.Join(dir, "document.json"), PersistInterval: time.Hour},
		Storage: config.StorageConfig{
			TextureRoot:  filepath.Join(dir, "textures"),
			InkDir:       filepath.Join(dir, "ink"),
			KeepVersions: 2,
		},
		Cache: config.CacheConfig{
			MemoryBudgetMB: 4, PrefetchRadius: 1, RenderWorkers: 2, SweepInterval: time.Hour,
			PageWidth: routePage.W, PageHeight: routePage.H, ThumbnailWidth: 12, ThumbnailHeight: 16,
		},
		Render: config.RenderConfig{BasisWidth: 60, Fit: "letterbox", Paper: "#FFFFFF"},
		Export: config.ExportConfig{
			Dir: filepath.Join(dir, "exports"), URLPrefix: "/artifacts/", DefaultRotation: "portrait",
			ImageScale: 1, JanitorSchedule: "@hourly", MaxAge: time.Hour,
		},
	}

	repo, err := repository.NewRepositoryFromConfig(cfg.Data.RepositoryType, cfg.Data.FilePath)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), &repository.DataDocument{
		Stacks: []page.Stack{{ID: "s1", Name: "Notes", PageIDs: []page.ID{"a", "b"}}},
		Pages: []page.Record{
			{ID: "a", StackID: "s1", Order: 0, Background: page.Ruled(nil), Generation: 1, Size: routePage},
			{ID: "b", StackID: "s1", Order: 1, Background: page.Grid(nil), Generation: 1, Size: routePage},
		},
	}))

	a, err := app.New(cfg, repo)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	return SetupRoutes(a, logger.Logger), a
}

func serve(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_HealthAndConfiguration(t *testing.T) {
	r, _ := newTestServer(t)

	w := serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "UP")

	w = serve(r, http.MethodGet, "/configuration", "")
	require.Equal(t, http.StatusOK, w.Code)
	var conf map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conf))
	assert.Equal(t, "/artifacts/", conf["artifactsUrl"])
}

func TestSetupRoutes_PagesAndStacks(t *testing.T) {
	r, a := newTestServer(t)

	w := serve(r, http.MethodGet, "/pages", "")
	require.Equal(t, http.StatusOK, w.Code)
	var pages []page.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pages))
	assert.Len(t, pages, 2)

	w = serve(r, http.MethodGet, "/stacks", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Notes")

	w = serve(r, http.MethodDelete, "/stack/s1", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "stacks cannot be removed")

	w = serve(r, http.MethodDelete, "/page/b", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, a.Pages(), 1)

	w = serve(r, http.MethodGet, "/page/missing/properties", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupRoutes_VisibilityRendersTopPage(t *testing.T) {
	r, _ := newTestServer(t)

	w := serve(r, http.MethodPut, "/visibility", `{"mode":"page","topPage":"a"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		w := serve(r, http.MethodGet, "/cache/a/state", "")
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"ready"`)
	}, 3*time.Second, 10*time.Millisecond)

	w = serve(r, http.MethodGet, "/visibility", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"topPage":"a"`)

	w = serve(r, http.MethodGet, "/cache/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_ExportPageServesArtifact(t *testing.T) {
	r, _ := newTestServer(t)

	w := serve(r, http.MethodPost, "/page/a/export?format=png", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var art export.Artifact
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &art))
	require.True(t, strings.HasPrefix(art.URL, "/artifacts/"), art.URL)

	w = serve(r, http.MethodGet, art.URL, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestSetupRoutes_StackExportTask(t *testing.T) {
	r, _ := newTestServer(t)

	w := serve(r, http.MethodPost, "/exports", `{"kind":"stack","target":"Notes"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	location := w.Header().Get("Location")
	require.NotEmpty(t, location)

	var status export.TaskStatus
	require.Eventually(t, func() bool {
		w := serve(r, http.MethodGet, location, "")
		if w.Code != http.StatusOK {
			return false
		}
		status = export.TaskStatus{}
		_ = json.Unmarshal(w.Body.Bytes(), &status)
		return status.State == export.TaskDone
	}, 5*time.Second, 20*time.Millisecond)

	require.NotNil(t, status.Artifact)
	assert.Equal(t, 2, status.Artifact.Pages)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, status.Artifact.URL, "").Code)

	w = serve(r, http.MethodGet, "/exports", "")
	assert.Contains(t, w.Body.String(), status.ID)
}

func TestSetupRoutes_CORSPreflight(t *testing.T) {
	r, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/pages", nil)
	req.Header.Set("Origin", "http://host.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
