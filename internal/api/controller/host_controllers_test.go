package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/bassista/go_leaf/internal/cache"
	"github.com/bassista/go_leaf/internal/export"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/visibility"
	"github.com/gin-gonic/gin"
)

// mockVisibility records applied snapshots.
type mockVisibility struct {
	last    visibility.Update
	applied int
}

func (m *mockVisibility) ApplyVisibility(u visibility.Update) error {
	if u.TopPage == "missing" {
		return fmt.Errorf("page missing: %w", page.ErrPageNotFound)
	}
	m.last = u
	m.applied++
	return nil
}

func (m *mockVisibility) Snapshot() visibility.Update { return m.last }

func TestVisibilityController_Apply(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &mockVisibility{}
	vc := NewVisibilityController(svc, svc)
	r := gin.New()
	r.PUT("/visibility", vc.Apply)
	r.GET("/visibility", vc.Get)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"page mode", `{"mode":"page","topPage":"a"}`, http.StatusOK},
		{"list mode", `{"mode":"list","listPages":["a","b"],"collapsedStacks":["s2"]}`, http.StatusOK},
		{"missing mode", `{"topPage":"a"}`, http.StatusBadRequest},
		{"unknown mode", `{"mode":"grid"}`, http.StatusBadRequest},
		{"malformed", `{"mode":`, http.StatusBadRequest},
		{"service rejects", `{"mode":"page","topPage":"missing"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(r, http.MethodPut, "/visibility", tt.body); w.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
	if svc.applied != 2 {
		t.Errorf("expected 2 applied snapshots, got %d", svc.applied)
	}

	w := do(r, http.MethodGet, "/visibility", "")
	var got visibility.Update
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if got.Mode != visibility.ModeList || len(got.ListPages) != 2 {
		t.Errorf("unexpected snapshot %+v", got)
	}
}

// mockCache implements CacheInspector.
type mockCache struct {
	asked cache.Key
}

func (m *mockCache) Stats() cache.Stats {
	return cache.Stats{Entries: map[cache.State]int{cache.Ready: 2}, UsedBytes: 100, BudgetBytes: 1000, Renders: 3}
}

func (m *mockCache) State(key cache.Key) cache.State {
	m.asked = key
	return cache.Pending
}

func (m *mockCache) Options() cache.Options {
	return cache.Options{PageSize: page.Size{W: 768, H: 1024}}
}

func TestCacheController(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mc := &mockCache{}
	cc := NewCacheController(mc)
	r := gin.New()
	r.GET("/cache/stats", cc.Stats)
	r.GET("/cache/:name/state", cc.State)

	w := do(r, http.MethodGet, "/cache/stats", "")
	var stats map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	entries, _ := stats["entries"].(map[string]any)
	if entries["ready"] != float64(2) {
		t.Errorf("expected entries keyed by state name, got %v", stats["entries"])
	}

	w = do(r, http.MethodGet, "/cache/a/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if mc.asked != (cache.Key{ID: "a", Size: page.Size{W: 768, H: 1024}}) {
		t.Errorf("expected default page size key, got %v", mc.asked)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["state"] != "pending" {
		t.Errorf("expected pending, got %v", resp["state"])
	}

	do(r, http.MethodGet, "/cache/a/state?w=96&h=128", "")
	if mc.asked.Size != (page.Size{W: 96, H: 128}) {
		t.Errorf("expected thumbnail size key, got %v", mc.asked)
	}

	for _, q := range []string{"?w=abc", "?h=x", "?w=0"} {
		if w := do(r, http.MethodGet, "/cache/a/state"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

// mockExporter implements Exporter and TaskSubmitter without running tasks.
type mockExporter struct {
	rotation page.Rotation
	format   export.Format
	err      error
	jobs     []export.Job
}

func (m *mockExporter) ExportPage(_ context.Context, id page.ID, rotation page.Rotation, format export.Format) (*export.Artifact, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.rotation, m.format = rotation, format
	return &export.Artifact{Name: string(id) + "." + string(format), Format: format, Pages: 1}, nil
}

func (m *mockExporter) ExportVisible(ctx context.Context, rotation page.Rotation, format export.Format) (*export.Artifact, error) {
	return m.ExportPage(ctx, "visible", rotation, format)
}

func (m *mockExporter) Task(string) (*export.Task, bool) { return nil, false }

func (m *mockExporter) Tasks() []export.TaskStatus { return []export.TaskStatus{} }

func (m *mockExporter) SubmitExport(job export.Job) (*export.Task, error) {
	m.jobs = append(m.jobs, job)
	return nil, fmt.Errorf("stack %s: %w", job.Target, page.ErrStackNotFound)
}

func newExportRouter() (*gin.Engine, *mockExporter) {
	gin.SetMode(gin.TestMode)
	me := &mockExporter{}
	ec := NewExportController(me, me)
	r := gin.New()
	r.POST("/page/:name/export", ec.ExportPage)
	r.POST("/visible/export", ec.ExportVisible)
	r.POST("/stack/:name/export", ec.ExportStack)
	r.POST("/exports", ec.Submit)
	r.GET("/exports", ec.List)
	r.GET("/exports/:id", ec.Get)
	r.DELETE("/exports/:id", ec.Cancel)
	return r, me
}

func TestExportController_ExportPage(t *testing.T) {
	r, me := newExportRouter()

	w := do(r, http.MethodPost, "/page/a/export?format=png&rotation=landscape_right", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if me.format != export.FormatPNG || me.rotation != page.RotationLandscapeRight {
		t.Errorf("unexpected arguments %s %v", me.format, me.rotation)
	}

	do(r, http.MethodPost, "/visible/export", "")
	if me.format != export.FormatPDF || me.rotation != page.RotationDefault {
		t.Errorf("expected pdf and default rotation, got %s %v", me.format, me.rotation)
	}

	if w := do(r, http.MethodPost, "/page/a/export?format=gif", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for gif, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/page/a/export?rotation=diagonal", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad rotation, got %d", w.Code)
	}

	me.err = fmt.Errorf("cancelled: %w", page.ErrExportCancelled)
	if w := do(r, http.MethodPost, "/page/a/export", ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for cancelled export, got %d", w.Code)
	}
	me.err = fmt.Errorf("render: %w", page.ErrAssetDecode)
	if w := do(r, http.MethodPost, "/page/a/export", ""); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for undecodable asset, got %d", w.Code)
	}
}

func TestExportController_Submit(t *testing.T) {
	r, me := newExportRouter()

	if w := do(r, http.MethodPost, "/stack/Notes/export?rotation=portrait", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected submit error to map to 404, got %d", w.Code)
	}
	if len(me.jobs) != 1 || me.jobs[0].Kind != export.JobStack || me.jobs[0].Rotation != page.RotationPortrait {
		t.Errorf("unexpected job %+v", me.jobs)
	}

	if w := do(r, http.MethodPost, "/exports", `{"kind":"zip"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown kind, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/exports", `{"kind":"stack","target":"Notes","format":"png"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for png stack export, got %d", w.Code)
	}
	if len(me.jobs) != 1 {
		t.Errorf("rejected jobs must not be submitted, got %d", len(me.jobs))
	}
}

func TestExportController_UnknownTask(t *testing.T) {
	r, _ := newExportRouter()

	if w := do(r, http.MethodGet, "/exports/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/exports/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/exports", ""); w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Errorf("expected empty list, got %d %s", w.Code, w.Body.String())
	}
}
