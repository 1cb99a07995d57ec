package document

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/repository"
)

func createTestDocument() repository.DataDocument {
	return repository.DataDocument{
		Metadata: repository.Metadata{LastUpdate: 1000},
		Stacks: []page.Stack{
			{ID: "s1", Name: "Lecture notes", PageIDs: []page.ID{"a", "b", "c"}},
			{ID: "s2", Name: "Sketches", PageIDs: []page.ID{"x"}},
		},
		Pages: []page.Record{
			{ID: "a", StackID: "s1", Order: 0, Background: page.Ruled(nil), Generation: 1},
			{ID: "b", StackID: "s1", Order: 1, Background: page.Grid(nil), Generation: 1},
			{ID: "c", StackID: "s1", Order: 2, Generation: 4},
			{ID: "x", StackID: "s2", Order: 0, IdealExportRotation: page.RotationLandscapeRight, Generation: 1},
		},
	}
}

func TestNewStore(t *testing.T) {
	store := NewStore(createTestDocument())
	if store.GetLastUpdate() != 1000 {
		t.Errorf("expected lastUpdate 1000, got %d", store.GetLastUpdate())
	}
	if store.CountAllPages() != 4 {
		t.Errorf("expected 4 pages, got %d", store.CountAllPages())
	}
	rec, ok := store.Lookup("c")
	if !ok {
		t.Fatal("expected page c")
	}
	if rec.Background.Kind != page.KindNone {
		t.Errorf("expected defaulted kind none, got %q", rec.Background.Kind)
	}
	if rec.Size != repository.DefaultPageSize {
		t.Errorf("expected default size, got %s", rec.Size)
	}
}

func TestStore_DirtyFlag(t *testing.T) {
	store := NewStore(createTestDocument())
	if store.IsDirty() {
		t.Error("expected store to not be dirty initially")
	}
	store.MarkDirty()
	if !store.IsDirty() {
		t.Error("expected store to be dirty after MarkDirty")
	}
	store.ClearDirty()
	if store.IsDirty() {
		t.Error("expected store to not be dirty after ClearDirty")
	}
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	store := NewStore(createTestDocument())
	snap, err := store.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	snap.Stacks[0].PageIDs[0] = "mutated"
	snap.Pages[0].Background.Params = map[string]string{"spacing": "99"}

	again, _ := store.Snapshot()
	if again.Stacks[0].PageIDs[0] != "a" {
		t.Error("snapshot shares stack slices with the store")
	}
	if len(again.Pages[0].Background.Params) != 0 {
		t.Error("snapshot shares params with the store")
	}
}

func TestStore_Navigation(t *testing.T) {
	store := NewStore(createTestDocument())

	if below, ok := store.PageBelow("a"); !ok || below != "b" {
		t.Errorf("PageBelow(a) = %q, %v", below, ok)
	}
	if _, ok := store.PageBelow("c"); ok {
		t.Error("expected no page below the last page")
	}
	if _, ok := store.PageBelow("ghost"); ok {
		t.Error("expected no page below an unknown page")
	}
	if top, ok := store.TopOfStack("s2"); !ok || top != "x" {
		t.Errorf("TopOfStack(s2) = %q, %v", top, ok)
	}
	if st, ok := store.StackOf("b"); !ok || st != "s1" {
		t.Errorf("StackOf(b) = %q, %v", st, ok)
	}
	if name, ok := store.StackName("x"); !ok || name != "Sketches" {
		t.Errorf("StackName(x) = %q, %v", name, ok)
	}
}

func TestStore_StackByIDOrName(t *testing.T) {
	store := NewStore(createTestDocument())
	if st, err := store.Stack("s1"); err != nil || st.Name != "Lecture notes" {
		t.Errorf("Stack(s1) = %+v, %v", st, err)
	}
	if st, err := store.Stack("Sketches"); err != nil || st.ID != "s2" {
		t.Errorf("Stack(Sketches) = %+v, %v", st, err)
	}
	if _, err := store.Stack("nope"); !errors.Is(err, page.ErrStackNotFound) {
		t.Errorf("expected ErrStackNotFound, got %v", err)
	}
}

func TestStore_PagesInDisplayOrder(t *testing.T) {
	store := NewStore(createTestDocument())
	pages := store.Pages()
	want := []page.ID{"a", "b", "c", "x"}
	if len(pages) != len(want) {
		t.Fatalf("expected %d pages, got %d", len(want), len(pages))
	}
	for i, id := range want {
		if pages[i].ID != id {
			t.Errorf("page %d: expected %s, got %s", i, id, pages[i].ID)
		}
	}
}

func TestStore_SetBackgroundBumpsGeneration(t *testing.T) {
	store := NewStore(createTestDocument())
	rec, err := store.SetBackground("a", page.Grid(map[string]string{page.ParamSpacing: "32"}))
	if err != nil {
		t.Fatalf("SetBackground: %v", err)
	}
	if rec.Generation != 2 {
		t.Errorf("expected generation 2, got %d", rec.Generation)
	}
	if !store.IsDirty() {
		t.Error("expected store to be dirty")
	}
	got, _ := store.Lookup("a")
	if got.Background.Kind != page.KindGrid || got.Background.Params[page.ParamSpacing] != "32" {
		t.Errorf("background not replaced: %+v", got.Background)
	}
}

func TestStore_SetBackgroundErrors(t *testing.T) {
	store := NewStore(createTestDocument())
	if _, err := store.SetBackground("ghost", page.Ruled(nil)); !errors.Is(err, page.ErrPageNotFound) {
		t.Errorf("expected ErrPageNotFound, got %v", err)
	}
	if _, err := store.SetBackground("a", page.BackgroundSpec{Kind: "dots"}); !errors.Is(err, page.ErrInvalidSpec) {
		t.Errorf("expected ErrInvalidSpec, got %v", err)
	}
	if rec, _ := store.Lookup("a"); rec.Generation != 1 {
		t.Errorf("failed update changed the generation to %d", rec.Generation)
	}
}

func TestStore_SetIdealExportRotation(t *testing.T) {
	store := NewStore(createTestDocument())
	rec, err := store.SetIdealExportRotation("b", page.RotationLandscapeLeft)
	if err != nil {
		t.Fatalf("SetIdealExportRotation: %v", err)
	}
	if rec.IdealExportRotation != page.RotationLandscapeLeft {
		t.Errorf("expected landscape_left, got %s", rec.IdealExportRotation)
	}
	if rec.Generation != 1 {
		t.Error("rotation must not change the background generation")
	}
	if _, err := store.SetIdealExportRotation("b", page.Rotation(42)); err == nil {
		t.Error("expected error for unknown rotation")
	}
}

func TestStore_AddAndRemovePage(t *testing.T) {
	store := NewStore(createTestDocument())

	rec, err := store.AddPage(page.Record{StackID: "s1", Background: page.Ruled(nil)}, 1)
	if err != nil {
		t.Fatalf("AddPage: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected a generated id")
	}
	if rec.Order != 1 || rec.Generation != 1 {
		t.Errorf("expected order 1 generation 1, got %d/%d", rec.Order, rec.Generation)
	}
	if below, _ := store.PageBelow("a"); below != rec.ID {
		t.Errorf("expected new page below a, got %s", below)
	}
	if b, _ := store.Lookup("b"); b.Order != 2 {
		t.Errorf("expected b renumbered to 2, got %d", b.Order)
	}

	if _, err := store.AddPage(page.Record{ID: "a", StackID: "s1"}, -1); err == nil {
		t.Error("expected duplicate id error")
	}
	if _, err := store.AddPage(page.Record{StackID: "nope"}, -1); !errors.Is(err, page.ErrStackNotFound) {
		t.Errorf("expected ErrStackNotFound, got %v", err)
	}

	if _, err := store.RemovePage(rec.ID); err != nil {
		t.Fatalf("RemovePage: %v", err)
	}
	if below, _ := store.PageBelow("a"); below != "b" {
		t.Errorf("expected b below a after removal, got %s", below)
	}
	if _, err := store.RemovePage(rec.ID); !errors.Is(err, page.ErrPageNotFound) {
		t.Errorf("expected ErrPageNotFound, got %v", err)
	}

	snap, _ := store.Snapshot()
	if err := snap.CheckReferences(); err != nil {
		t.Errorf("document inconsistent after mutations: %v", err)
	}
}

func TestStore_AddStack(t *testing.T) {
	store := NewStore(createTestDocument())
	if _, err := store.AddStack(page.Stack{ID: "s3", Name: "New"}); err != nil {
		t.Fatalf("AddStack: %v", err)
	}
	if _, ok := store.TopOfStack("s3"); ok {
		t.Error("expected new stack to be empty")
	}
	renamed, err := store.AddStack(page.Stack{ID: "s1", Name: "Renamed"})
	if err != nil {
		t.Fatalf("AddStack upsert: %v", err)
	}
	if renamed.Name != "Renamed" || len(renamed.PageIDs) != 3 {
		t.Errorf("upsert lost pages or name: %+v", renamed)
	}
	if _, err := store.AddStack(page.Stack{ID: "s4"}); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestStore_ReplaceReportsChanges(t *testing.T) {
	store := NewStore(createTestDocument())
	var changed, removed []page.ID
	store.OnReplace(func(c, r []page.ID) { changed, removed = c, r })

	doc := createTestDocument()
	doc.Metadata.LastUpdate = 3000
	doc.Pages[1].Background = page.Ruled(map[string]string{page.ParamSpacing: "30"})
	doc.Pages[1].Generation = 2
	doc.Stacks[1].PageIDs = []page.ID{}
	doc.Pages = doc.Pages[:3]

	store.MarkDirty()
	if err := store.Replace(doc); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(changed) != 1 || changed[0] != "b" {
		t.Errorf("expected b changed, got %v", changed)
	}
	if len(removed) != 1 || removed[0] != "x" {
		t.Errorf("expected x removed, got %v", removed)
	}
	if store.IsDirty() {
		t.Error("expected Replace to clear the dirty flag")
	}
	if store.GetLastUpdate() != 3000 {
		t.Errorf("expected lastUpdate 3000, got %d", store.GetLastUpdate())
	}
}

func TestStore_ReplaceBumpsGenerationOfEditedBackground(t *testing.T) {
	store := NewStore(createTestDocument())
	var changed []page.ID
	store.OnReplace(func(c, _ []page.ID) { changed = c })

	doc := createTestDocument()
	prev := doc.Pages[1].Generation
	doc.Pages[1].Background = page.Ruled(map[string]string{page.ParamSpacing: "40"})

	if err := store.Replace(doc); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	rec, ok := store.Lookup(doc.Pages[1].ID)
	if !ok {
		t.Fatal("page lost")
	}
	if rec.Generation != prev+1 {
		t.Errorf("expected generation %d, got %d", prev+1, rec.Generation)
	}
	if len(changed) != 1 || changed[0] != doc.Pages[1].ID {
		t.Errorf("expected %s changed, got %v", doc.Pages[1].ID, changed)
	}
	if !store.IsDirty() {
		t.Error("a bumped generation must be saved")
	}
}

func TestStore_ReplaceRejectsInconsistentDocument(t *testing.T) {
	store := NewStore(createTestDocument())
	doc := createTestDocument()
	doc.Pages[0].StackID = "ghost"
	if err := store.Replace(doc); err == nil {
		t.Error("expected reference error")
	}
	if _, ok := store.Lookup("a"); !ok {
		t.Error("failed Replace must keep the old document")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore(createTestDocument())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.SetBackground("a", page.Ruled(nil))
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Lookup("a")
			_ = store.Pages()
		}()
	}
	wg.Wait()
	if rec, _ := store.Lookup("a"); rec.Generation != 51 {
		t.Errorf("expected generation 51, got %d", rec.Generation)
	}
}

type recordingSaver struct {
	mu    sync.Mutex
	saves int
	err   error
}

func (r *recordingSaver) Save(ctx context.Context, doc *repository.DataDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saves++
	return nil
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

func TestFlush(t *testing.T) {
	store := NewStore(createTestDocument())
	saver := &recordingSaver{}

	if Flush(context.Background(), store, saver) {
		t.Error("expected clean store not to be saved")
	}
	store.MarkDirty()
	if !Flush(context.Background(), store, saver) {
		t.Fatal("expected dirty store to be saved")
	}
	if store.IsDirty() {
		t.Error("expected dirty flag cleared after save")
	}
	if store.GetLastUpdate() <= 1000 {
		t.Error("expected lastUpdate to advance")
	}
}

func TestFlush_SaveErrorKeepsDirty(t *testing.T) {
	store := NewStore(createTestDocument())
	store.MarkDirty()
	saver := &recordingSaver{err: errors.New("disk full")}
	if Flush(context.Background(), store, saver) {
		t.Error("expected failed save to report false")
	}
	if !store.IsDirty() {
		t.Error("expected store to stay dirty after a failed save")
	}
}

func TestStartPersistence_FinalFlush(t *testing.T) {
	store := NewStore(createTestDocument())
	saver := &recordingSaver{}
	ctx, cancel := context.WithCancel(context.Background())
	done := StartPersistence(ctx, store, saver, time.Hour)

	store.MarkDirty()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("persistence did not stop")
	}
	if saver.count() != 1 {
		t.Errorf("expected final flush to save once, got %d", saver.count())
	}
}

func TestStartPersistence_Tick(t *testing.T) {
	store := NewStore(createTestDocument())
	saver := &recordingSaver{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartPersistence(ctx, store, saver, 10*time.Millisecond)

	store.MarkDirty()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if saver.count() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("expected a periodic flush")
}
