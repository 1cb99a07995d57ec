// Package document keeps the in-memory copy of the page document: stacks,
// their page order and each page's background and export rotation.
package document

import (
	"fmt"
	"slices"
	"sync"

	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/repository"
)

// ReplaceFunc is told which pages changed or disappeared when the whole
// document is swapped, e.g. after an external edit is reloaded.
type ReplaceFunc func(changed, removed []page.ID)

// Store keeps an in-memory copy of the document.
type Store struct {
	mu         sync.RWMutex
	data       repository.DataDocument
	dirty      bool  // true if the document changed since last persist
	lastUpdate int64 // document's metadata.lastUpdate
	onReplace  ReplaceFunc
}

// NewStore creates a store holding doc.
func NewStore(doc repository.DataDocument) *Store {
	doc.ApplyDefaults()
	return &Store{data: cloneData(doc), lastUpdate: doc.Metadata.LastUpdate}
}

// OnReplace registers the callback run after Replace.
func (s *Store) OnReplace(fn ReplaceFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReplace = fn
}

// MarkDirty sets the dirty flag to true.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

// IsDirty returns true if the document has unsaved changes.
func (s *Store) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// ClearDirty resets the dirty flag.
func (s *Store) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// GetLastUpdate returns the document's last update timestamp.
func (s *Store) GetLastUpdate() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// SetLastUpdate sets the document's last update timestamp.
func (s *Store) SetLastUpdate(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdate = ts
}

// Snapshot returns a deep copy of the document.
func (s *Store) Snapshot() (repository.DataDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := cloneData(s.data)
	doc.Metadata.LastUpdate = s.lastUpdate
	return doc, nil
}

// Replace swaps the whole document. Pages whose background generation or
// spec differs are reported to the OnReplace callback.
func (s *Store) Replace(doc repository.DataDocument) error {
	doc.ApplyDefaults()
	if err := doc.CheckReferences(); err != nil {
		return err
	}
	next := cloneData(doc)

	s.mu.Lock()
	var changed, removed []page.ID
	bumped := false
	old := make(map[page.ID]page.Record, len(s.data.Pages))
	for _, p := range s.data.Pages {
		old[p.ID] = p
	}
	for i, p := range next.Pages {
		if prev, ok := old[p.ID]; ok {
			// An edited background must not reuse a generation the cache
			// already holds bitmaps for.
			if !prev.Background.Equal(p.Background) && p.Generation <= prev.Generation {
				next.Pages[i].Generation = prev.Generation + 1
				p = next.Pages[i]
				bumped = true
			}
			if prev.Generation != p.Generation {
				changed = append(changed, p.ID)
			}
			delete(old, p.ID)
		}
	}
	for id := range old {
		removed = append(removed, id)
	}
	slices.Sort(removed)
	s.data = next
	s.lastUpdate = doc.Metadata.LastUpdate
	s.dirty = bumped
	fn := s.onReplace
	s.mu.Unlock()

	if fn != nil && (len(changed) > 0 || len(removed) > 0) {
		fn(changed, removed)
	}
	return nil
}

// Lookup returns a copy of a page record.
func (s *Store) Lookup(id page.ID) (page.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.pageIndex(id); i >= 0 {
		return s.data.Pages[i].Clone(), true
	}
	return page.Record{}, false
}

// Pages returns every page, stacks in display order and pages top first.
func (s *Store) Pages() []page.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]page.Record, 0, len(s.data.Pages))
	for _, st := range s.data.Stacks {
		for _, id := range st.PageIDs {
			if i := s.pageIndex(id); i >= 0 {
				out = append(out, s.data.Pages[i].Clone())
			}
		}
	}
	return out
}

// Stacks returns the stacks in display order.
func (s *Store) Stacks() []page.Stack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]page.Stack, len(s.data.Stacks))
	for i, st := range s.data.Stacks {
		out[i] = cloneStack(st)
	}
	return out
}

// Stack finds a stack by id, or by name when no id matches.
func (s *Store) Stack(ref string) (page.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.stackIndex(ref); i >= 0 {
		return cloneStack(s.data.Stacks[i]), nil
	}
	for _, st := range s.data.Stacks {
		if st.Name == ref {
			return cloneStack(st), nil
		}
	}
	return page.Stack{}, fmt.Errorf("stack %q: %w", ref, page.ErrStackNotFound)
}

// PagesOfStack returns the stack's pages in document order.
func (s *Store) PagesOfStack(stackID string) ([]page.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si := s.stackIndex(stackID)
	if si < 0 {
		return nil, fmt.Errorf("stack %q: %w", stackID, page.ErrStackNotFound)
	}
	out := make([]page.Record, 0, len(s.data.Stacks[si].PageIDs))
	for _, id := range s.data.Stacks[si].PageIDs {
		if i := s.pageIndex(id); i >= 0 {
			out = append(out, s.data.Pages[i].Clone())
		}
	}
	return out, nil
}

// StackName returns the name of the stack a page belongs to.
func (s *Store) StackName(id page.ID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.pageIndex(id)
	if i < 0 {
		return "", false
	}
	if si := s.stackIndex(s.data.Pages[i].StackID); si >= 0 {
		return s.data.Stacks[si].Name, true
	}
	return "", false
}

// StackOf returns the stack id of a page.
func (s *Store) StackOf(id page.ID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.pageIndex(id); i >= 0 {
		return s.data.Pages[i].StackID, true
	}
	return "", false
}

// PageBelow returns the page after id in its stack.
func (s *Store) PageBelow(id page.ID) (page.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.pageIndex(id)
	if i < 0 {
		return "", false
	}
	si := s.stackIndex(s.data.Pages[i].StackID)
	if si < 0 {
		return "", false
	}
	ids := s.data.Stacks[si].PageIDs
	pos := slices.Index(ids, id)
	if pos < 0 || pos+1 >= len(ids) {
		return "", false
	}
	return ids[pos+1], true
}

// TopOfStack returns the first page of a stack.
func (s *Store) TopOfStack(stackID string) (page.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si := s.stackIndex(stackID)
	if si < 0 || len(s.data.Stacks[si].PageIDs) == 0 {
		return "", false
	}
	return s.data.Stacks[si].PageIDs[0], true
}

// CountAllPages counts pages across every stack.
func (s *Store) CountAllPages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.Pages)
}

func (s *Store) pageIndex(id page.ID) int {
	return slices.IndexFunc(s.data.Pages, func(p page.Record) bool { return p.ID == id })
}

func (s *Store) stackIndex(id string) int {
	return slices.IndexFunc(s.data.Stacks, func(st page.Stack) bool { return st.ID == id })
}

func cloneStack(st page.Stack) page.Stack {
	st.PageIDs = slices.Clone(st.PageIDs)
	return st
}

// cloneData deep-copies the document to avoid shared slices and maps
// between the store and callers.
func cloneData(doc repository.DataDocument) repository.DataDocument {
	out := repository.DataDocument{Metadata: doc.Metadata}
	out.Stacks = make([]page.Stack, len(doc.Stacks))
	for i, st := range doc.Stacks {
		out.Stacks[i] = cloneStack(st)
	}
	out.Pages = make([]page.Record, len(doc.Pages))
	for i, p := range doc.Pages {
		out.Pages[i] = p.Clone()
	}
	return out
}
