package document

import (
	"fmt"
	"slices"

	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/repository"
)

// AddStack upserts a stack by id, keeping its current pages when it
// already exists.
func (s *Store) AddStack(stack page.Stack) (page.Stack, error) {
	if stack.ID == "" || stack.Name == "" {
		return page.Stack{}, fmt.Errorf("%w: stack id and name are required", page.ErrInvalidSpec)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.stackIndex(stack.ID); i >= 0 {
		s.data.Stacks[i].Name = stack.Name
		s.dirty = true
		return cloneStack(s.data.Stacks[i]), nil
	}
	stack.PageIDs = []page.ID{}
	s.data.Stacks = append(s.data.Stacks, stack)
	s.dirty = true
	return cloneStack(stack), nil
}

// AddPage inserts a page into its stack at index (appended when index is
// out of range). The page gets a fresh id when none is set and starts at
// generation 1 at the default page size unless one is given.
func (s *Store) AddPage(rec page.Record, index int) (page.Record, error) {
	if rec.Background.Kind == "" {
		rec.Background.Kind = page.KindNone
	}
	if err := rec.Background.Validate(); err != nil {
		return page.Record{}, err
	}
	if rec.ID == "" {
		rec.ID = page.NewID()
	}
	if !rec.Size.Valid() {
		rec.Size = repository.DefaultPageSize
	}
	rec.Generation = 1

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pageIndex(rec.ID) >= 0 {
		return page.Record{}, fmt.Errorf("%w: page %s already exists", page.ErrInvalidSpec, rec.ID)
	}
	si := s.stackIndex(rec.StackID)
	if si < 0 {
		return page.Record{}, fmt.Errorf("stack %q: %w", rec.StackID, page.ErrStackNotFound)
	}
	ids := s.data.Stacks[si].PageIDs
	if index < 0 || index > len(ids) {
		index = len(ids)
	}
	s.data.Stacks[si].PageIDs = slices.Insert(ids, index, rec.ID)
	s.data.Pages = append(s.data.Pages, rec.Clone())
	s.renumberLocked(si)
	s.dirty = true
	return s.data.Pages[s.pageIndex(rec.ID)].Clone(), nil
}

// RemovePage deletes a page and returns what it was.
func (s *Store) RemovePage(id page.ID) (page.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.pageIndex(id)
	if i < 0 {
		return page.Record{}, fmt.Errorf("page %s: %w", id, page.ErrPageNotFound)
	}
	rec := s.data.Pages[i]
	s.data.Pages = slices.Delete(s.data.Pages, i, i+1)
	if si := s.stackIndex(rec.StackID); si >= 0 {
		s.data.Stacks[si].PageIDs = slices.DeleteFunc(s.data.Stacks[si].PageIDs, func(p page.ID) bool { return p == id })
		s.renumberLocked(si)
	}
	s.dirty = true
	return rec, nil
}

// SetBackground replaces a page's background wholesale and advances its
// generation.
func (s *Store) SetBackground(id page.ID, spec page.BackgroundSpec) (page.Record, error) {
	if err := spec.Validate(); err != nil {
		return page.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.pageIndex(id)
	if i < 0 {
		return page.Record{}, fmt.Errorf("page %s: %w", id, page.ErrPageNotFound)
	}
	s.data.Pages[i].Background = spec.Clone()
	s.data.Pages[i].Generation++
	s.dirty = true
	return s.data.Pages[i].Clone(), nil
}

// SetIdealExportRotation records the rotation a page prefers for export.
func (s *Store) SetIdealExportRotation(id page.ID, r page.Rotation) (page.Record, error) {
	if _, err := r.MarshalText(); err != nil {
		return page.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.pageIndex(id)
	if i < 0 {
		return page.Record{}, fmt.Errorf("page %s: %w", id, page.ErrPageNotFound)
	}
	s.data.Pages[i].IdealExportRotation = r
	s.dirty = true
	return s.data.Pages[i].Clone(), nil
}

func (s *Store) renumberLocked(si int) {
	for ord, id := range s.data.Stacks[si].PageIDs {
		if i := s.pageIndex(id); i >= 0 {
			s.data.Pages[i].Order = ord
		}
	}
}
