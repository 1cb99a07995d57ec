// Package visibility answers which pages the host currently shows and which
// ones are worth keeping a rendered background for.
package visibility

import (
	"github.com/bassista/go_leaf/internal/page"
)

// Oracle is the query surface over host presentation state. Answers may
// change between two consecutive calls; callers never cache them.
type Oracle interface {
	IsShowingPageView() bool
	IsShowingListView() bool
	// IsVisibleInPageView reports whether id is the page on screen in page view.
	IsVisibleInPageView(id page.ID) bool
	// IsVisibleInList reports whether id has a visible row in list view.
	IsVisibleInList(id page.ID) bool
	IsInCollapsedStack(stackID string) bool
	PagesInBezelGesture() []page.ID
	PageBelow(id page.ID) (page.ID, bool)
	CountAllPages() int
	// TopPage is the page shown in page view.
	TopPage() (page.ID, bool)
	// VisibleListPages lists visible list rows in display order; a
	// collapsed stack contributes only its top page.
	VisibleListPages() []page.ID
}

// IsVisible reports whether a page is on screen in the current mode or
// being dragged.
func IsVisible(o Oracle, id page.ID) bool {
	if o.IsShowingPageView() && o.IsVisibleInPageView(id) {
		return true
	}
	if o.IsShowingListView() && o.IsVisibleInList(id) {
		return true
	}
	for _, p := range o.PagesInBezelGesture() {
		if p == id {
			return true
		}
	}
	return false
}

// Target is a (page, size) pair the cache should hold Ready.
type Target struct {
	ID   page.ID
	Size page.Size
}

// Sizes configures Relevant.
type Sizes struct {
	Page      page.Size
	Thumbnail page.Size
	// PrefetchRadius is how many pages below the top page are kept warm.
	PrefetchRadius int
}

// Relevant computes the targets worth rendering right now: the top page
// and its prefetch chain in page view, visible rows in list view, and
// every page of an active bezel gesture. The order is deterministic and
// targets are unique.
func Relevant(o Oracle, s Sizes) []Target {
	var out []Target
	seen := map[Target]bool{}
	add := func(id page.ID, size page.Size) {
		t := Target{ID: id, Size: size}
		if id == "" || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}

	if o.IsShowingPageView() {
		if top, ok := o.TopPage(); ok {
			add(top, s.Page)
			cur := top
			visited := map[page.ID]bool{top: true}
			for i := 0; i < s.PrefetchRadius; i++ {
				below, ok := o.PageBelow(cur)
				if !ok || visited[below] {
					break
				}
				visited[below] = true
				add(below, s.Page)
				cur = below
			}
		}
	}
	if o.IsShowingListView() {
		for _, id := range o.VisibleListPages() {
			add(id, s.Thumbnail)
		}
	}
	for _, id := range o.PagesInBezelGesture() {
		add(id, s.Page)
	}
	return out
}
