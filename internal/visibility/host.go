package visibility

import (
	"fmt"
	"slices"
	"sync"

	"github.com/bassista/go_leaf/internal/page"
)

// Mode is the host's presentation mode.
type Mode string

const (
	ModePage Mode = "page"
	ModeList Mode = "list"
)

// Directory is the page ordering the oracle reads at call time.
type Directory interface {
	PageBelow(id page.ID) (page.ID, bool)
	StackOf(id page.ID) (string, bool)
	TopOfStack(stackID string) (page.ID, bool)
	CountAllPages() int
}

// Update is a snapshot of host presentation state.
type Update struct {
	Mode            Mode      `json:"mode" validate:"required,oneof=page list"`
	TopPage         page.ID   `json:"topPage,omitempty"`
	ListPages       []page.ID `json:"listPages,omitempty"`
	CollapsedStacks []string  `json:"collapsedStacks,omitempty"`
	BezelPages      []page.ID `json:"bezelPages,omitempty"`
}

// HostState is an Oracle fed by host snapshots. Ordering questions are
// answered from the Directory on every call.
type HostState struct {
	dir Directory

	mu        sync.RWMutex
	mode      Mode
	top       page.ID
	list      []page.ID
	collapsed map[string]bool
	bezel     []page.ID
}

// NewHostState starts in page view with nothing on screen.
func NewHostState(dir Directory) *HostState {
	return &HostState{dir: dir, mode: ModePage, collapsed: map[string]bool{}}
}

// Apply replaces the snapshot wholesale.
func (h *HostState) Apply(u Update) error {
	switch u.Mode {
	case ModePage, ModeList:
	default:
		return fmt.Errorf("%w: unknown presentation mode %q", page.ErrInvalidSpec, u.Mode)
	}
	collapsed := make(map[string]bool, len(u.CollapsedStacks))
	for _, s := range u.CollapsedStacks {
		collapsed[s] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.mode = u.Mode
	h.top = u.TopPage
	h.list = slices.Clone(u.ListPages)
	h.collapsed = collapsed
	h.bezel = slices.Clone(u.BezelPages)
	return nil
}

// Snapshot returns the last applied update.
func (h *HostState) Snapshot() Update {
	h.mu.RLock()
	defer h.mu.RUnlock()
	u := Update{
		Mode:       h.mode,
		TopPage:    h.top,
		ListPages:  slices.Clone(h.list),
		BezelPages: slices.Clone(h.bezel),
	}
	for s := range h.collapsed {
		u.CollapsedStacks = append(u.CollapsedStacks, s)
	}
	slices.Sort(u.CollapsedStacks)
	return u
}

func (h *HostState) IsShowingPageView() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mode == ModePage
}

func (h *HostState) IsShowingListView() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.mode == ModeList
}

func (h *HostState) IsVisibleInPageView(id page.ID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.top != "" && h.top == id
}

func (h *HostState) IsVisibleInList(id page.ID) bool {
	return slices.Contains(h.VisibleListPages(), id)
}

func (h *HostState) IsInCollapsedStack(stackID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.collapsed[stackID]
}

func (h *HostState) PagesInBezelGesture() []page.ID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.bezel)
}

func (h *HostState) PageBelow(id page.ID) (page.ID, bool) {
	return h.dir.PageBelow(id)
}

func (h *HostState) CountAllPages() int {
	return h.dir.CountAllPages()
}

func (h *HostState) TopPage() (page.ID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.top, h.top != ""
}

func (h *HostState) VisibleListPages() []page.ID {
	h.mu.RLock()
	list := slices.Clone(h.list)
	collapsed := h.collapsed
	h.mu.RUnlock()

	out := list[:0]
	for _, id := range list {
		stack, ok := h.dir.StackOf(id)
		if ok && collapsed[stack] {
			if top, ok := h.dir.TopOfStack(stack); !ok || top != id {
				continue
			}
		}
		out = append(out, id)
	}
	return out
}
