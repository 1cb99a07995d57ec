package repository

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/bassista/go_leaf/internal/page"
)

// DefaultPageSize is applied to pages persisted without a size, in points.
var DefaultPageSize = page.Size{W: 768, H: 1024}

// Metadata holds versioning info for optimistic locking.
type Metadata struct {
	LastUpdate int64 `json:"lastUpdate"` // Unix timestamp in milliseconds
}

// DataDocument represents the persisted document: stacks in display order,
// each listing its pages top first, and the page records.
type DataDocument struct {
	Metadata Metadata      `json:"metadata"`
	Stacks   []page.Stack  `json:"stacks" validate:"dive"`
	Pages    []page.Record `json:"pages" validate:"dive"`
}

// ApplyDefaults sets fallback values after decode.
func (d *DataDocument) ApplyDefaults() {
	if d.Stacks == nil {
		d.Stacks = []page.Stack{}
	}
	if d.Pages == nil {
		d.Pages = []page.Record{}
	}
	for si := range d.Stacks {
		if d.Stacks[si].PageIDs == nil {
			d.Stacks[si].PageIDs = []page.ID{}
		}
	}
	for pi := range d.Pages {
		applyPageDefaults(&d.Pages[pi])
	}
}

func applyPageDefaults(p *page.Record) {
	if p.Background.Kind == "" {
		p.Background.Kind = page.KindNone
	}
	if !p.Size.Valid() {
		p.Size = DefaultPageSize
	}
	if p.Generation == 0 {
		p.Generation = 1
	}
}

// CheckReferences verifies what struct tags cannot: every page belongs to
// an existing stack that lists it exactly once, and ids are unique.
func (d *DataDocument) CheckReferences() error {
	stacks := make(map[string]map[page.ID]bool, len(d.Stacks))
	for _, s := range d.Stacks {
		if _, dup := stacks[s.ID]; dup {
			return fmt.Errorf("duplicate stack id %q", s.ID)
		}
		members := make(map[page.ID]bool, len(s.PageIDs))
		for _, id := range s.PageIDs {
			if members[id] {
				return fmt.Errorf("stack %q lists page %q twice", s.ID, id)
			}
			members[id] = true
		}
		stacks[s.ID] = members
	}
	seen := make(map[page.ID]bool, len(d.Pages))
	for _, p := range d.Pages {
		if seen[p.ID] {
			return fmt.Errorf("duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
		members, ok := stacks[p.StackID]
		if !ok {
			return fmt.Errorf("page %q references unknown stack %q", p.ID, p.StackID)
		}
		if !members[p.ID] {
			return fmt.Errorf("page %q is missing from stack %q", p.ID, p.StackID)
		}
	}
	for sid, members := range stacks {
		for id := range members {
			if !seen[id] {
				return fmt.Errorf("stack %q lists unknown page %q", sid, id)
			}
		}
	}
	return nil
}

// AreDataDocumentsEqual compares two DataDocuments ignoring Metadata.
// Uses JSON serialization for flexible comparison (order-independent for object keys).
func AreDataDocumentsEqual(a, b *DataDocument) bool {
	if a == nil || b == nil {
		return a == b
	}

	aBytes, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bBytes, err := json.Marshal(b)
	if err != nil {
		return false
	}

	var aMap, bMap map[string]any
	if err := json.Unmarshal(aBytes, &aMap); err != nil {
		return false
	}
	if err := json.Unmarshal(bBytes, &bMap); err != nil {
		return false
	}
	delete(aMap, "metadata")
	delete(bMap, "metadata")

	return reflect.DeepEqual(aMap, bMap)
}
