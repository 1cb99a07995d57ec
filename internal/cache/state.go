package cache

import (
	"fmt"

	"github.com/bassista/go_leaf/internal/page"
)

// Key identifies a cache entry: one page at one pixel size.
type Key struct {
	ID   page.ID   `json:"id"`
	Size page.Size `json:"size"`
}

func (k Key) String() string { return fmt.Sprintf("%s@%s", k.ID, k.Size) }

// State is the lifecycle position of a key.
type State int

const (
	Absent State = iota
	Pending
	Ready
	Stale
	Evicted
)

var stateNames = [...]string{"absent", "pending", "ready", "stale", "evicted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
