package cache

import (
	"sort"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/visibility"
)

type candidate struct {
	key   Key
	e     *entry
	stale bool
}

// evictLocked drops bitmaps until usage fits the budget. Stale entries go
// first, then the least recently accessed. Entries of visible pages,
// entries still referenced and pending renders are never evicted.
// Visibility is asked at eviction time.
func (m *Manager) evictLocked() {
	if m.used <= m.opts.MemoryBudget {
		return
	}
	var cands []candidate
	visible := map[page.ID]bool{}
	for key, e := range m.entries {
		if e.bmp == nil || (e.state != Ready && e.state != Stale) || e.bmp.refs > 0 {
			continue
		}
		v, seen := visible[key.ID]
		if !seen {
			v = visibility.IsVisible(m.oracle, key.ID)
			visible[key.ID] = v
		}
		if v {
			continue
		}
		stale := e.state == Stale
		if !stale {
			if rec, ok := m.specs.Lookup(key.ID); !ok || rec.Generation != e.gen {
				stale = true
			}
		}
		cands = append(cands, candidate{key: key, e: e, stale: stale})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].stale != cands[j].stale {
			return cands[i].stale
		}
		return cands[i].e.access < cands[j].e.access
	})

	log := logger.WithComponent("cache")
	for _, c := range cands {
		if m.used <= m.opts.MemoryBudget {
			break
		}
		m.used -= c.e.bmp.Bytes()
		c.e.bmp = nil
		c.e.state = Evicted
		m.stats.Evictions++
		log.Debugf("evicted %s (stale=%v)", c.key, c.stale)
	}
	if m.used > m.opts.MemoryBudget {
		log.Debugf("over budget after eviction: %d > %d bytes, remaining entries are visible, referenced or pending", m.used, m.opts.MemoryBudget)
	}
}
