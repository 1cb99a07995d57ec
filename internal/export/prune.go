package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
)

// Prune removes artifacts and finished tasks older than maxAge, plus
// temp files left by an interrupted export. It returns how many files
// were removed.
func (p *Pipeline) Prune(maxAge time.Duration) (int, error) {
	cutoff := now().Add(-maxAge)
	entries, err := os.ReadDir(p.opts.Dir)
	if err != nil {
		return 0, fmt.Errorf("%w: read export dir: %v", page.ErrDiskWrite, err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, ".export-") && !isArtifact(name) {
			continue
		}
		if err := os.Remove(filepath.Join(p.opts.Dir, name)); err != nil {
			logger.WithComponent("janitor").Warnf("cannot remove %s: %v", name, err)
			continue
		}
		removed++
	}
	tasks := p.forgetTasks(cutoff)
	logger.WithComponent("janitor").Debugf("pruned %d artifacts and %d tasks older than %v", removed, tasks, maxAge)
	return removed, nil
}

func isArtifact(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return ext == string(FormatPDF) || ext == string(FormatPNG)
}
