// Package texture persists the derived files of each page background: the
// original asset, the full texture, the standard and scrapped thumbnails
// and the properties record.
//
// Every page owns one directory under the store root:
//
//	<root>/<page id>/CURRENT          name of the live version
//	<root>/<page id>/v000003/...      live version
//	<root>/<page id>/v000002/...      previous version, kept for readers
//
// A write stages a complete new version next to the live one and then
// swaps CURRENT, so readers see either every old file or every new one.
package texture

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/pattern"
	"github.com/containerd/errdefs"
	"github.com/go-playground/validator/v10"
)

const (
	currentFile    = "CURRENT"
	backgroundFile = "background.png"
	thumbFile      = "thumb.png"
	scrappedFile   = "scrapped-thumb.png"
	propertiesFile = "properties.json"
	originalPrefix = "original"
	versionPrefix  = "v"
	stagePrefix    = ".stage-"
)

// ThumbKind selects one of the two thumbnail variants.
type ThumbKind string

const (
	ThumbStandard ThumbKind = "standard"
	ThumbScrapped ThumbKind = "scrapped"
)

// Options configures a Store.
type Options struct {
	Root          string
	ThumbnailSize page.Size
	// KeepVersions is how many versions survive a write, the live one included.
	KeepVersions int
}

// Set is the input of an all-at-once background write. Nil members keep
// the file of the current version; a non-empty Original replaces the asset.
type Set struct {
	Original   string
	Full       image.Image
	Thumb      image.Image
	Scrapped   image.Image
	Properties *Properties
}

// Store is the on-disk background texture store.
type Store struct {
	root      string
	thumb     page.Size
	keep      int
	validator *validator.Validate

	mu    sync.Mutex
	locks map[page.ID]*sync.Mutex
}

// NewStore creates the root directory if needed.
func NewStore(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("texture root is required")
	}
	if !opts.ThumbnailSize.Valid() {
		return nil, fmt.Errorf("invalid thumbnail size %s", opts.ThumbnailSize)
	}
	if opts.KeepVersions < 2 {
		opts.KeepVersions = 2
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create texture root: %v", page.ErrDiskWrite, err)
	}
	return &Store{
		root:      opts.Root,
		thumb:     opts.ThumbnailSize,
		keep:      opts.KeepVersions,
		validator: validator.New(),
		locks:     map[page.ID]*sync.Mutex{},
	}, nil
}

// ThumbnailSize is the size thumbnails are written at.
func (s *Store) ThumbnailSize() page.Size { return s.thumb }

func (s *Store) pageDir(id page.ID) string {
	return filepath.Join(s.root, filepath.Base(string(id)))
}

func (s *Store) lock(id page.ID) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// current returns the live version directory, or "" when the page has none.
func (s *Store) current(id page.ID) string {
	data, err := os.ReadFile(filepath.Join(s.pageDir(id), currentFile))
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(string(data))
	if name == "" || !strings.HasPrefix(name, versionPrefix) {
		return ""
	}
	return filepath.Join(s.pageDir(id), name)
}

func (s *Store) existing(id page.ID, name string) (string, bool) {
	dir := s.current(id)
	if dir == "" {
		return "", false
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// TexturePath returns the live full texture of a page.
func (s *Store) TexturePath(id page.ID) (string, bool) {
	return s.existing(id, backgroundFile)
}

// ThumbnailPath returns the live thumbnail of the given kind.
func (s *Store) ThumbnailPath(id page.ID, kind ThumbKind) (string, bool) {
	if kind == ThumbScrapped {
		return s.existing(id, scrappedFile)
	}
	return s.existing(id, thumbFile)
}

// OriginalAssetPath returns the copy of the imported asset, if any.
func (s *Store) OriginalAssetPath(id page.ID) (string, bool) {
	dir := s.current(id)
	if dir == "" {
		return "", false
	}
	matches, _ := filepath.Glob(filepath.Join(dir, originalPrefix+".*"))
	if len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// Properties reads the live properties record.
func (s *Store) Properties(id page.ID) (Properties, error) {
	dir := s.current(id)
	if dir == "" {
		return Properties{}, fmt.Errorf("no properties for page %s: %w", id, errdefs.ErrNotFound)
	}
	return readProperties(dir)
}

func readProperties(dir string) (Properties, error) {
	data, err := os.ReadFile(filepath.Join(dir, propertiesFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Properties{}, fmt.Errorf("properties missing in %s: %w", filepath.Base(dir), errdefs.ErrNotFound)
		}
		return Properties{}, fmt.Errorf("read properties: %w", err)
	}
	var p Properties
	if err := json.Unmarshal(data, &p); err != nil {
		return Properties{}, fmt.Errorf("%w: decode properties: %v", page.ErrAssetDecode, err)
	}
	return p, nil
}

// LoadFullTexture decodes the live full texture together with the
// properties of the same version.
func (s *Store) LoadFullTexture(id page.ID) (image.Image, Properties, error) {
	dir := s.current(id)
	if dir == "" {
		return nil, Properties{}, fmt.Errorf("no texture for page %s: %w", id, errdefs.ErrNotFound)
	}
	props, err := readProperties(dir)
	if err != nil {
		return nil, Properties{}, err
	}
	path := filepath.Join(dir, backgroundFile)
	if _, err := os.Stat(path); err != nil {
		return nil, Properties{}, fmt.Errorf("no texture for page %s: %w", id, errdefs.ErrNotFound)
	}
	img, err := pattern.DecodeFile(path)
	if err != nil {
		return nil, Properties{}, err
	}
	return img, props, nil
}

// WriteFullTexture replaces the full texture. The thumbnails are derived
// from it so that the four files never disagree.
func (s *Store) WriteFullTexture(id page.ID, full image.Image) error {
	if full == nil {
		return fmt.Errorf("%w: nil texture", page.ErrInvalidSpec)
	}
	thumb := pattern.Scale(full, s.thumb)
	return s.WriteBackground(id, Set{Full: full, Thumb: thumb})
}

// WriteThumbnails replaces both thumbnails, scaled to the configured size.
// scrapped is the background with the page's scraps composited on top; nil
// reuses the standard thumbnail.
func (s *Store) WriteThumbnails(id page.ID, full, scrapped image.Image) error {
	if full == nil {
		return fmt.Errorf("%w: nil thumbnail source", page.ErrInvalidSpec)
	}
	set := Set{Thumb: pattern.Scale(full, s.thumb)}
	if scrapped != nil {
		set.Scrapped = pattern.Scale(scrapped, s.thumb)
	}
	return s.WriteBackground(id, set)
}

// WriteOriginalAsset copies an imported asset into the page directory and
// returns its stored path. sourceURL is a plain path or a file:// URL.
func (s *Store) WriteOriginalAsset(id page.ID, sourceURL string) (string, error) {
	if err := s.WriteBackground(id, Set{Original: sourceURL}); err != nil {
		return "", err
	}
	path, _ := s.OriginalAssetPath(id)
	return path, nil
}

// WriteProperties replaces the properties record.
func (s *Store) WriteProperties(id page.ID, p Properties) error {
	return s.WriteBackground(id, Set{Properties: &p})
}

// WriteBackground writes every member of set as one new version.
func (s *Store) WriteBackground(id page.ID, set Set) error {
	if id == "" {
		return fmt.Errorf("%w: empty page id", page.ErrInvalidSpec)
	}
	if set.Properties != nil {
		if err := s.validator.Struct(set.Properties); err != nil {
			return fmt.Errorf("%w: properties: %v", page.ErrInvalidSpec, err)
		}
	}
	var src *os.File
	if set.Original != "" {
		path, err := page.LocalPath(set.Original)
		if err != nil {
			return err
		}
		if src, err = os.Open(path); err != nil {
			return fmt.Errorf("%w: open original asset: %v", page.ErrAssetDecode, err)
		}
		defer src.Close()
	}

	unlock := s.lock(id)
	defer unlock()

	log := logger.WithPage("texture", string(id))
	pageDir := s.pageDir(id)
	if err := os.MkdirAll(pageDir, 0o755); err != nil {
		return fmt.Errorf("%w: create page dir: %v", page.ErrDiskWrite, err)
	}

	cur := s.current(id)
	stage, err := os.MkdirTemp(pageDir, stagePrefix)
	if err != nil {
		return fmt.Errorf("%w: create stage: %v", page.ErrDiskWrite, err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(stage)
		}
	}()

	if cur != "" {
		if err := carryOver(cur, stage, set); err != nil {
			return fmt.Errorf("%w: carry over %s: %v", page.ErrDiskWrite, filepath.Base(cur), err)
		}
	}
	if src != nil {
		name := originalPrefix + strings.ToLower(filepath.Ext(src.Name()))
		if err := writeFile(stage, name, func(w io.Writer) error {
			_, err := io.Copy(w, src)
			return err
		}); err != nil {
			return fmt.Errorf("%w: write original asset: %v", page.ErrDiskWrite, err)
		}
	}
	for name, img := range map[string]image.Image{backgroundFile: set.Full, thumbFile: set.Thumb, scrappedFile: set.Scrapped} {
		if img == nil {
			continue
		}
		if err := writeFile(stage, name, func(w io.Writer) error { return png.Encode(w, img) }); err != nil {
			return fmt.Errorf("%w: write %s: %v", page.ErrDiskWrite, name, err)
		}
	}
	// A texture without its own thumbnail falls back to a scaled copy, and
	// the scrapped variant to the standard one, so all four files exist.
	if set.Full != nil && set.Thumb == nil {
		thumb := pattern.Scale(set.Full, s.thumb)
		if err := writeFile(stage, thumbFile, func(w io.Writer) error { return png.Encode(w, thumb) }); err != nil {
			return fmt.Errorf("%w: write %s: %v", page.ErrDiskWrite, thumbFile, err)
		}
	}
	if set.Scrapped == nil && (set.Thumb != nil || set.Full != nil) {
		if err := copyFile(filepath.Join(stage, thumbFile), filepath.Join(stage, scrappedFile)); err != nil {
			return fmt.Errorf("%w: write %s: %v", page.ErrDiskWrite, scrappedFile, err)
		}
	}
	if set.Properties != nil {
		p := *set.Properties
		p.UpdatedAt = time.Now().UTC()
		if set.Full != nil {
			b := set.Full.Bounds()
			p.TextureSize = &page.Size{W: b.Dx(), H: b.Dy()}
		} else if cur != "" {
			if old, err := readProperties(cur); err == nil && p.TextureSize == nil {
				p.TextureSize = old.TextureSize
			}
		}
		payload, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return fmt.Errorf("%w: marshal properties: %v", page.ErrDiskWrite, err)
		}
		if err := writeFile(stage, propertiesFile, func(w io.Writer) error {
			_, err := w.Write(payload)
			return err
		}); err != nil {
			return fmt.Errorf("%w: write properties: %v", page.ErrDiskWrite, err)
		}
	}
	if err := syncDir(stage); err != nil {
		return fmt.Errorf("%w: sync stage: %v", page.ErrDiskWrite, err)
	}

	next := nextVersion(cur)
	nextDir := filepath.Join(pageDir, next)
	if err := os.Rename(stage, nextDir); err != nil {
		return fmt.Errorf("%w: publish %s: %v", page.ErrDiskWrite, next, err)
	}
	stage = nextDir
	if err := writeFile(pageDir, currentFile, func(w io.Writer) error {
		_, err := io.WriteString(w, next+"\n")
		return err
	}); err != nil {
		return fmt.Errorf("%w: swap current: %v", page.ErrDiskWrite, err)
	}
	committed = true

	s.prune(pageDir)
	log.Debugf("committed texture version %s", next)
	return nil
}

// Remove deletes every stored file of a page.
func (s *Store) Remove(id page.ID) error {
	unlock := s.lock(id)
	defer unlock()
	if err := os.RemoveAll(s.pageDir(id)); err != nil {
		return fmt.Errorf("%w: remove page dir: %v", page.ErrDiskWrite, err)
	}
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}

// Versions lists the version directories of a page, oldest first.
func (s *Store) Versions(id page.ID) []string {
	return versions(s.pageDir(id))
}

func (s *Store) prune(pageDir string) {
	vs := versions(pageDir)
	if len(vs) <= s.keep {
		return
	}
	for _, v := range vs[:len(vs)-s.keep] {
		if err := os.RemoveAll(filepath.Join(pageDir, v)); err != nil {
			logger.WithComponent("texture").Warnf("prune %s: %v", v, err)
		}
	}
}

func versions(pageDir string) []string {
	entries, err := os.ReadDir(pageDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), versionPrefix) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

func nextVersion(cur string) string {
	n := 0
	if cur != "" {
		n, _ = strconv.Atoi(strings.TrimPrefix(filepath.Base(cur), versionPrefix))
	}
	return fmt.Sprintf("%s%06d", versionPrefix, n+1)
}

// carryOver links the files of the current version that set does not replace.
func carryOver(from, to string, set Set) error {
	entries, err := os.ReadDir(from)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case name == backgroundFile && set.Full != nil,
			name == thumbFile && (set.Thumb != nil || set.Full != nil),
			name == scrappedFile && (set.Scrapped != nil || set.Thumb != nil || set.Full != nil),
			name == propertiesFile && set.Properties != nil,
			strings.HasPrefix(name, originalPrefix+".") && set.Original != "":
			continue
		}
		if err := os.Link(filepath.Join(from, name), filepath.Join(to, name)); err != nil {
			if err := copyFile(filepath.Join(from, name), filepath.Join(to, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeFile writes name inside dir through a temp file, fsync and rename.
func writeFile(dir, name string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()
	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFile(filepath.Dir(to), filepath.Base(to), func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
