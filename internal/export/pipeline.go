// Package export turns pages into shareable PNG or PDF artifacts: the
// cached background, the ink layer on top, rotated to the export
// orientation.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/bassista/go_leaf/internal/cache"
	"github.com/bassista/go_leaf/internal/ink"
	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/visibility"
)

// Format is the artifact file type.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatPNG Format = "png"
)

// ParseFormat accepts "pdf" and "png"; the empty string means pdf.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatPNG:
		return FormatPNG, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", page.ErrInvalidSpec, s)
}

// Backgrounds hands out Ready backgrounds. cache.Manager implements it.
type Backgrounds interface {
	Acquire(ctx context.Context, key cache.Key) (*cache.Bitmap, error)
}

// Document is the part of the page document exports read.
type Document interface {
	Lookup(id page.ID) (page.Record, bool)
	Stack(ref string) (page.Stack, error)
	PagesOfStack(stackID string) ([]page.Record, error)
	StackName(id page.ID) (string, bool)
}

// Options configures a Pipeline.
type Options struct {
	Dir             string
	URLPrefix       string
	DefaultRotation page.Rotation
	// ImageScale multiplies the page size in points to get export pixels.
	ImageScale float64
}

// Artifact is a finished export.
type Artifact struct {
	Name      string    `json:"name" yaml:"name"`
	Path      string    `json:"path" yaml:"path"`
	URL       string    `json:"url" yaml:"url"`
	Format    Format    `json:"format" yaml:"format"`
	Pages     int       `json:"pages" yaml:"pages"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// PageFailure is a page that could not be exported as part of a stack.
type PageFailure struct {
	Page page.ID `json:"page" yaml:"page"`
	Err  error   `json:"-" yaml:"-"`
	// Message is Err rendered for reports.
	Message string `json:"error" yaml:"error"`
}

// StackResult is the outcome of a stack export. Artifact is nil when the
// export was cancelled or every page failed.
type StackResult struct {
	Artifact  *Artifact     `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Exported  int           `json:"exported" yaml:"exported"`
	Total     int           `json:"total" yaml:"total"`
	Failures  []PageFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	Cancelled bool          `json:"cancelled" yaml:"cancelled"`
}

// ProgressFunc is called after every page with the number of pages
// handled so far. Returning false stops the export after that page.
type ProgressFunc func(done, total int) bool

// RotationFunc picks an explicit rotation per page; RotationDefault
// defers to the page's ideal rotation.
type RotationFunc func(page.Record) page.Rotation

// Pipeline exports pages.
type Pipeline struct {
	bg     Backgrounds
	doc    Document
	oracle visibility.Oracle
	ink    ink.Source
	opts   Options

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewPipeline wires a pipeline. oracle and ink may be nil; without an
// oracle ExportVisible always fails.
func NewPipeline(bg Backgrounds, doc Document, oracle visibility.Oracle, src ink.Source, opts Options) (*Pipeline, error) {
	if bg == nil || doc == nil {
		return nil, errors.New("background source and document are required")
	}
	if opts.Dir == "" {
		return nil, errors.New("export directory is required")
	}
	if opts.ImageScale <= 0 {
		opts.ImageScale = 1
	}
	if opts.URLPrefix == "" {
		opts.URLPrefix = "/artifacts/"
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create export dir: %v", page.ErrDiskWrite, err)
	}
	return &Pipeline{bg: bg, doc: doc, oracle: oracle, ink: src, opts: opts, tasks: map[string]*Task{}}, nil
}

// Options returns the configuration the pipeline runs with.
func (p *Pipeline) Options() Options { return p.opts }

// ExportPage exports a single page. rotation overrides the page's ideal
// export rotation unless it is RotationDefault.
func (p *Pipeline) ExportPage(ctx context.Context, id page.ID, rotation page.Rotation, format Format) (*Artifact, error) {
	rec, ok := p.doc.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("page %s: %w", id, page.ErrPageNotFound)
	}
	log := logger.WithPage("export", string(id))
	rot := page.Resolve(rotation, rec.IdealExportRotation, p.opts.DefaultRotation)

	img, err := p.compose(ctx, rec, rot)
	if err != nil {
		log.Warnf("export failed: %v", err)
		return nil, err
	}

	base := string(id)
	if name, ok := p.doc.StackName(id); ok && name != "" {
		base = name
	}
	out, err := p.newWriter(base, format)
	if err != nil {
		return nil, err
	}
	if err := out.add(img, p.opts.ImageScale); err != nil {
		out.abort()
		return nil, err
	}
	art, err := out.finish()
	if err != nil {
		return nil, err
	}
	log.Infof("exported %s as %s (%s)", art.Name, rot, format)
	return art, nil
}

// ExportVisible exports the page the host shows in page view.
func (p *Pipeline) ExportVisible(ctx context.Context, rotation page.Rotation, format Format) (*Artifact, error) {
	if p.oracle == nil {
		return nil, fmt.Errorf("no visible page: %w", page.ErrPageNotFound)
	}
	top, ok := p.oracle.TopPage()
	if !ok {
		return nil, fmt.Errorf("no visible page: %w", page.ErrPageNotFound)
	}
	return p.ExportPage(ctx, top, rotation, format)
}

// ExportStack exports every page of a stack, in document order, into one
// PDF. A page that fails is recorded and skipped; the export fails only
// when no page succeeds. Stopping through progress or ctx ends the export
// after the current page with ErrExportCancelled and no artifact.
func (p *Pipeline) ExportStack(ctx context.Context, stackRef string, rotationFor RotationFunc, progress ProgressFunc) (*StackResult, error) {
	stack, err := p.doc.Stack(stackRef)
	if err != nil {
		return nil, err
	}
	recs, err := p.doc.PagesOfStack(stack.ID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: stack %q has no pages", page.ErrInvalidSpec, stack.Name)
	}
	log := logger.WithComponent("export").WithField("stack", stack.ID)

	out, err := p.newWriter(stack.Name, FormatPDF)
	if err != nil {
		return nil, err
	}
	res := &StackResult{Total: len(recs)}
	cancelled := func() (*StackResult, error) {
		out.abort()
		res.Cancelled = true
		log.Infof("stack export cancelled after %d of %d pages", res.Exported+len(res.Failures), res.Total)
		return res, page.ErrExportCancelled
	}

	for i, rec := range recs {
		if ctx.Err() != nil {
			return cancelled()
		}
		override := page.RotationDefault
		if rotationFor != nil {
			override = rotationFor(rec)
		}
		rot := page.Resolve(override, rec.IdealExportRotation, p.opts.DefaultRotation)

		img, err := p.compose(ctx, rec, rot)
		if err == nil {
			err = out.add(img, p.opts.ImageScale)
		}
		switch {
		case err != nil && ctx.Err() != nil:
			return cancelled()
		case err != nil:
			log.Warnf("page %s failed: %v", rec.ID, err)
			res.Failures = append(res.Failures, PageFailure{Page: rec.ID, Err: err, Message: err.Error()})
		default:
			res.Exported++
		}

		if progress != nil && !progress(i+1, len(recs)) {
			return cancelled()
		}
	}

	if res.Exported == 0 {
		out.abort()
		errs := make([]error, len(res.Failures))
		for i, f := range res.Failures {
			errs[i] = f.Err
		}
		return res, fmt.Errorf("export stack %q: every page failed: %w", stack.Name, errors.Join(errs...))
	}
	art, err := out.finish()
	if err != nil {
		return res, err
	}
	res.Artifact = art
	log.Infof("exported %d/%d pages to %s", res.Exported, res.Total, art.Name)
	return res, nil
}

// exportSize is the pixel size of the unrotated page.
func (p *Pipeline) exportSize(rec page.Record) page.Size {
	return rec.Size.Scale(p.opts.ImageScale)
}

func (p *Pipeline) compose(ctx context.Context, rec page.Record, rot page.Rotation) (*image.RGBA, error) {
	size := p.exportSize(rec)
	if !size.Valid() {
		return nil, fmt.Errorf("%w: page %s has no size", page.ErrInvalidSpec, rec.ID)
	}
	bmp, err := p.bg.Acquire(ctx, cache.Key{ID: rec.ID, Size: size})
	if err != nil {
		return nil, err
	}
	defer bmp.Release()

	var layer image.Image
	if p.ink != nil {
		if layer, err = p.ink.Ink(ctx, rec.ID); err != nil {
			return nil, err
		}
	}
	return Rotate(Composite(bmp.Image, layer), rot), nil
}
