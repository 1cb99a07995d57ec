package export

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/bassista/go_leaf/internal/page"
	"github.com/go-pdf/fpdf"
)

// artifactWriter collects composed pages into one file.
type artifactWriter interface {
	add(img *image.RGBA, scale float64) error
	finish() (*Artifact, error)
	abort()
}

var now = time.Now

func (p *Pipeline) newWriter(base string, format Format) (artifactWriter, error) {
	name := FileName(base, format, now())
	tmp, err := os.CreateTemp(p.opts.Dir, ".export-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", page.ErrDiskWrite, err)
	}
	f := &fileTarget{p: p, tmp: tmp, name: name, format: format}
	switch format {
	case FormatPNG:
		return &pngWriter{fileTarget: f}, nil
	case FormatPDF:
		pdf := fpdf.New("P", "pt", "A4", "")
		pdf.SetMargins(0, 0, 0)
		pdf.SetAutoPageBreak(false, 0)
		pdf.SetCreator("go_leaf", true)
		pdf.SetTitle(base, true)
		return &pdfWriter{fileTarget: f, pdf: pdf}, nil
	}
	f.abort()
	return nil, fmt.Errorf("%w: unknown export format %q", page.ErrInvalidSpec, format)
}

// fileTarget is the temp file an artifact is written to before it is
// renamed into place.
type fileTarget struct {
	p      *Pipeline
	tmp    *os.File
	name   string
	format Format
	pages  int
}

func (f *fileTarget) abort() {
	f.tmp.Close()
	os.Remove(f.tmp.Name())
}

func (f *fileTarget) commit() (*Artifact, error) {
	if err := f.tmp.Sync(); err != nil {
		f.abort()
		return nil, fmt.Errorf("%w: sync artifact: %v", page.ErrDiskWrite, err)
	}
	if err := f.tmp.Close(); err != nil {
		os.Remove(f.tmp.Name())
		return nil, fmt.Errorf("%w: close artifact: %v", page.ErrDiskWrite, err)
	}
	name, err := publish(f.tmp.Name(), f.p.opts.Dir, f.name)
	os.Remove(f.tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: publish artifact: %v", page.ErrDiskWrite, err)
	}
	path := filepath.Join(f.p.opts.Dir, name)
	return &Artifact{
		Name:      name,
		Path:      path,
		URL:       f.p.opts.URLPrefix + name,
		Format:    f.format,
		Pages:     f.pages,
		CreatedAt: now(),
	}, nil
}

type pngWriter struct {
	*fileTarget
}

func (w *pngWriter) add(img *image.RGBA, _ float64) error {
	if w.pages > 0 {
		return errors.New("png artifacts hold a single page")
	}
	if err := png.Encode(w.tmp, img); err != nil {
		return fmt.Errorf("%w: encode png: %v", page.ErrDiskWrite, err)
	}
	w.pages++
	return nil
}

func (w *pngWriter) finish() (*Artifact, error) {
	if w.pages == 0 {
		w.abort()
		return nil, fmt.Errorf("%w: nothing to write", page.ErrRender)
	}
	return w.commit()
}

type pdfWriter struct {
	*fileTarget
	pdf *fpdf.Fpdf
}

// add places img on a page sized to the image in points, so the page has
// the document's size in its export orientation.
func (w *pdfWriter) add(img *image.RGBA, scale float64) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("%w: encode page image: %v", page.ErrRender, err)
	}
	wd := float64(img.Bounds().Dx()) / scale
	ht := float64(img.Bounds().Dy()) / scale
	name := fmt.Sprintf("page-%d", w.pages+1)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	// "L" would swap the given dimensions; the size already carries the
	// orientation.
	w.pdf.AddPageFormat("P", fpdf.SizeType{Wd: wd, Ht: ht})
	w.pdf.RegisterImageOptionsReader(name, opts, &buf)
	w.pdf.ImageOptions(name, 0, 0, wd, ht, false, opts, 0, "")
	if err := w.pdf.Error(); err != nil {
		return fmt.Errorf("%w: pdf page: %v", page.ErrRender, err)
	}
	w.pages++
	return nil
}

func (w *pdfWriter) finish() (*Artifact, error) {
	if w.pages == 0 {
		w.abort()
		return nil, fmt.Errorf("%w: nothing to write", page.ErrRender)
	}
	if err := w.pdf.Output(w.tmp); err != nil {
		w.abort()
		return nil, fmt.Errorf("%w: write pdf: %v", page.ErrDiskWrite, err)
	}
	return w.commit()
}

// FileName is the share name of an artifact: a slug of base followed by
// the export time.
func FileName(base string, format Format, at time.Time) string {
	return fmt.Sprintf("%s-%s.%s", Slug(base), at.Format("20060102-150405"), format)
}

// Slug lowercases s and keeps letters and digits, joining runs of
// anything else with a single dash.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	out := b.String()
	if r := []rune(out); len(r) > 64 {
		out = strings.TrimRight(string(r[:64]), "-")
	}
	if out == "" {
		return "page"
	}
	return out
}

// publish links tmp into dir under name, appending a counter while the
// name is taken. The link fails when the name exists, so concurrent
// exports never claim the same file. tmp is left for the caller to remove.
func publish(tmp, dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 2; ; i++ {
		err := os.Link(tmp, filepath.Join(dir, candidate))
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}
