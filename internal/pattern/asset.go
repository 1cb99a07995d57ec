package pattern

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// AssetRenderer fits an imported image to the requested size.
type AssetRenderer struct {
	cfg   Config
	paper color.Color
}

func NewAssetRenderer(cfg Config) *AssetRenderer {
	paper, err := parseColor(cfg.Paper)
	if err != nil {
		paper, _ = parseColor(DefaultConfig().Paper)
	}
	return &AssetRenderer{cfg: cfg, paper: paper.Color()}
}

func (r *AssetRenderer) Render(ctx context.Context, spec page.BackgroundSpec, size page.Size) (*image.RGBA, error) {
	if !size.Valid() {
		return nil, fmt.Errorf("%w: invalid size %s", page.ErrRender, size)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	path, err := page.LocalPath(spec.Source())
	if err != nil {
		return nil, err
	}
	src, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paper := r.paper
	if override, ok := spec.Params[page.ParamPaper]; ok && override != "" {
		c, err := parseColor(override)
		if err != nil {
			return nil, err
		}
		paper = c.Color()
	}

	out := image.NewRGBA(image.Rect(0, 0, size.W, size.H))
	xdraw.Draw(out, out.Bounds(), image.NewUniform(paper), image.Point{}, xdraw.Src)

	dst, srcRect := Fit(src.Bounds(), size, r.cfg.Fit)
	xdraw.CatmullRom.Scale(out, dst, src, srcRect, xdraw.Over, nil)

	logger.WithComponent("render").Debugf("fitted asset %s (%dx%d) to %s with %s", path, src.Bounds().Dx(), src.Bounds().Dy(), size, r.cfg.Fit)
	return out, nil
}

// Fit computes where an image with bounds src lands inside a target of the
// given size: the destination rectangle and the part of src that is used.
// Letterbox keeps all of src and leaves bars; crop fills the target and
// trims src around its center.
func Fit(src image.Rectangle, size page.Size, policy FitPolicy) (dst, used image.Rectangle) {
	sw, sh := src.Dx(), src.Dy()
	full := image.Rect(0, 0, size.W, size.H)
	if sw <= 0 || sh <= 0 {
		return full, src
	}
	// Compare aspect ratios without floating point: sw/sh vs W/H.
	wider := int64(sw)*int64(size.H) > int64(size.W)*int64(sh)

	if policy == FitCrop {
		if wider {
			cw := int(int64(sh) * int64(size.W) / int64(size.H))
			x0 := src.Min.X + (sw-cw)/2
			return full, image.Rect(x0, src.Min.Y, x0+cw, src.Max.Y)
		}
		ch := int(int64(sw) * int64(size.H) / int64(size.W))
		y0 := src.Min.Y + (sh-ch)/2
		return full, image.Rect(src.Min.X, y0, src.Max.X, y0+ch)
	}

	if wider {
		h := int(int64(size.W) * int64(sh) / int64(sw))
		y0 := (size.H - h) / 2
		return image.Rect(0, y0, size.W, y0+h), src
	}
	w := int(int64(size.H) * int64(sw) / int64(sh))
	x0 := (size.W - w) / 2
	return image.Rect(x0, 0, x0+w, size.H), src
}

// DecodeFile decodes an image file in any registered format.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", page.ErrAssetDecode, path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a whole image. Truncated or unknown data fails with
// ErrAssetDecode.
func Decode(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", page.ErrAssetDecode, err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", page.ErrAssetDecode, err)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, fmt.Errorf("%w: empty %s image", page.ErrAssetDecode, format)
	}
	return img, nil
}

// Scale resizes src to exactly size, ignoring aspect ratio. Used for
// thumbnails and for reusing a persisted texture at another size.
func Scale(src image.Image, size page.Size) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, size.W, size.H))
	if src.Bounds().Dx() == size.W && src.Bounds().Dy() == size.H {
		xdraw.Draw(out, out.Bounds(), src, src.Bounds().Min, xdraw.Src)
		return out
	}
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return out
}

// Stamp copies the part of a rendered background under rect, so a scrap
// cut from the page carries the paper it was cut from. The result is
// anchored at the origin; parts of rect outside bg stay transparent.
func Stamp(bg image.Image, rect image.Rectangle) *image.RGBA {
	rect = rect.Canon()
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	inter := rect.Intersect(bg.Bounds())
	if inter.Empty() {
		return out
	}
	dst := inter.Sub(rect.Min)
	xdraw.Draw(out, dst, bg, inter.Min, xdraw.Src)
	return out
}
