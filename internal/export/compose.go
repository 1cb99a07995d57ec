package export

import (
	"image"

	"github.com/bassista/go_leaf/internal/page"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Composite draws layer over a copy of bg. A layer of a different size is
// scaled to the background.
func Composite(bg *image.RGBA, layer image.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, bg.Bounds().Dx(), bg.Bounds().Dy()))
	draw.Draw(out, out.Bounds(), bg, bg.Bounds().Min, draw.Src)
	if layer == nil {
		return out
	}
	if layer.Bounds().Size() == out.Bounds().Size() {
		draw.Draw(out, out.Bounds(), layer, layer.Bounds().Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(out, out.Bounds(), layer, layer.Bounds(), draw.Over, nil)
	}
	return out
}

// Rotate turns img for export. Portrait and Default leave it as is,
// LandscapeLeft turns it a quarter counter-clockwise and LandscapeRight a
// quarter clockwise. Quarter turns map pixel centers onto pixel centers,
// so nearest-neighbor sampling is lossless.
func Rotate(img *image.RGBA, rot page.Rotation) *image.RGBA {
	if !rot.IsLandscape() {
		return img
	}
	w, h := float64(img.Bounds().Dx()), float64(img.Bounds().Dy())
	var s2d f64.Aff3
	if rot == page.RotationLandscapeRight {
		// (x, y) -> (h - y, x)
		s2d = f64.Aff3{0, -1, h, 1, 0, 0}
	} else {
		// (x, y) -> (y, w - x)
		s2d = f64.Aff3{0, 1, 0, -1, 0, w}
	}
	src := img
	if src.Bounds().Min != (image.Point{}) {
		src = Composite(img, nil)
	}
	out := image.NewRGBA(image.Rect(0, 0, img.Bounds().Dy(), img.Bounds().Dx()))
	draw.NearestNeighbor.Transform(out, s2d, src, src.Bounds(), draw.Src, nil)
	return out
}
