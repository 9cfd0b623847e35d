// Package scantest renders synthetic sheet pages for recognition tests.
// It draws from the same layout the scanner reads.
package scantest

import (
	"image"
	"image/color"
	"os"

	"github.com/disintegration/imaging"

	"github.com/edumark/sheetscan/internal/scan"
)

// Page describes the content of a synthetic page.
type Page struct {
	Userkey uint32
	Group   int
	Page    int
	// Checked[r] lists the box numbers marked in row r. Rows absent from
	// the map are left blank.
	Checked map[int][]int

	// OmitCorners drops the corner reference marks.
	OmitCorners bool
	// OmitFlip drops the flip indicator.
	OmitFlip bool
	// UpsideDown rotates the rendered page 180 degrees.
	UpsideDown bool
}

// Render draws a page onto a white canvas of the layout's size.
func Render(l scan.Layout, p Page) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, l.Width, l.Height))
	fill(img, img.Bounds(), 255)

	if !p.OmitCorners {
		for i := 0; i < 4; i++ {
			fill(img, l.CornerRect(i), 0)
		}
	}
	if !p.OmitFlip {
		fill(img, l.FlipRect(), 0)
	}

	drawStrip(img, l, l.UserkeyX, scan.EncodeBits(p.Userkey, l.UserkeyBits))
	meta := append(
		scan.EncodeBits(uint32(p.Group), l.GroupBits),
		scan.EncodeBits(uint32(p.Page), l.PageBits)...)
	drawStrip(img, l, l.MetaX, meta)

	for r := 0; r < l.RowCount; r++ {
		for b := 0; b < l.BoxesPerRow; b++ {
			outline(img, l.BoxRect(r, b), l.BoxOutline)
		}
	}
	for r, boxes := range p.Checked {
		for _, b := range boxes {
			fill(img, l.BoxRect(r, b), 0)
		}
	}

	if p.UpsideDown {
		rotated := imaging.Rotate180(img)
		out := image.NewGray(img.Bounds())
		for y := 0; y < l.Height; y++ {
			for x := 0; x < l.Width; x++ {
				out.Set(x, y, color.GrayModel.Convert(rotated.At(x, y)))
			}
		}
		return out
	}
	return img
}

// RenderToFile renders a page and writes it as PNG.
func RenderToFile(l scan.Layout, p Page, path string) error {
	img := Render(l, p)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := imaging.Encode(f, img, imaging.PNG); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func drawStrip(img *image.Gray, l scan.Layout, stripX int, bits []bool) {
	for i, bit := range bits {
		if bit {
			fill(img, l.ModuleRect(stripX, i), 0)
		} else {
			fill(img, l.ThinBarRect(stripX, i), 0)
		}
	}
}

func fill(img *image.Gray, r image.Rectangle, v uint8) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

func outline(img *image.Gray, r image.Rectangle, width int) {
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), 0)
	fill(img, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), 0)
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), 0)
	fill(img, image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), 0)
}
