// Package scan recognizes sign-in sheet pages: it locates the corner
// reference marks, rectifies the page, decodes the identifying barcodes and
// extracts the marked boxes.
package scan

import "image"

// Layout is the reference geometry of a sheet page in pixels at 300 DPI on
// A4. The sheet generator draws from the same layout the scanner reads, so
// the two can never drift apart.
type Layout struct {
	Width  int
	Height int

	// Corner reference marks: filled squares centered on the four points
	// returned by CornerCenters, in the order top-left, top-right,
	// bottom-left, bottom-right.
	CornerInset int
	CornerSize  int

	// Flip indicator: a filled square drawn only near the bottom-right
	// corner. On an upside-down scan it shows up near the top-left
	// instead.
	FlipInsetX int
	FlipInsetY int
	FlipSize   int

	// Barcode strips. The userkey strip carries UserkeyBits modules, the
	// meta strip GroupBits then PageBits modules. A set bit is a filled
	// module, a clear bit a thin bar at the module's left edge.
	BarcodeY      int
	BarcodeHeight int
	ModuleWidth   int
	ThinBarWidth  int
	UserkeyX      int
	UserkeyBits   int
	MetaX         int
	GroupBits     int
	PageBits      int

	// Choice grid: RowCount rows of BoxesPerRow square outline boxes. A
	// checked box is filled.
	GridX       int
	GridY       int
	RowHeight   int
	BoxSize     int
	BoxPitch    int
	RowCount    int
	BoxesPerRow int
	// BoxOutline is the stroke width of an unchecked box. Thin enough
	// that an empty box stays well under the fill-ratio threshold.
	BoxOutline int
}

// DefaultLayout is the geometry of the printed sheets at 300 DPI (A4,
// 2480x3507).
var DefaultLayout = Layout{
	Width:  2480,
	Height: 3507,

	CornerInset: 120,
	CornerSize:  48,

	FlipInsetX: 240,
	FlipInsetY: 120,
	FlipSize:   48,

	BarcodeY:      220,
	BarcodeHeight: 64,
	ModuleWidth:   56,
	ThinBarWidth:  12,
	UserkeyX:      240,
	UserkeyBits:   25,
	MetaX:         1720,
	GroupBits:     6,
	PageBits:      4,

	GridX:       300,
	GridY:       420,
	RowHeight:   96,
	BoxSize:     48,
	BoxPitch:    120,
	RowCount:    30,
	BoxesPerRow: 4,
	BoxOutline:  3,
}

// Point is a position in reference page coordinates.
type Point struct {
	X float64
	Y float64
}

// CornerCenters returns the reference centers of the four corner marks in
// the order top-left, top-right, bottom-left, bottom-right.
func (l Layout) CornerCenters() [4]Point {
	in := float64(l.CornerInset)
	w := float64(l.Width)
	h := float64(l.Height)
	return [4]Point{
		{X: in, Y: in},
		{X: w - in, Y: in},
		{X: in, Y: h - in},
		{X: w - in, Y: h - in},
	}
}

// CornerRect returns the drawn extent of corner mark i.
func (l Layout) CornerRect(i int) image.Rectangle {
	c := l.CornerCenters()[i]
	half := l.CornerSize / 2
	return image.Rect(int(c.X)-half, int(c.Y)-half, int(c.X)+half, int(c.Y)+half)
}

// FlipRect returns the flip indicator extent near the bottom-right corner.
func (l Layout) FlipRect() image.Rectangle {
	x := l.Width - l.FlipInsetX
	y := l.Height - l.FlipInsetY
	half := l.FlipSize / 2
	return image.Rect(x-half, y-half, x+half, y+half)
}

// MirroredFlipRect returns where the flip indicator lands on a page scanned
// upside down.
func (l Layout) MirroredFlipRect() image.Rectangle {
	r := l.FlipRect()
	return image.Rect(l.Width-r.Max.X, l.Height-r.Max.Y, l.Width-r.Min.X, l.Height-r.Min.Y)
}

// ModuleRect returns the full extent of barcode module i in the strip
// starting at stripX.
func (l Layout) ModuleRect(stripX, i int) image.Rectangle {
	x := stripX + i*l.ModuleWidth
	return image.Rect(x, l.BarcodeY, x+l.ModuleWidth, l.BarcodeY+l.BarcodeHeight)
}

// ThinBarRect returns the extent of the thin bar drawn for a clear bit in
// module i.
func (l Layout) ThinBarRect(stripX, i int) image.Rectangle {
	x := stripX + i*l.ModuleWidth
	return image.Rect(x, l.BarcodeY, x+l.ThinBarWidth, l.BarcodeY+l.BarcodeHeight)
}

// BoxRect returns the extent of box b in row r of the choice grid.
func (l Layout) BoxRect(r, b int) image.Rectangle {
	x := l.GridX + b*l.BoxPitch
	y := l.GridY + r*l.RowHeight
	return image.Rect(x, y, x+l.BoxSize, y+l.BoxSize)
}

// MaxUserkey is the largest value the userkey strip can carry.
func (l Layout) MaxUserkey() uint32 {
	return 1<<l.UserkeyBits - 1
}
