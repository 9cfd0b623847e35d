package sheet

import (
	"image"

	"github.com/edumark/sheetscan/internal/scan"
)

// formMarks projects one form page into the recognizer's pixel space: the
// rectangles to paint solid and the grid boxes to outline. Generate scales
// exactly these rectangles onto paper, so a printed page scans back into
// the geometry the recognizer samples.
func formMarks(l scan.Layout, userkey uint32, group, page int) (filled, boxes []image.Rectangle) {
	for i := 0; i < 4; i++ {
		filled = append(filled, l.CornerRect(i))
	}
	filled = append(filled, l.FlipRect())

	filled = append(filled, stripRects(l, l.UserkeyX, scan.EncodeBits(userkey, l.UserkeyBits))...)

	meta := append(
		scan.EncodeBits(uint32(group), l.GroupBits),
		scan.EncodeBits(uint32(page), l.PageBits)...)
	filled = append(filled, stripRects(l, l.MetaX, meta)...)

	for r := 0; r < l.RowCount; r++ {
		for b := 0; b < l.BoxesPerRow; b++ {
			boxes = append(boxes, l.BoxRect(r, b))
		}
	}
	return filled, boxes
}

// stripRects lays out one barcode strip: a full module for a set bit, a
// thin bar for a cleared one so the recognizer can tell them apart by
// fill ratio.
func stripRects(l scan.Layout, stripX int, bits []bool) []image.Rectangle {
	out := make([]image.Rectangle, 0, len(bits))
	for i, bit := range bits {
		if bit {
			out = append(out, l.ModuleRect(stripX, i))
		} else {
			out = append(out, l.ThinBarRect(stripX, i))
		}
	}
	return out
}
