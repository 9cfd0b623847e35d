package scan

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// Recognition errors. The import pipeline maps these to page error codes;
// anything else coming out of Recognize is a structural failure.
var (
	ErrUpsideDown     = errors.New("page is upside down")
	ErrMissingCorners = errors.New("corner marks not found")
)

// Recognition is the decoded content of one page.
type Recognition struct {
	Userkey uint32
	Group   int
	Page    int
	Corners [4]Point
	// Choices[r][b] reports whether box b in row r is marked.
	Choices [][]bool
}

// Scanner recognizes normalized page images against a fixed layout.
type Scanner struct {
	layout Layout

	// cornerSearch is the half-width of the window searched around each
	// expected corner position, absorbing scanner offset and skew.
	cornerSearch int
	// minCornerMass is the fraction of the corner mark's area that must be
	// black inside the search window for the mark to count as found.
	minCornerMass float64
}

func NewScanner(layout Layout) *Scanner {
	// The 90px search window stays clear of the barcode strips and the
	// choice grid at the default layout while still absorbing typical
	// scanner offset.
	return &Scanner{
		layout:        layout,
		cornerSearch:  90,
		minCornerMass: 0.25,
	}
}

// Recognize decodes a normalized page. The image must already be pure
// black and white (see Normalize).
func (s *Scanner) Recognize(img *image.Gray) (*Recognition, error) {
	if err := s.checkOrientation(img); err != nil {
		return nil, err
	}

	corners, err := s.findCorners(img)
	if err != nil {
		return nil, err
	}
	tf := newTransform(s.layout, corners)

	rec := &Recognition{Corners: corners}

	keyBits := make([]bool, s.layout.UserkeyBits)
	for i := range keyBits {
		keyBits[i] = tf.fillRatio(img, s.layout.ModuleRect(s.layout.UserkeyX, i)) > 0.5
	}
	rec.Userkey = DecodeBits(keyBits)

	metaBits := make([]bool, s.layout.GroupBits+s.layout.PageBits)
	for i := range metaBits {
		metaBits[i] = tf.fillRatio(img, s.layout.ModuleRect(s.layout.MetaX, i)) > 0.5
	}
	rec.Group = int(DecodeBits(metaBits[:s.layout.GroupBits]))
	rec.Page = int(DecodeBits(metaBits[s.layout.GroupBits:]))

	rec.Choices = make([][]bool, s.layout.RowCount)
	for r := 0; r < s.layout.RowCount; r++ {
		rec.Choices[r] = make([]bool, s.layout.BoxesPerRow)
		for b := 0; b < s.layout.BoxesPerRow; b++ {
			rec.Choices[r][b] = tf.fillRatio(img, s.layout.BoxRect(r, b)) > 0.5
		}
	}
	return rec, nil
}

// checkOrientation compares the dark mass near the flip indicator's
// expected position against its position mirrored through the page center.
// A page fed in rotated 180 degrees puts the indicator at the mirror.
func (s *Scanner) checkOrientation(img *image.Gray) error {
	const margin = 60
	expected := countBlack(img, grow(s.layout.FlipRect(), margin))
	mirrored := countBlack(img, grow(s.layout.MirroredFlipRect(), margin))
	if mirrored > 4*expected && expected*4 < s.layout.FlipSize*s.layout.FlipSize {
		return ErrUpsideDown
	}
	return nil
}

// findCorners locates the centroid of black pixels in a window around each
// expected corner mark.
func (s *Scanner) findCorners(img *image.Gray) ([4]Point, error) {
	var found [4]Point
	minMass := int(s.minCornerMass * float64(s.layout.CornerSize*s.layout.CornerSize))
	for i, c := range s.layout.CornerCenters() {
		window := image.Rect(
			int(c.X)-s.cornerSearch, int(c.Y)-s.cornerSearch,
			int(c.X)+s.cornerSearch, int(c.Y)+s.cornerSearch,
		).Intersect(img.Bounds())

		var mass int
		var sumX, sumY float64
		for y := window.Min.Y; y < window.Max.Y; y++ {
			for x := window.Min.X; x < window.Max.X; x++ {
				if img.GrayAt(x, y).Y < 128 {
					mass++
					sumX += float64(x)
					sumY += float64(y)
				}
			}
		}
		if mass < minMass {
			return found, ErrMissingCorners
		}
		found[i] = Point{X: sumX / float64(mass), Y: sumY / float64(mass)}
	}
	return found, nil
}

// Rotate180 flips a page for the correction workflow.
func Rotate180(img image.Image) *image.Gray {
	return Normalize(imaging.Rotate180(img))
}

// transform maps reference layout coordinates onto the scanned image using
// the three independent corner marks, absorbing translation, scale and
// shear.
type transform struct {
	origin     Point
	xAxis      Point
	yAxis      Point
	refOrigin  Point
	refXExtent float64
	refYExtent float64
}

func newTransform(l Layout, corners [4]Point) *transform {
	ref := l.CornerCenters()
	return &transform{
		origin:     corners[0],
		xAxis:      Point{X: corners[1].X - corners[0].X, Y: corners[1].Y - corners[0].Y},
		yAxis:      Point{X: corners[2].X - corners[0].X, Y: corners[2].Y - corners[0].Y},
		refOrigin:  ref[0],
		refXExtent: ref[1].X - ref[0].X,
		refYExtent: ref[2].Y - ref[0].Y,
	}
}

func (t *transform) apply(x, y float64) (float64, float64) {
	u := (x - t.refOrigin.X) / t.refXExtent
	v := (y - t.refOrigin.Y) / t.refYExtent
	return t.origin.X + u*t.xAxis.X + v*t.yAxis.X,
		t.origin.Y + u*t.xAxis.Y + v*t.yAxis.Y
}

// fillRatio maps every pixel of a reference rectangle into the image and
// returns the black fraction.
func (t *transform) fillRatio(img *image.Gray, rect image.Rectangle) float64 {
	var black, total int
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			ix, iy := t.apply(float64(x)+0.5, float64(y)+0.5)
			p := image.Pt(int(ix), int(iy))
			if !p.In(img.Bounds()) {
				continue
			}
			total++
			if img.GrayAt(p.X, p.Y).Y < 128 {
				black++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(black) / float64(total)
}

func countBlack(img *image.Gray, rect image.Rectangle) int {
	rect = rect.Intersect(img.Bounds())
	var n int
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if img.GrayAt(x, y).Y < 128 {
				n++
			}
		}
	}
	return n
}

func grow(r image.Rectangle, m int) image.Rectangle {
	return image.Rect(r.Min.X-m, r.Min.Y-m, r.Max.X+m, r.Max.Y+m)
}
