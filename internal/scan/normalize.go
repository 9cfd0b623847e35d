package scan

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Normalize converts an image to grayscale and thresholds it at 50% to pure
// black and white. Applying it twice gives the same result as applying it
// once.
func Normalize(src image.Image) *image.Gray {
	gray := imaging.Grayscale(src)
	b := gray.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.GrayModel.Convert(gray.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			if c.Y < 128 {
				out.SetGray(x, y, color.Gray{Y: 0})
			} else {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

// NormalizeFile loads the image at path and normalizes it.
func NormalizeFile(path string) (*image.Gray, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	return Normalize(img), nil
}
