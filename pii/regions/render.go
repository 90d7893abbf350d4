package regions

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	pii "github.com/hannes/safeshare/pii/detectors"
)

// DefaultBlockSize is the pixelation cell edge in pixels.
const DefaultBlockSize = 24

// PixelRect converts a normalized region to pixel bounds within b,
// clamping to the image.
func PixelRect(r pii.Region, b image.Rectangle) image.Rectangle {
	w := float64(b.Dx())
	h := float64(b.Dy())
	x0 := b.Min.X + int(math.Floor(clamp01(r.X)*w))
	y0 := b.Min.Y + int(math.Floor(clamp01(r.Y)*h))
	x1 := b.Min.X + int(math.Ceil(clamp01(r.X+r.Width)*w))
	y1 := b.Min.Y + int(math.Ceil(clamp01(r.Y+r.Height)*h))
	return image.Rect(x0, y0, x1, y1).Intersect(b)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Redact returns a copy of img with every region pixelated into
// blockSize cells filled with their average color.
func Redact(img image.Image, regions []pii.Region, blockSize int) *image.RGBA {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	for _, region := range regions {
		rect := PixelRect(region, bounds)
		if rect.Empty() {
			continue
		}
		for y := rect.Min.Y; y < rect.Max.Y; y += blockSize {
			for x := rect.Min.X; x < rect.Max.X; x += blockSize {
				cell := image.Rect(x, y, x+blockSize, y+blockSize).Intersect(rect)
				draw.Draw(out, cell, &image.Uniform{C: averageColor(out, cell)}, image.Point{}, draw.Src)
			}
		}
	}
	return out
}

func averageColor(img *image.RGBA, cell image.Rectangle) color.RGBA {
	var r, g, b, a, n uint64
	for y := cell.Min.Y; y < cell.Max.Y; y++ {
		for x := cell.Min.X; x < cell.Max.X; x++ {
			c := img.RGBAAt(x, y)
			r += uint64(c.R)
			g += uint64(c.G)
			b += uint64(c.B)
			a += uint64(c.A)
			n++
		}
	}
	if n == 0 {
		return color.RGBA{}
	}
	return color.RGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: uint8(a / n)}
}

// DecodeImage reads a PNG or JPEG image and reports its format.
func DecodeImage(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// EncodeImage writes img as PNG, or JPEG when format is "jpeg".
func EncodeImage(w io.Writer, img image.Image, format string) error {
	switch format {
	case "jpeg", "jpg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case "png", "":
		return png.Encode(w, img)
	default:
		return fmt.Errorf("unsupported image format %q", format)
	}
}
