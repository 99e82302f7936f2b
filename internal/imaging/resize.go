package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"

	_ "image/gif"

	_ "golang.org/x/image/webp"
)

const jpegQuality = 90

// Resize decodes an image and scales it to fit inside a size*size square,
// preserving aspect ratio and padding the remainder. The result is re-encoded
// as JPEG when the source was JPEG and as PNG otherwise, so animated or
// exotic inputs come out as a still frame. Returns the encoded bytes and the
// extension of the produced format ("jpg" or "png").
func Resize(data []byte, size int) ([]byte, string, error) {
	if size <= 0 {
		return nil, "", fmt.Errorf("invalid target size %d", size)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, "", fmt.Errorf("image has empty bounds %dx%d", srcW, srcH)
	}

	scale := math.Min(float64(size)/float64(srcW), float64(size)/float64(srcH))
	dstW := int(math.Round(float64(srcW) * scale))
	dstH := int(math.Round(float64(srcH) * scale))
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	if format == "jpeg" {
		// JPEG has no alpha channel, so pad with white instead of
		// transparency that would collapse to black.
		draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	}
	offset := image.Pt((size-dstW)/2, (size-dstH)/2)
	target := image.Rectangle{Min: offset, Max: offset.Add(image.Pt(dstW, dstH))}
	draw.CatmullRom.Scale(dst, target, src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if format == "jpeg" {
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), "jpg", nil
	}
	if err := png.Encode(&buf, dst); err != nil {
		return nil, "", fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), "png", nil
}
