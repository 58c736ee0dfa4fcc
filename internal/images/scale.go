package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
)

// maxImageBytes caps the size of a selected image; larger ones are rejected.
var maxImageBytes int64 = 64 << 20

var ErrImageTooLarge = errors.New("image too large")

const jpegQuality = 75

var supportedTypes = []string{"image/jpeg", "image/png", "image/gif"}

// IsSupported reports whether data sniffs as JPEG, PNG or GIF.
func IsSupported(data []byte) bool {
	mtype := mimetype.Detect(data)
	for _, t := range supportedTypes {
		if mtype.Is(t) {
			return true
		}
	}
	return false
}

// FitWithin returns the size of a w x h image scaled so its longer side is
// at most maxXY. Smaller images keep their size.
func FitWithin(w, h, maxXY int) (int, int) {
	if maxXY <= 0 || (w <= maxXY && h <= maxXY) {
		return w, h
	}
	if w >= h {
		nh := h * maxXY / w
		if nh < 1 {
			nh = 1
		}
		return maxXY, nh
	}
	nw := w * maxXY / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxXY
}

// ScaleJPEG decodes data, scales it to fit maxXY and writes it as JPEG.
func ScaleJPEG(w io.Writer, data []byte, maxXY int) error {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	nw, nh := FitWithin(b.Dx(), b.Dy(), maxXY)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	if err := jpeg.Encode(w, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}
