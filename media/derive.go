package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/png"

	"github.com/dukerupert/hearth"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// RenditionContentType is the encoding of every rendition.
const RenditionContentType = "image/jpeg"

// DefaultQuality is the JPEG quality used for renditions.
const DefaultQuality = 85

// Deriver produces resized JPEG encodings of a decoded image.
type Deriver struct {
	Quality int
}

// MaxDecodePixels bounds the raster Decode will allocate. A small file can
// declare huge dimensions.
const MaxDecodePixels = 50_000_000

// ErrTooManyPixels is returned by Decode for images above MaxDecodePixels.
var ErrTooManyPixels = errors.New("image dimensions exceed the decode limit")

// Decode decodes a JPEG, PNG or WebP image. The header is checked first so
// oversized rasters are rejected before any pixel memory is allocated.
func Decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image header: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxDecodePixels {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrTooManyPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// Fit scales (w, h) so neither side exceeds maxDim, keeping the aspect ratio.
// Images already within bounds are never enlarged.
func Fit(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		nh := (h*maxDim + w/2) / w
		return maxDim, max(nh, 1)
	}
	nw := (w*maxDim + h/2) / h
	return max(nw, 1), maxDim
}

// Render encodes img fitted within r.MaxDim.
func (d Deriver) Render(img image.Image, r hearth.Rendition) ([]byte, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("rendition %s: empty image", r.Name)
	}
	w, h := Fit(b.Dx(), b.Dy(), r.MaxDim)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; flatten transparent sources onto white.
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	quality := d.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("rendition %s: encoding: %w", r.Name, err)
	}
	return buf.Bytes(), nil
}
