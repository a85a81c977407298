// File: internal/browser/imaging.go
package browser

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // Screenshots arrive as PNG.

	"golang.org/x/image/draw"
)

// CompressOptions controls how screenshots are shrunk before they are sent
// to the reasoner.
type CompressOptions struct {
	MaxDimension int
	GreyLevels   int
	Quality      int
}

// Compress converts an encoded screenshot to a small greyscale JPEG: it is
// converted to grey, scaled down to fit MaxDimension x MaxDimension keeping
// its aspect ratio, quantized to GreyLevels levels and JPEG encoded.
func Compress(raw []byte, opts CompressOptions) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	grey := toGrey(src)
	scaled := fit(grey, opts.MaxDimension)
	quantize(scaled, opts.GreyLevels)

	quality := opts.Quality
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

// IsBlank reports whether an encoded image is a single flat colour, which
// is what a capture of a page that has not painted yet looks like.
func IsBlank(raw []byte) bool {
	if len(raw) == 0 {
		return true
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return true
	}
	grey := toGrey(img)
	b := grey.Bounds()
	if b.Empty() {
		return true
	}
	first := grey.GrayAt(b.Min.X, b.Min.Y).Y
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := grey.Pix[(y-b.Min.Y)*grey.Stride : (y-b.Min.Y)*grey.Stride+b.Dx()]
		for _, p := range row {
			if p != first {
				return false
			}
		}
	}
	return true
}

func toGrey(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// fit scales img down so neither side exceeds max. Smaller images are
// returned untouched.
func fit(img *image.Gray, max int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if max <= 0 || (w <= max && h <= max) {
		return img
	}
	nw, nh := max, max
	if w >= h {
		nh = h * max / w
	} else {
		nw = w * max / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewGray(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// quantize reduces img in place to the given number of evenly spaced grey
// levels. Values outside 2..256 leave the image untouched.
func quantize(img *image.Gray, levels int) {
	if levels < 2 || levels >= 256 {
		return
	}
	step := 255.0 / float64(levels-1)
	var table [256]uint8
	for v := range table {
		idx := int(float64(v)/step + 0.5)
		table[v] = uint8(float64(idx)*step + 0.5)
	}
	for i, p := range img.Pix {
		img.Pix[i] = table[p]
	}
}
