// Package imaging turns uploaded photo bytes into the fixed input tensor the
// classifier model expects.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// InputSize is the square edge the model was exported with.
	InputSize = 224
	Channels  = 3

	pixelCenter = 127.5

	// DefaultMaxPixels caps the declared canvas at 8192x8192.
	DefaultMaxPixels = 8192 * 8192
)

// ErrDecode marks bytes that are not a decodable image.
var ErrDecode = errors.New("image could not be decoded")

// Tensor is a dense float32 batch laid out as NHWC.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Normalizer decodes, resamples, and rescales images. The zero value is not
// usable; use NewNormalizer.
type Normalizer struct {
	size      int
	maxPixels int64
	kernel    draw.Interpolator
}

type Option func(*Normalizer)

// WithMaxPixels bounds width*height as declared in the image header.
func WithMaxPixels(n int64) Option {
	return func(nz *Normalizer) {
		if n > 0 {
			nz.maxPixels = n
		}
	}
}

func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{size: InputSize, maxPixels: DefaultMaxPixels, kernel: draw.CatmullRom}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize produces a [1, 224, 224, 3] tensor with channel values mapped
// from [0, 255] to [-1, 1]. Alpha is dropped, not composited.
func (n *Normalizer) Normalize(data []byte) (*Tensor, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrDecode, format)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > n.maxPixels {
		return nil, fmt.Errorf("%w: %s image %dx%d exceeds %d pixels", ErrDecode, format, cfg.Width, cfg.Height, n.maxPixels)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: empty %s image", ErrDecode, format)
	}

	rgb := toOpaqueRGB(src)

	dst := image.NewRGBA(image.Rect(0, 0, n.size, n.size))
	n.kernel.Scale(dst, dst.Bounds(), rgb, rgb.Bounds(), draw.Src, nil)

	return toTensor(dst, n.size), nil
}

// toOpaqueRGB returns src unchanged when it is already opaque. Otherwise it
// copies src into an NRGBA with every alpha forced to 255, so transparent
// pixels keep their straight color instead of going dark.
func toOpaqueRGB(src image.Image) image.Image {
	if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
		return src
	}

	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if nrgba, ok := src.(*image.NRGBA); ok {
		rowLen := b.Dx() * 4
		for y := 0; y < b.Dy(); y++ {
			off := nrgba.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.Stride:y*out.Stride+rowLen], nrgba.Pix[off:off+rowLen])
		}
	} else {
		draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	}

	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

func toTensor(img *image.RGBA, size int) *Tensor {
	data := make([]float32, 0, size*size*Channels)
	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+size*4]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			for _, v := range px {
				data = append(data, (float32(v)-pixelCenter)/pixelCenter)
			}
		}
	}

	return &Tensor{
		Shape: []int64{1, int64(size), int64(size), Channels},
		Data:  data,
	}
}
