package pixel

import (
	"errors"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/xerrors"
)

var InvalidShapeError = errors.New("invalid buffer shape")

// Buffer is an immutable grid of non-premultiplied RGBA pixels, row-major,
// top-left origin. len(data) == width*height*4 always holds.
type Buffer struct {
	width  int
	height int
	data   []byte
}

// New copies data into a new Buffer.
func New(width int, height int, data []byte) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("%dx%d: %w", width, height, InvalidShapeError)
	}
	if len(data) != width*height*4 {
		return nil, xerrors.Errorf("%dx%d needs %d bytes, got %d: %w", width, height, width*height*4, len(data), InvalidShapeError)
	}

	owned := make([]byte, len(data))
	copy(owned, data)

	return &Buffer{
		width:  width,
		height: height,
		data:   owned,
	}, nil
}

// FromImage reads every pixel of img into a Buffer, converting to
// non-premultiplied 8-bit RGBA. The buffer origin is img.Bounds().Min.
func FromImage(img image.Image) (*Buffer, error) {
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, xerrors.Errorf("%dx%d: %w", bounds.Dx(), bounds.Dy(), InvalidShapeError)
	}

	var nrgba *image.NRGBA
	if n, ok := img.(*image.NRGBA); ok && n.Stride == bounds.Dx()*4 {
		nrgba = n
	} else {
		nrgba = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)
	}

	start := nrgba.PixOffset(nrgba.Rect.Min.X, nrgba.Rect.Min.Y)
	return New(bounds.Dx(), bounds.Dy(), nrgba.Pix[start:start+bounds.Dx()*bounds.Dy()*4])
}

// Flatten composites img over an opaque background of the given color and
// crops or pads the result to exactly width×height. Regions img does not
// cover keep the background color.
func Flatten(img image.Image, width int, height int, background color.Color) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("%dx%d: %w", width, height, InvalidShapeError)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Over)

	return &Buffer{
		width:  width,
		height: height,
		data:   canvas.Pix,
	}, nil
}

func (b *Buffer) Width() int {
	return b.width
}

func (b *Buffer) Height() int {
	return b.height
}

// Len returns the number of pixels.
func (b *Buffer) Len() int {
	return b.width * b.height
}

// SameShape reports whether b and o can be compared pixel by pixel.
func (b *Buffer) SameShape(o *Buffer) bool {
	return b.width == o.width && b.height == o.height
}

// At returns the RGBA tuple of the pixel at index i (row-major).
func (b *Buffer) At(i int) (uint8, uint8, uint8, uint8) {
	offset := i * 4
	return b.data[offset], b.data[offset+1], b.data[offset+2], b.data[offset+3]
}

// Bytes returns a copy of the underlying RGBA bytes.
func (b *Buffer) Bytes() []byte {
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return data
}

// Image returns the buffer as an *image.NRGBA backed by a copy of the pixels,
// suitable for image/png.
func (b *Buffer) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Bytes(),
		Stride: b.width * 4,
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
}

// Row returns the raw bytes of row y. Callers must not modify the result.
func (b *Buffer) Row(y int) []byte {
	start := y * b.width * 4
	return b.data[start : start+b.width*4]
}
