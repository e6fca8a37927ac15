package models

import (
	"fmt"
	"math"
)

// Frame is a single 2D image channel stored as float64 values in
// row-major order. Intensity frames hold raw detector counts; lifetime
// frames hold per-pixel decay times, with NaN marking pixels that carry
// no valid lifetime estimate (background).
type Frame struct {
	// Width and Height are the pixel dimensions of the frame
	Width  int
	Height int

	// Pix holds the pixel values in row-major order, length Width*Height
	Pix []float64
}

// NewFrame allocates a zero-filled frame with the given dimensions.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

// Index returns the row-major offset of pixel (x, y).
func (f *Frame) Index(x, y int) int {
	return y*f.Width + x
}

// At returns the value at pixel (x, y).
func (f *Frame) At(x, y int) float64 {
	return f.Pix[y*f.Width+x]
}

// Set assigns the value at pixel (x, y).
func (f *Frame) Set(x, y int, v float64) {
	f.Pix[y*f.Width+x] = v
}

// SameShape reports whether two frames share pixel dimensions.
func (f *Frame) SameShape(o *Frame) bool {
	return f.Width == o.Width && f.Height == o.Height
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	c := NewFrame(f.Width, f.Height)
	copy(c.Pix, f.Pix)
	return c
}

// MinMax returns the smallest and largest finite values in the frame.
// NaN pixels are skipped. A frame with no finite pixels returns (NaN, NaN).
func (f *Frame) MinMax() (min, max float64) {
	min, max = math.NaN(), math.NaN()
	for _, v := range f.Pix {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(min) || v < min {
			min = v
		}
		if math.IsNaN(max) || v > max {
			max = v
		}
	}
	return min, max
}

// Mask is a 2D boolean array marking foreground (candidate cell) pixels.
// It always has the same dimensions as the frame it was derived from.
type Mask struct {
	Width  int
	Height int

	// Bits holds foreground flags in row-major order
	Bits []bool
}

// NewMask allocates an all-background mask with the given dimensions.
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Bits:   make([]bool, width*height),
	}
}

// At returns whether pixel (x, y) is foreground.
func (m *Mask) At(x, y int) bool {
	return m.Bits[y*m.Width+x]
}

// Set assigns the foreground flag at pixel (x, y).
func (m *Mask) Set(x, y int, fg bool) {
	m.Bits[y*m.Width+x] = fg
}

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	c := NewMask(m.Width, m.Height)
	copy(c.Bits, m.Bits)
	return c
}

// LabelMap assigns each pixel to one connected region within a single
// frame. Zero means background; positive labels run densely from 1 to
// Count in row-major first-appearance order. Labels are unique only
// within a frame.
type LabelMap struct {
	Width  int
	Height int

	// Labels holds region labels in row-major order
	Labels []int

	// Count is the number of regions, so labels span 1..Count
	Count int
}

// NewLabelMap allocates an all-background label map with the given dimensions.
func NewLabelMap(width, height int) *LabelMap {
	return &LabelMap{
		Width:  width,
		Height: height,
		Labels: make([]int, width*height),
	}
}

// At returns the region label at pixel (x, y), 0 for background.
func (lm *LabelMap) At(x, y int) int {
	return lm.Labels[y*lm.Width+x]
}

// ToMask returns a binary mask marking every labeled pixel as foreground.
func (lm *LabelMap) ToMask() *Mask {
	m := NewMask(lm.Width, lm.Height)
	for i, l := range lm.Labels {
		m.Bits[i] = l > 0
	}
	return m
}

// ShapeMismatchError reports frames whose pixel dimensions disagree,
// either between the two channels of one time point or across a series.
type ShapeMismatchError struct {
	// Context names the operation or file that detected the mismatch
	Context string

	WantWidth, WantHeight int
	GotWidth, GotHeight   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: frame shape %dx%d does not match expected %dx%d",
		e.Context, e.GotWidth, e.GotHeight, e.WantWidth, e.WantHeight)
}
