// Package threshold selects binary decision boundaries on intensity
// frames. Three interchangeable strategies are provided: Otsu's global
// two-class variance criterion, a local-mean adaptive threshold, and a
// caller-supplied manual value.
package threshold

import (
	"errors"
	"fmt"
	"math"

	"flimtrack/internal/models"
)

// Method names a threshold selection strategy.
type Method string

const (
	// MethodOtsu picks the global threshold minimizing intra-class
	// intensity variance over the frame histogram.
	MethodOtsu Method = "otsu"

	// MethodAdaptive computes a spatially-varying threshold from the
	// local mean within a square neighborhood, minus an offset.
	MethodAdaptive Method = "adaptive"

	// MethodManual uses the caller-supplied scalar directly.
	MethodManual Method = "manual"
)

// ErrManualThresholdRequired is returned when the manual method is
// selected without a threshold value.
var ErrManualThresholdRequired = errors.New("manual threshold method requires a threshold value")

// histogramBins is the number of levels used for the Otsu search.
const histogramBins = 256

// Config selects and parameterizes a threshold strategy.
//
// All thresholds operate on normalized intensities: frames whose
// maximum exceeds 1 are divided by that maximum first, so threshold
// values are always expressed in [0, 1] units regardless of detector
// bit depth.
type Config struct {
	Method Method

	// ManualValue is the threshold for MethodManual; nil means absent
	ManualValue *float64

	// AdaptiveWindow is the odd side length of the local neighborhood
	AdaptiveWindow int

	// AdaptiveOffset is subtracted from the local mean
	AdaptiveOffset float64
}

// DefaultConfig returns the Otsu method with the adaptive parameters
// preset to a 35-pixel window and 0.05 offset.
func DefaultConfig() Config {
	return Config{
		Method:         MethodOtsu,
		AdaptiveWindow: 35,
		AdaptiveOffset: 0.05,
	}
}

// Apply thresholds an intensity frame into a foreground mask of
// identical shape, returning the mask and the threshold value used.
// For the adaptive method the returned scalar is the mean of the
// per-pixel threshold surface. Apply is a pure function.
func Apply(frame *models.Frame, cfg Config) (*models.Mask, float64, error) {
	norm := Normalize(frame)

	switch cfg.Method {
	case MethodOtsu, "":
		value := OtsuThreshold(norm)
		return maskAbove(norm, value), value, nil

	case MethodAdaptive:
		window := cfg.AdaptiveWindow
		if window < 3 {
			window = 3
		}
		if window%2 == 0 {
			window++
		}
		return adaptiveMask(norm, window, cfg.AdaptiveOffset)

	case MethodManual:
		if cfg.ManualValue == nil {
			return nil, 0, ErrManualThresholdRequired
		}
		value := *cfg.ManualValue
		return maskAbove(norm, value), value, nil

	default:
		return nil, 0, fmt.Errorf("unknown threshold method %q", cfg.Method)
	}
}

// Normalize scales a frame into [0, 1] by dividing by its maximum when
// the maximum exceeds 1. Frames already in unit range are returned as a
// copy without rescaling.
func Normalize(frame *models.Frame) *models.Frame {
	_, max := frame.MinMax()
	out := frame.Clone()
	if math.IsNaN(max) || max <= 1.0 {
		return out
	}
	for i, v := range out.Pix {
		out.Pix[i] = v / max
	}
	return out
}

// OtsuThreshold computes the classic Otsu threshold over a 256-bin
// histogram spanning the frame's value range. A uniform frame (zero
// variance) has no two-class boundary; the single value present is
// returned as a sentinel threshold so that strict ">" comparison yields
// an all-background mask and the pipeline keeps running.
func OtsuThreshold(frame *models.Frame) float64 {
	min, max := frame.MinMax()
	if math.IsNaN(min) || min == max {
		return min
	}

	binWidth := (max - min) / float64(histogramBins)
	var hist [histogramBins]int
	total := 0
	for _, v := range frame.Pix {
		if math.IsNaN(v) {
			continue
		}
		bin := int((v - min) / binWidth)
		if bin >= histogramBins {
			bin = histogramBins - 1
		}
		hist[bin]++
		total++
	}

	// Precompute the weighted sum of all bins for the running split.
	sumAll := 0.0
	for b, n := range hist {
		sumAll += float64(b) * float64(n)
	}

	// Maximize between-class variance wB*wF*(muB-muF)^2 over candidate
	// split levels; ties keep the lowest level for determinism.
	bestLevel := 0
	bestVariance := -1.0
	wB := 0
	sumB := 0.0
	for b := 0; b < histogramBins-1; b++ {
		wB += hist[b]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(b) * float64(hist[b])
		muB := sumB / float64(wB)
		muF := (sumAll - sumB) / float64(wF)
		variance := float64(wB) * float64(wF) * (muB - muF) * (muB - muF)
		if variance > bestVariance {
			bestVariance = variance
			bestLevel = b
		}
	}

	return min + (float64(bestLevel)+0.5)*binWidth
}

// maskAbove builds the foreground mask of pixels strictly above a
// scalar threshold.
func maskAbove(frame *models.Frame, value float64) *models.Mask {
	mask := models.NewMask(frame.Width, frame.Height)
	for i, v := range frame.Pix {
		mask.Bits[i] = v > value
	}
	return mask
}

// adaptiveMask thresholds each pixel against the mean of its window
// neighborhood minus the offset. Borders are handled by edge extension:
// the frame is padded with replicated edge pixels so the output keeps
// the input shape and every window covers exactly window*window samples.
func adaptiveMask(frame *models.Frame, window int, offset float64) (*models.Mask, float64, error) {
	w, h := frame.Width, frame.Height
	r := window / 2

	// Replicate-padded copy of the frame.
	pw, ph := w+2*r, h+2*r
	padded := make([]float64, pw*ph)
	for y := 0; y < ph; y++ {
		sy := clamp(y-r, 0, h-1)
		for x := 0; x < pw; x++ {
			sx := clamp(x-r, 0, w-1)
			padded[y*pw+x] = frame.Pix[sy*w+sx]
		}
	}

	// Summed-area table over the padded frame, one row/column larger.
	integral := make([]float64, (pw+1)*(ph+1))
	for y := 0; y < ph; y++ {
		rowSum := 0.0
		for x := 0; x < pw; x++ {
			rowSum += padded[y*pw+x]
			integral[(y+1)*(pw+1)+(x+1)] = integral[y*(pw+1)+(x+1)] + rowSum
		}
	}

	mask := models.NewMask(w, h)
	samples := float64(window * window)
	surfaceSum := 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Window [x, x+window) x [y, y+window) in padded coordinates.
			x0, y0 := x, y
			x1, y1 := x+window, y+window
			sum := integral[y1*(pw+1)+x1] - integral[y0*(pw+1)+x1] -
				integral[y1*(pw+1)+x0] + integral[y0*(pw+1)+x0]
			local := sum/samples - offset
			surfaceSum += local
			mask.Bits[y*w+x] = frame.Pix[y*w+x] > local
		}
	}

	return mask, surfaceSum / float64(w*h), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
