// Package stack loads paired intensity/lifetime frame sequences from a
// directory of image files.
//
// A stack directory holds one intensity and one lifetime grayscale
// image per time point (TIFF or PNG), paired by the numeric part of
// their filenames and distinguished by an "_intensity" or "_lifetime"
// name marker, for example:
//
//	t000_intensity.tif  t000_lifetime.tif
//	t001_intensity.tif  t001_lifetime.tif
package stack

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/tiff"
	_ "image/png"

	"flimtrack/internal/models"
)

// DefaultLifetimeScale converts raw 16-bit lifetime values to
// nanoseconds: the acquisition software exports lifetimes as 0-65535
// values spanning a 0-10 ns range, so raw/6553.5 yields nanoseconds.
const DefaultLifetimeScale = 6553.5

// Options control how raw pixel values are interpreted.
type Options struct {
	// LifetimeScale divides raw lifetime values; 0 means DefaultLifetimeScale
	LifetimeScale float64

	// ConvertLifetime enables the raw-to-nanoseconds division
	ConvertLifetime bool

	// ZeroInvalid marks raw zero lifetime pixels as NaN (no estimate)
	ZeroInvalid bool
}

// DefaultOptions enables nanosecond conversion and zero-as-invalid.
func DefaultOptions() Options {
	return Options{
		LifetimeScale:   DefaultLifetimeScale,
		ConvertLifetime: true,
		ZeroInvalid:     true,
	}
}

// Metadata describes a loaded stack.
type Metadata struct {
	FrameCount int
	Width      int
	Height     int

	// PixelSizeUm is the physical pixel size when known, 0 otherwise.
	// It is carried from configuration, not read from the files.
	PixelSizeUm float64
}

// FramePair is one time point: co-registered intensity and lifetime
// channels of identical dimensions.
type FramePair struct {
	Index     int
	Intensity *models.Frame
	Lifetime  *models.Frame
}

const (
	markerIntensity = "_intensity"
	markerLifetime  = "_lifetime"
)

// LoadDir reads all frame pairs from a stack directory, ordered by the
// numeric part of their filenames. Every frame must share the pixel
// dimensions of the first; a mismatch fails fast with a
// ShapeMismatchError so no wrong-shaped data enters the pipeline.
func LoadDir(dir string, opts Options) ([]FramePair, *Metadata, error) {
	if opts.LifetimeScale == 0 {
		opts.LifetimeScale = DefaultLifetimeScale
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading stack directory: %w", err)
	}

	// Pair files by the number embedded in their names.
	type pairPaths struct {
		intensity string
		lifetime  string
	}
	pairs := make(map[int]*pairPaths)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".tif" && ext != ".tiff" && ext != ".png" {
			continue
		}
		isIntensity := strings.Contains(name, markerIntensity)
		isLifetime := strings.Contains(name, markerLifetime)
		if isIntensity == isLifetime {
			continue
		}
		idx := extractNumber(name)
		p := pairs[idx]
		if p == nil {
			p = &pairPaths{}
			pairs[idx] = p
		}
		// Two files claiming the same frame number and channel would
		// silently shadow each other otherwise.
		if isIntensity {
			if p.intensity != "" {
				return nil, nil, fmt.Errorf("frame number %d is claimed by both %s and %s",
					idx, filepath.Base(p.intensity), name)
			}
			p.intensity = filepath.Join(dir, name)
		} else {
			if p.lifetime != "" {
				return nil, nil, fmt.Errorf("frame number %d is claimed by both %s and %s",
					idx, filepath.Base(p.lifetime), name)
			}
			p.lifetime = filepath.Join(dir, name)
		}
	}
	if len(pairs) == 0 {
		return nil, nil, fmt.Errorf("no intensity/lifetime image pairs found in %s", dir)
	}

	indexes := make([]int, 0, len(pairs))
	for idx := range pairs {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var meta *Metadata
	out := make([]FramePair, 0, len(indexes))
	for seq, idx := range indexes {
		p := pairs[idx]
		if p.intensity == "" || p.lifetime == "" {
			return nil, nil, fmt.Errorf("time point %d is missing its %s channel", idx, missingChannel(p.intensity))
		}

		intensity, err := loadGrayFrame(p.intensity)
		if err != nil {
			return nil, nil, err
		}
		lifetimeFrame, err := loadGrayFrame(p.lifetime)
		if err != nil {
			return nil, nil, err
		}
		convertLifetime(lifetimeFrame, opts)

		if meta == nil {
			meta = &Metadata{Width: intensity.Width, Height: intensity.Height}
		}
		for _, frame := range []*models.Frame{intensity, lifetimeFrame} {
			if frame.Width != meta.Width || frame.Height != meta.Height {
				return nil, nil, &models.ShapeMismatchError{
					Context:    fmt.Sprintf("stack load (time point %d)", idx),
					WantWidth:  meta.Width,
					WantHeight: meta.Height,
					GotWidth:   frame.Width,
					GotHeight:  frame.Height,
				}
			}
		}

		out = append(out, FramePair{
			Index:     seq,
			Intensity: intensity,
			Lifetime:  lifetimeFrame,
		})
	}
	meta.FrameCount = len(out)
	return out, meta, nil
}

// LoadPair reads a single intensity/lifetime file pair as time point 0.
// Shape agreement between the channels is checked downstream.
func LoadPair(intensityPath, lifetimePath string, opts Options) (*FramePair, error) {
	if opts.LifetimeScale == 0 {
		opts.LifetimeScale = DefaultLifetimeScale
	}

	intensity, err := loadGrayFrame(intensityPath)
	if err != nil {
		return nil, err
	}
	lifetimeFrame, err := loadGrayFrame(lifetimePath)
	if err != nil {
		return nil, err
	}
	convertLifetime(lifetimeFrame, opts)

	return &FramePair{Index: 0, Intensity: intensity, Lifetime: lifetimeFrame}, nil
}

func missingChannel(intensityPath string) string {
	if intensityPath == "" {
		return "intensity"
	}
	return "lifetime"
}

// loadGrayFrame decodes a grayscale image file into a float frame of
// raw 16-bit values.
func loadGrayFrame(path string) (*models.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	bounds := img.Bounds()
	frame := models.NewFrame(bounds.Dx(), bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			frame.Set(x-bounds.Min.X, y-bounds.Min.Y, float64(gray.Y))
		}
	}
	return frame, nil
}

// convertLifetime rewrites raw lifetime values in place according to
// the options: zero becomes the NaN invalid sentinel, everything else
// is scaled to nanoseconds.
func convertLifetime(frame *models.Frame, opts Options) {
	for i, v := range frame.Pix {
		if opts.ZeroInvalid && v == 0 {
			frame.Pix[i] = math.NaN()
			continue
		}
		if opts.ConvertLifetime {
			frame.Pix[i] = v / opts.LifetimeScale
		}
	}
}

// extractNumber pulls the first run of digits out of a filename,
// defaulting to 0 when none is present. Stacks are ordered by this
// number so lexicographic quirks in naming do not reorder time.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	num := 0
	seen := false
	for _, c := range base {
		if c >= '0' && c <= '9' {
			num = num*10 + int(c-'0')
			seen = true
		} else if seen {
			break
		}
	}
	return num
}
