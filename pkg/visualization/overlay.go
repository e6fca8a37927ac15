// Package visualization renders segmentation masks, label maps, and
// track overlays as images for visual inspection of analysis output.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"flimtrack/internal/models"
	"flimtrack/pkg/tracking"
)

// palette is the region color cycle. Labels and persistent ids map
// into it modulo its length, offset so label 1 gets the first color.
var palette = []color.RGBA{
	{230, 25, 75, 255},
	{60, 180, 75, 255},
	{255, 225, 25, 255},
	{0, 130, 200, 255},
	{245, 130, 48, 255},
	{145, 30, 180, 255},
	{70, 240, 240, 255},
	{240, 50, 230, 255},
	{210, 245, 60, 255},
	{250, 190, 190, 255},
	{0, 128, 128, 255},
	{170, 110, 40, 255},
}

func paletteColor(id int64) color.RGBA {
	idx := int((id - 1) % int64(len(palette)))
	if idx < 0 {
		idx += len(palette)
	}
	return palette[idx]
}

// MaskImage renders a binary mask as a grayscale image: foreground
// white, background black.
func MaskImage(mask *models.Mask) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, mask.Width, mask.Height))
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if mask.At(x, y) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// LabelImage renders a label map with one palette color per region.
// Background stays black. The mapping is deterministic: the same label
// map always renders identically.
func LabelImage(labels *models.LabelMap) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, labels.Width, labels.Height))
	for y := 0; y < labels.Height; y++ {
		for x := 0; x < labels.Width; x++ {
			label := labels.At(x, y)
			if label == 0 {
				img.Set(x, y, color.RGBA{0, 0, 0, 255})
				continue
			}
			img.Set(x, y, paletteColor(int64(label)))
		}
	}
	return img
}

// TrackOverlayImage renders one frame's label map colored by
// persistent cell identity, so a cell keeps its color across the whole
// sequence. Regions with no tracked identity at this frame render gray.
func TrackOverlayImage(labels *models.LabelMap, cells []*tracking.TrackedCell, frame int) *image.RGBA {
	// map frame-local labels to persistent ids
	labelToID := make(map[int]int64)
	for _, cell := range cells {
		if rec, ok := cell.RecordAt(frame); ok {
			labelToID[rec.Label] = cell.ID
		}
	}

	untracked := color.RGBA{128, 128, 128, 255}
	img := image.NewRGBA(image.Rect(0, 0, labels.Width, labels.Height))
	for y := 0; y < labels.Height; y++ {
		for x := 0; x < labels.Width; x++ {
			label := labels.At(x, y)
			if label == 0 {
				img.Set(x, y, color.RGBA{0, 0, 0, 255})
				continue
			}
			if id, ok := labelToID[label]; ok {
				img.Set(x, y, paletteColor(id))
			} else {
				img.Set(x, y, untracked)
			}
		}
	}
	return img
}

// SavePNG writes an image to disk, creating parent directories as
// needed.
func SavePNG(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("encode %s: %w", filename, err)
	}
	return nil
}

// SaveTrackOverlaySequence renders and saves a track overlay for every
// frame that has a label map.
func SaveTrackOverlaySequence(labelMaps []*models.LabelMap, cells []*tracking.TrackedCell, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for frame, labels := range labelMaps {
		if labels == nil {
			continue
		}
		img := TrackOverlayImage(labels, cells, frame)
		filename := filepath.Join(outputDir, fmt.Sprintf("overlay_%03d.png", frame))
		if err := SavePNG(img, filename); err != nil {
			return err
		}
	}
	return nil
}
