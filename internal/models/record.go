package models

import "math"

// LifetimeStats holds the descriptive statistics of the lifetime values
// inside one region. The median is the primary statistic because it is
// robust against outlier pixels from detector noise; the standard
// deviation is the population form so values stay comparable across
// cell sizes. A region with no valid pixels carries NaN in every field
// and ValidPixels == 0; statistics are never silently zero.
type LifetimeStats struct {
	Median float64
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64

	// ValidPixels counts the lifetime pixels that entered the statistics
	ValidPixels int
}

// UndefinedStats returns the explicit undefined marker used for regions
// whose valid lifetime pixel count is zero.
func UndefinedStats() LifetimeStats {
	nan := math.NaN()
	return LifetimeStats{Median: nan, Mean: nan, StdDev: nan, Min: nan, Max: nan}
}

// Defined reports whether the statistics were computed from at least
// one valid pixel.
func (s LifetimeStats) Defined() bool {
	return s.ValidPixels > 0
}

// CellRecord describes one segmented region at one time point.
// Records are immutable once produced by the frame analyzer.
type CellRecord struct {
	// FrameIndex is the time point this record belongs to
	FrameIndex int

	// Label is the region label within this frame's label map;
	// labels are not stable across frames
	Label int

	// Area is the region size in pixels
	Area int

	// CentroidX and CentroidY are the pixel-coordinate centroid of the region
	CentroidX float64
	CentroidY float64

	// Stats summarizes the lifetime channel inside the region
	Stats LifetimeStats

	// Excluded flags a record whose statistics are undefined; such
	// records are kept but left out of aggregate reporting
	Excluded bool
}
