// Package lifetime computes per-cell descriptive statistics of the
// lifetime channel within labeled regions.
package lifetime

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"flimtrack/internal/models"
)

// Summarize gathers the lifetime values under each labeled region and
// produces one CellRecord per label in ascending label order. Pixels
// whose lifetime value is NaN are invalid (background sentinel) and
// excluded from the statistics. A region left with zero valid pixels
// yields a record carrying the undefined marker and the Excluded flag;
// this is a local recovery, never an error.
func Summarize(labels *models.LabelMap, lifetimeFrame *models.Frame, frameIndex int) ([]models.CellRecord, error) {
	if labels.Width != lifetimeFrame.Width || labels.Height != lifetimeFrame.Height {
		return nil, &models.ShapeMismatchError{
			Context:    "lifetime summarize",
			WantWidth:  labels.Width,
			WantHeight: labels.Height,
			GotWidth:   lifetimeFrame.Width,
			GotHeight:  lifetimeFrame.Height,
		}
	}

	// Single pass over the label map accumulating geometry and valid
	// lifetime samples per region.
	type accumulator struct {
		area       int
		sumX, sumY float64
		values     []float64
	}
	accs := make([]accumulator, labels.Count+1)

	w := labels.Width
	for idx, label := range labels.Labels {
		if label == 0 {
			continue
		}
		a := &accs[label]
		a.area++
		a.sumX += float64(idx % w)
		a.sumY += float64(idx / w)
		if v := lifetimeFrame.Pix[idx]; !math.IsNaN(v) {
			a.values = append(a.values, v)
		}
	}

	records := make([]models.CellRecord, 0, labels.Count)
	for label := 1; label <= labels.Count; label++ {
		a := &accs[label]
		rec := models.CellRecord{
			FrameIndex: frameIndex,
			Label:      label,
			Area:       a.area,
			CentroidX:  a.sumX / float64(a.area),
			CentroidY:  a.sumY / float64(a.area),
		}
		if len(a.values) == 0 {
			rec.Stats = models.UndefinedStats()
			rec.Excluded = true
		} else {
			rec.Stats = computeStats(a.values)
		}
		records = append(records, rec)
	}
	return records, nil
}

// median is the conventional sample median: the middle element for an
// odd count, the average of the two middle elements for an even count.
// The input must be sorted.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// computeStats fills the statistics block from at least one valid value.
// The slice is sorted in place.
func computeStats(values []float64) models.LifetimeStats {
	sort.Float64s(values)
	return models.LifetimeStats{
		Median:      median(values),
		Mean:        stat.Mean(values, nil),
		StdDev:      stat.PopStdDev(values, nil),
		Min:         values[0],
		Max:         values[len(values)-1],
		ValidPixels: len(values),
	}
}

// Aggregate summarizes a frame's record set for overall reporting.
// Excluded records contribute area and counts but no lifetime terms.
type Aggregate struct {
	CellCount     int
	ExcludedCount int
	TotalArea     int
	ValidPixels   int

	// MeanLifetime is the per-cell mean weighted by valid pixel count
	MeanLifetime float64

	// MedianOfMedians is the empirical median of the defined per-cell medians
	MedianOfMedians float64
}

// AggregateRecords computes frame-level aggregates across cell records.
// With no defined records the lifetime aggregates are NaN.
func AggregateRecords(records []models.CellRecord) Aggregate {
	agg := Aggregate{
		MeanLifetime:    math.NaN(),
		MedianOfMedians: math.NaN(),
	}

	var medians []float64
	weightedSum := 0.0
	for _, rec := range records {
		agg.CellCount++
		agg.TotalArea += rec.Area
		if rec.Excluded {
			agg.ExcludedCount++
			continue
		}
		agg.ValidPixels += rec.Stats.ValidPixels
		weightedSum += rec.Stats.Mean * float64(rec.Stats.ValidPixels)
		medians = append(medians, rec.Stats.Median)
	}

	if agg.ValidPixels > 0 {
		agg.MeanLifetime = weightedSum / float64(agg.ValidPixels)
	}
	if len(medians) > 0 {
		sort.Float64s(medians)
		agg.MedianOfMedians = median(medians)
	}
	return agg
}
