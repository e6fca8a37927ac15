// Package analysis composes threshold selection, region labeling and
// lifetime summarization into per-frame cell record sets, and drives
// the tracked time-series pipeline over a loaded stack.
package analysis

import (
	"fmt"
	"runtime"
	"sync"

	"flimtrack/internal/models"
	"flimtrack/pkg/config"
	"flimtrack/pkg/lifetime"
	"flimtrack/pkg/segment"
	"flimtrack/pkg/stack"
	"flimtrack/pkg/threshold"
	"flimtrack/pkg/tracking"
)

// Analyzer runs the segmentation and summarization stages for single
// time points. It holds no per-frame state, so one analyzer can serve
// concurrent frame analyses.
type Analyzer struct {
	// Threshold selects the binarization strategy
	Threshold threshold.Config

	// MinArea and MaxArea filter labeled regions (MaxArea 0 disables)
	MinArea int
	MaxArea int

	// MaxHoleArea fills enclosed mask holes up to this size before
	// labeling; 0 disables hole filling
	MaxHoleArea int

	// Verbose enables step progress output in the series driver
	Verbose bool
}

// NewAnalyzer builds an analyzer from the application configuration.
func NewAnalyzer(cfg *config.Config) *Analyzer {
	return &Analyzer{
		Threshold: threshold.Config{
			Method:         threshold.Method(cfg.Threshold.Method),
			ManualValue:    cfg.Threshold.ManualValue,
			AdaptiveWindow: cfg.Threshold.AdaptiveWindow,
			AdaptiveOffset: cfg.Threshold.AdaptiveOffset,
		},
		MinArea:     cfg.Segmentation.MinArea,
		MaxArea:     cfg.Segmentation.MaxArea,
		MaxHoleArea: cfg.Segmentation.MaxHoleArea,
		Verbose:     cfg.Processing.Verbose,
	}
}

// FrameResult holds everything produced for one time point.
type FrameResult struct {
	Index          int
	ThresholdValue float64
	Mask           *models.Mask
	Labels         *models.LabelMap
	Records        []models.CellRecord
}

// AnalyzeFrame segments one intensity frame and summarizes its
// co-registered lifetime frame. Both frames must share dimensions;
// otherwise a ShapeMismatchError is returned and nothing is produced.
func (a *Analyzer) AnalyzeFrame(intensity, lifetimeFrame *models.Frame, index int) (*FrameResult, error) {
	if !intensity.SameShape(lifetimeFrame) {
		return nil, &models.ShapeMismatchError{
			Context:    fmt.Sprintf("frame %d channels", index),
			WantWidth:  intensity.Width,
			WantHeight: intensity.Height,
			GotWidth:   lifetimeFrame.Width,
			GotHeight:  lifetimeFrame.Height,
		}
	}

	mask, value, err := threshold.Apply(intensity, a.Threshold)
	if err != nil {
		return nil, fmt.Errorf("thresholding frame %d: %w", index, err)
	}
	if a.MaxHoleArea > 0 {
		mask = segment.FillHoles(mask, a.MaxHoleArea)
	}
	labels := segment.Label(mask, a.MinArea, a.MaxArea)

	records, err := lifetime.Summarize(labels, lifetimeFrame, index)
	if err != nil {
		return nil, fmt.Errorf("summarizing frame %d: %w", index, err)
	}

	return &FrameResult{
		Index:          index,
		ThresholdValue: value,
		Mask:           mask,
		Labels:         labels,
		Records:        records,
	}, nil
}

// SkippedFrame records one time point dropped from tracking with the
// reason, surfaced in the final report rather than silently absent.
type SkippedFrame struct {
	Index  int
	Reason string
}

// SeriesResult is the outcome of a tracked time-series run.
type SeriesResult struct {
	// Frames holds per-frame results indexed by time point; a skipped
	// frame leaves a nil entry
	Frames []*FrameResult

	// Cells is the full tracked-cell registry in persistent id order,
	// including lost cells
	Cells []*tracking.TrackedCell

	// Skipped lists frames excluded from tracking with reasons
	Skipped []SkippedFrame
}

// AnalyzeSeries runs the full pipeline over a frame-pair sequence.
//
// Frame analysis has no cross-frame dependencies, so time points are
// processed by a bounded worker pool. Tracking has a strict ordering
// dependency (frame N's matching depends on frame N-1's outcome), so
// the tracker consumes results sequentially in ascending frame order.
//
// A frame that fails analysis is skipped for tracking: cell state is
// carried forward, gap counters advance, and the skip is recorded. The
// series never aborts on a single bad frame.
func (a *Analyzer) AnalyzeSeries(pairs []stack.FramePair, trackCfg tracking.Config, workers int) (*SeriesResult, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("series contains no frames")
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	a.logf("Step 1: Analyzing %d frames with %d workers...\n", len(pairs), workers)
	results := make([]*FrameResult, len(pairs))
	errs := make([]error, len(pairs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i := range pairs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			p := pairs[i]
			results[i], errs[i] = a.AnalyzeFrame(p.Intensity, p.Lifetime, p.Index)
		}(i)
	}
	wg.Wait()

	a.logf("Step 2: Tracking cells across time points...\n")
	tracker := tracking.NewTracker(trackCfg)
	out := &SeriesResult{Frames: results}
	for i, res := range results {
		frameIndex := pairs[i].Index
		if errs[i] != nil {
			a.logf("Warning: skipping frame %d: %v\n", frameIndex, errs[i])
			out.Skipped = append(out.Skipped, SkippedFrame{Index: frameIndex, Reason: errs[i].Error()})
			if err := tracker.SkipFrame(frameIndex); err != nil {
				return nil, err
			}
			continue
		}
		if err := tracker.Observe(frameIndex, res.Records); err != nil {
			return nil, err
		}
	}

	out.Cells = tracker.Cells()
	active, gapped, lost := tracker.CountByState()
	a.logf("Tracked %d cells (%d active, %d gapped, %d lost) across %d frames\n",
		len(out.Cells), active, gapped, lost, len(pairs))
	return out, nil
}

func (a *Analyzer) logf(format string, args ...interface{}) {
	if a.Verbose {
		fmt.Printf(format, args...)
	}
}
