package analysis

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"flimtrack/internal/models"
	"flimtrack/pkg/stack"
	"flimtrack/pkg/threshold"
	"flimtrack/pkg/tracking"
)

// cellFrames builds a co-registered intensity/lifetime pair with one
// bright square cell on a dark background.
func cellFrames(width, height, x0, y0, side int, lifetimeNs float64) (*models.Frame, *models.Frame) {
	intensity := models.NewFrame(width, height)
	life := models.NewFrame(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			intensity.Set(x, y, 0.05)
			life.Set(x, y, math.NaN())
		}
	}
	for y := y0; y < y0+side; y++ {
		for x := x0; x < x0+side; x++ {
			intensity.Set(x, y, 0.9)
			life.Set(x, y, lifetimeNs)
		}
	}
	return intensity, life
}

func testAnalyzer() *Analyzer {
	return &Analyzer{
		Threshold: threshold.DefaultConfig(),
		MinArea:   50,
	}
}

func TestAnalyzeFrameShapeMismatch(t *testing.T) {
	a := testAnalyzer()
	intensity := models.NewFrame(64, 64)
	life := models.NewFrame(32, 64)

	_, err := a.AnalyzeFrame(intensity, life, 0)
	var mismatch *models.ShapeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ShapeMismatchError, got %v", err)
	}
}

func TestAnalyzeFrameSingleCell(t *testing.T) {
	a := testAnalyzer()
	intensity, life := cellFrames(64, 64, 20, 20, 10, 2.5)

	res, err := a.AnalyzeFrame(intensity, life, 3)
	if err != nil {
		t.Fatalf("AnalyzeFrame failed: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 cell record, got %d", len(res.Records))
	}
	rec := res.Records[0]
	if rec.FrameIndex != 3 || rec.Label != 1 {
		t.Errorf("record identity = frame %d label %d, want frame 3 label 1", rec.FrameIndex, rec.Label)
	}
	if rec.Area != 100 {
		t.Errorf("area = %d, want 100", rec.Area)
	}
	if rec.Stats.Median != 2.5 || rec.Stats.Mean != 2.5 {
		t.Errorf("stats = median %v mean %v, want 2.5 both", rec.Stats.Median, rec.Stats.Mean)
	}
	// 10x10 square starting at 20: centroid at 24.5
	if rec.CentroidX != 24.5 || rec.CentroidY != 24.5 {
		t.Errorf("centroid = (%v, %v), want (24.5, 24.5)", rec.CentroidX, rec.CentroidY)
	}
}

func TestAnalyzeFrameMinAreaFiltersNoise(t *testing.T) {
	a := testAnalyzer()
	intensity, life := cellFrames(64, 64, 10, 10, 10, 2.0)
	// speckle too small to survive the area filter
	intensity.Set(50, 50, 0.9)
	life.Set(50, 50, 9.0)

	res, err := a.AnalyzeFrame(intensity, life, 0)
	if err != nil {
		t.Fatalf("AnalyzeFrame failed: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected speckle to be filtered, got %d records", len(res.Records))
	}
}

func seriesPairs(frames int) []stack.FramePair {
	pairs := make([]stack.FramePair, 0, frames)
	for i := 0; i < frames; i++ {
		intensity, life := cellFrames(64, 64, 20, 20, 10, 2.5)
		pairs = append(pairs, stack.FramePair{Index: i, Intensity: intensity, Lifetime: life})
	}
	return pairs
}

func TestAnalyzeSeriesStationaryCell(t *testing.T) {
	a := testAnalyzer()
	res, err := a.AnalyzeSeries(seriesPairs(3), tracking.DefaultConfig(), 2)
	if err != nil {
		t.Fatalf("AnalyzeSeries failed: %v", err)
	}
	if len(res.Cells) != 1 {
		t.Fatalf("expected 1 tracked cell, got %d", len(res.Cells))
	}
	cell := res.Cells[0]
	if cell.State != tracking.CellActive {
		t.Errorf("state = %v, want active", cell.State)
	}
	if len(cell.Observations) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(cell.Observations))
	}
	for _, obs := range cell.Observations {
		if obs.Record.Stats.Median != 2.5 {
			t.Errorf("frame %d median = %v, want 2.5", obs.FrameIndex, obs.Record.Stats.Median)
		}
	}
	if len(res.Skipped) != 0 {
		t.Errorf("unexpected skipped frames: %v", res.Skipped)
	}
}

func TestAnalyzeSeriesSkipsBadFrame(t *testing.T) {
	a := testAnalyzer()
	pairs := seriesPairs(3)
	// corrupt the middle frame's lifetime channel shape
	pairs[1].Lifetime = models.NewFrame(32, 64)

	res, err := a.AnalyzeSeries(pairs, tracking.DefaultConfig(), 1)
	if err != nil {
		t.Fatalf("AnalyzeSeries failed: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Index != 1 {
		t.Fatalf("skipped = %+v, want frame 1 only", res.Skipped)
	}
	if res.Frames[1] != nil {
		t.Error("expected nil frame result for skipped frame")
	}
	// gap tolerance 1: the cell survives the skip and reacquires
	if len(res.Cells) != 1 {
		t.Fatalf("expected 1 tracked cell across the gap, got %d", len(res.Cells))
	}
	cell := res.Cells[0]
	if cell.State != tracking.CellActive {
		t.Errorf("state = %v, want active after reacquisition", cell.State)
	}
	if len(cell.Observations) != 2 {
		t.Errorf("expected 2 observations (frames 0 and 2), got %d", len(cell.Observations))
	}
}

func TestAnalyzeSeriesEmpty(t *testing.T) {
	a := testAnalyzer()
	if _, err := a.AnalyzeSeries(nil, tracking.DefaultConfig(), 1); err == nil {
		t.Fatal("expected error for empty series")
	}
}

func TestAnalyzeSeriesDeterministic(t *testing.T) {
	a := testAnalyzer()
	pairs := make([]stack.FramePair, 0, 3)
	for i := 0; i < 3; i++ {
		intensity, life := cellFrames(96, 96, 10+2*i, 10, 10, 2.0)
		i2, l2 := cellFrames(96, 96, 60, 60-2*i, 12, 3.5)
		// merge the second cell into the same pair of frames
		for y := 0; y < 96; y++ {
			for x := 0; x < 96; x++ {
				if i2.At(x, y) > 0.5 {
					intensity.Set(x, y, i2.At(x, y))
					life.Set(x, y, l2.At(x, y))
				}
			}
		}
		pairs = append(pairs, stack.FramePair{Index: i, Intensity: intensity, Lifetime: life})
	}

	first, err := a.AnalyzeSeries(pairs, tracking.DefaultConfig(), 4)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := a.AnalyzeSeries(pairs, tracking.DefaultConfig(), 4)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if !reflect.DeepEqual(first.Cells, second.Cells) {
		t.Error("tracked cells differ between identical runs")
	}
	if !reflect.DeepEqual(first.Skipped, second.Skipped) {
		t.Error("skipped frames differ between identical runs")
	}
}
