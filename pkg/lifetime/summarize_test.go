package lifetime

import (
	"errors"
	"math"
	"testing"

	"flimtrack/internal/models"
)

// labeledRegion builds a 5x1 label map with one region covering all
// pixels, plus a lifetime frame with the given values.
func labeledRegion(values []float64) (*models.LabelMap, *models.Frame) {
	w := len(values)
	lm := models.NewLabelMap(w, 1)
	frame := models.NewFrame(w, 1)
	for i, v := range values {
		lm.Labels[i] = 1
		frame.Pix[i] = v
	}
	lm.Count = 1
	return lm, frame
}

func TestSummarizeRobustMedian(t *testing.T) {
	lm, frame := labeledRegion([]float64{1, 2, 3, 4, 100})

	records, err := Summarize(lm, frame, 0)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	rec := records[0]
	if rec.Stats.Median != 3 {
		t.Errorf("median = %f, want 3 (robust to the outlier)", rec.Stats.Median)
	}
	if rec.Stats.Mean != 22 {
		t.Errorf("mean = %f, want 22", rec.Stats.Mean)
	}
	if rec.Stats.Min != 1 || rec.Stats.Max != 100 {
		t.Errorf("min/max = %f/%f, want 1/100", rec.Stats.Min, rec.Stats.Max)
	}
	if rec.Stats.ValidPixels != 5 {
		t.Errorf("valid pixels = %d, want 5", rec.Stats.ValidPixels)
	}

	// Population standard deviation, not sample.
	want := 0.0
	for _, v := range []float64{1, 2, 3, 4, 100} {
		want += (v - 22) * (v - 22)
	}
	want = math.Sqrt(want / 5)
	if math.Abs(rec.Stats.StdDev-want) > 1e-9 {
		t.Errorf("population stddev = %f, want %f", rec.Stats.StdDev, want)
	}
}

func TestSummarizeEvenCountMedian(t *testing.T) {
	lm, frame := labeledRegion([]float64{1, 2, 3, 4})

	records, err := Summarize(lm, frame, 0)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	// Even sample count averages the two middle values; the lower
	// middle element alone would understate half of all regions.
	if rec := records[0]; rec.Stats.Median != 2.5 {
		t.Errorf("median of even-count sample = %f, want 2.5", rec.Stats.Median)
	}
}

func TestSummarizeSkipsInvalidPixels(t *testing.T) {
	nan := math.NaN()
	lm, frame := labeledRegion([]float64{2.5, nan, 2.5, nan, 2.5})

	records, err := Summarize(lm, frame, 0)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	rec := records[0]
	if rec.Stats.ValidPixels != 3 {
		t.Errorf("valid pixels = %d, want 3", rec.Stats.ValidPixels)
	}
	if rec.Stats.Median != 2.5 || rec.Stats.Mean != 2.5 {
		t.Errorf("median/mean = %f/%f, want 2.5/2.5", rec.Stats.Median, rec.Stats.Mean)
	}
	// Area still counts every labeled pixel, valid or not.
	if rec.Area != 5 {
		t.Errorf("area = %d, want 5", rec.Area)
	}
}

func TestSummarizeAllInvalidIsUndefined(t *testing.T) {
	nan := math.NaN()
	lm, frame := labeledRegion([]float64{nan, nan, nan})

	records, err := Summarize(lm, frame, 0)
	if err != nil {
		t.Fatalf("an empty region must be recovered locally, got error: %v", err)
	}
	rec := records[0]
	if !rec.Excluded {
		t.Error("record with zero valid pixels not flagged Excluded")
	}
	if rec.Stats.Defined() {
		t.Error("stats reported as defined with zero valid pixels")
	}
	// Undefined marker is NaN, never numeric 0.
	for name, v := range map[string]float64{
		"median": rec.Stats.Median,
		"mean":   rec.Stats.Mean,
		"stddev": rec.Stats.StdDev,
		"min":    rec.Stats.Min,
		"max":    rec.Stats.Max,
	} {
		if !math.IsNaN(v) {
			t.Errorf("%s = %f, want NaN undefined marker", name, v)
		}
	}
}

func TestSummarizeAscendingLabelOrderAndCentroids(t *testing.T) {
	lm := models.NewLabelMap(4, 2)
	// Region 1: pixels (0,0),(1,0); region 2: pixels (2,1),(3,1).
	lm.Labels[0], lm.Labels[1] = 1, 1
	lm.Labels[6], lm.Labels[7] = 2, 2
	lm.Count = 2
	frame := models.NewFrame(4, 2)
	for i := range frame.Pix {
		frame.Pix[i] = 1.0
	}

	records, err := Summarize(lm, frame, 3)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if len(records) != 2 || records[0].Label != 1 || records[1].Label != 2 {
		t.Fatalf("records not in ascending label order: %+v", records)
	}
	if records[0].FrameIndex != 3 {
		t.Errorf("frame index = %d, want 3", records[0].FrameIndex)
	}
	if records[0].CentroidX != 0.5 || records[0].CentroidY != 0 {
		t.Errorf("region 1 centroid = (%f,%f), want (0.5,0)", records[0].CentroidX, records[0].CentroidY)
	}
	if records[1].CentroidX != 2.5 || records[1].CentroidY != 1 {
		t.Errorf("region 2 centroid = (%f,%f), want (2.5,1)", records[1].CentroidX, records[1].CentroidY)
	}
}

func TestSummarizeShapeMismatch(t *testing.T) {
	lm := models.NewLabelMap(4, 4)
	frame := models.NewFrame(3, 4)
	_, err := Summarize(lm, frame, 0)
	var shapeErr *models.ShapeMismatchError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected ShapeMismatchError, got %v", err)
	}
}

func TestAggregateRecords(t *testing.T) {
	records := []models.CellRecord{
		{Area: 10, Stats: models.LifetimeStats{Median: 2.0, Mean: 2.0, ValidPixels: 10}},
		{Area: 20, Stats: models.LifetimeStats{Median: 4.0, Mean: 4.0, ValidPixels: 30}},
		{Area: 5, Stats: models.UndefinedStats(), Excluded: true},
	}

	agg := AggregateRecords(records)
	if agg.CellCount != 3 || agg.ExcludedCount != 1 {
		t.Errorf("counts = %d/%d, want 3/1", agg.CellCount, agg.ExcludedCount)
	}
	if agg.TotalArea != 35 {
		t.Errorf("total area = %d, want 35", agg.TotalArea)
	}
	wantMean := (2.0*10 + 4.0*30) / 40
	if math.Abs(agg.MeanLifetime-wantMean) > 1e-12 {
		t.Errorf("mean lifetime = %f, want %f", agg.MeanLifetime, wantMean)
	}
	// Two defined medians average to their midpoint.
	if agg.MedianOfMedians != 3.0 {
		t.Errorf("median of medians = %f, want 3.0", agg.MedianOfMedians)
	}
}

func TestAggregateAllExcluded(t *testing.T) {
	records := []models.CellRecord{
		{Area: 5, Stats: models.UndefinedStats(), Excluded: true},
	}
	agg := AggregateRecords(records)
	if !math.IsNaN(agg.MeanLifetime) || !math.IsNaN(agg.MedianOfMedians) {
		t.Error("aggregates over excluded-only records must stay NaN")
	}
}
