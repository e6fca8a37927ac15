package segment

import (
	"testing"

	"flimtrack/internal/models"
)

// maskFrom builds a mask from rows of '0'/'1' characters.
func maskFrom(rows ...string) *models.Mask {
	h := len(rows)
	w := len(rows[0])
	m := models.NewMask(w, h)
	for y, row := range rows {
		for x, c := range row {
			m.Set(x, y, c == '1')
		}
	}
	return m
}

func TestLabelDiagonalTouchIsOneRegion(t *testing.T) {
	// Two pixels touching only at a corner: 8-connectivity must join
	// them into a single region (4-connectivity would yield two).
	mask := maskFrom(
		"10",
		"01",
	)
	lm := Label(mask, 1, 0)
	if lm.Count != 1 {
		t.Errorf("diagonal pixels labeled as %d regions, want 1", lm.Count)
	}
	if lm.At(0, 0) != lm.At(1, 1) {
		t.Errorf("diagonal pixels carry labels %d and %d, want equal", lm.At(0, 0), lm.At(1, 1))
	}
}

func TestLabelSeparateRegions(t *testing.T) {
	mask := maskFrom(
		"1100011",
		"1100011",
		"0000000",
		"0011100",
	)
	lm := Label(mask, 1, 0)
	if lm.Count != 3 {
		t.Fatalf("got %d regions, want 3", lm.Count)
	}

	// Labels follow row-major first-appearance order.
	if lm.At(0, 0) != 1 {
		t.Errorf("top-left region label = %d, want 1", lm.At(0, 0))
	}
	if lm.At(5, 0) != 2 {
		t.Errorf("top-right region label = %d, want 2", lm.At(5, 0))
	}
	if lm.At(3, 3) != 3 {
		t.Errorf("bottom region label = %d, want 3", lm.At(3, 3))
	}
}

func TestLabelMinAreaFilter(t *testing.T) {
	mask := maskFrom(
		"1110000",
		"1110010",
		"1110000",
	)
	lm := Label(mask, 2, 0)
	if lm.Count != 1 {
		t.Errorf("got %d regions after speckle removal, want 1", lm.Count)
	}
	if lm.At(5, 1) != 0 {
		t.Errorf("single-pixel speckle kept label %d, want background", lm.At(5, 1))
	}
	// Surviving region is renumbered densely from 1.
	if lm.At(0, 0) != 1 {
		t.Errorf("surviving region label = %d, want 1", lm.At(0, 0))
	}
}

func TestLabelMaxAreaFilter(t *testing.T) {
	mask := maskFrom(
		"1111100",
		"1111100",
		"0000011",
	)
	lm := Label(mask, 1, 4)
	if lm.Count != 1 {
		t.Fatalf("got %d regions, want 1 after discarding the oversize component", lm.Count)
	}
	if lm.At(0, 0) != 0 {
		t.Errorf("oversize region kept label %d, want background", lm.At(0, 0))
	}
	if lm.At(5, 2) != 1 {
		t.Errorf("small region label = %d, want 1", lm.At(5, 2))
	}
}

func TestLabelIdempotent(t *testing.T) {
	mask := maskFrom(
		"110010",
		"110010",
		"000000",
		"011000",
	)
	first := Label(mask, 1, 0)

	// Re-binarize the label map and label again: same region count and
	// same pixel memberships (label numbers may differ in general).
	second := Label(first.ToMask(), 1, 0)
	if second.Count != first.Count {
		t.Fatalf("relabeling changed region count: %d -> %d", first.Count, second.Count)
	}
	for i := range first.Labels {
		a, b := first.Labels[i] > 0, second.Labels[i] > 0
		if a != b {
			t.Fatalf("pixel %d changed foreground membership on relabel", i)
		}
	}
	// Pixels sharing a label the first time must share one the second time.
	mapping := map[int]int{}
	for i, l := range first.Labels {
		if l == 0 {
			continue
		}
		if mapped, ok := mapping[l]; ok {
			if second.Labels[i] != mapped {
				t.Fatalf("region %d split apart on relabel", l)
			}
		} else {
			mapping[l] = second.Labels[i]
		}
	}
}

func TestLabelDeterministic(t *testing.T) {
	mask := maskFrom(
		"101010",
		"010101",
		"101010",
	)
	a := Label(mask, 1, 0)
	b := Label(mask, 1, 0)
	if a.Count != b.Count {
		t.Fatalf("region counts differ: %d vs %d", a.Count, b.Count)
	}
	for i := range a.Labels {
		if a.Labels[i] != b.Labels[i] {
			t.Fatalf("labels differ at pixel %d: %d vs %d", i, a.Labels[i], b.Labels[i])
		}
	}
}

func TestFillHoles(t *testing.T) {
	mask := maskFrom(
		"11111",
		"11011",
		"11111",
	)
	filled := FillHoles(mask, 50)
	if !filled.At(2, 1) {
		t.Error("enclosed hole was not filled")
	}

	// The original mask is untouched.
	if mask.At(2, 1) {
		t.Error("FillHoles mutated its input")
	}
}

func TestFillHolesKeepsBorderBackground(t *testing.T) {
	mask := maskFrom(
		"11110",
		"11010",
		"11110",
	)
	filled := FillHoles(mask, 50)
	if filled.At(4, 1) {
		t.Error("background touching the border was filled")
	}
	if !filled.At(2, 1) {
		t.Error("enclosed hole was not filled")
	}
}

func TestFillHolesRespectsMaxArea(t *testing.T) {
	mask := maskFrom(
		"11111",
		"10011",
		"10011",
		"11111",
	)
	// Hole of 4 pixels stays when the limit is below its area.
	filled := FillHoles(mask, 3)
	if filled.At(1, 1) {
		t.Error("hole larger than maxHoleArea was filled")
	}
}
