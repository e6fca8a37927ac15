// Package segment converts binary masks into labeled cell regions via
// connected-component analysis.
package segment

import (
	"flimtrack/internal/models"
)

// eight-connectivity neighbor offsets; diagonal neighbors count as
// connected so cells touching only at a corner are not split.
var neighbors8 = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Label performs 8-connected component labeling on a binary mask and
// returns a label map of identical shape. Components smaller than
// minArea are relabeled to background (noise speckles); components
// larger than maxArea are likewise discarded when maxArea > 0
// (merged-cell artifacts). Survivors are renumbered to the dense
// sequence 1..K in row-major first-appearance order, so identical
// masks always yield identical label maps.
func Label(mask *models.Mask, minArea, maxArea int) *models.LabelMap {
	w, h := mask.Width, mask.Height
	lm := models.NewLabelMap(w, h)

	// First pass: flood fill components in row-major scan order,
	// collecting the pixel indices of each component.
	visited := make([]bool, w*h)
	var components [][]int
	stack := make([]int, 0, 64)

	for start := 0; start < w*h; start++ {
		if !mask.Bits[start] || visited[start] {
			continue
		}
		visited[start] = true
		stack = append(stack[:0], start)
		component := []int{start}

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w

			for _, d := range neighbors8 {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				nidx := ny*w + nx
				if mask.Bits[nidx] && !visited[nidx] {
					visited[nidx] = true
					stack = append(stack, nidx)
					component = append(component, nidx)
				}
			}
		}
		components = append(components, component)
	}

	// Second pass: area filter and dense renumbering. Components were
	// discovered in row-major order of their first pixel, which fixes
	// the label order deterministically.
	next := 0
	for _, component := range components {
		area := len(component)
		if area < minArea {
			continue
		}
		if maxArea > 0 && area > maxArea {
			continue
		}
		next++
		for _, idx := range component {
			lm.Labels[idx] = next
		}
	}
	lm.Count = next
	return lm
}

// FillHoles returns a copy of the mask with small enclosed background
// pockets filled. A hole is a 4-connected background component that
// does not touch the frame border; holes of at most maxHoleArea pixels
// become foreground. maxHoleArea <= 0 disables filling.
func FillHoles(mask *models.Mask, maxHoleArea int) *models.Mask {
	out := mask.Clone()
	if maxHoleArea <= 0 {
		return out
	}

	w, h := mask.Width, mask.Height
	visited := make([]bool, w*h)
	stack := make([]int, 0, 64)
	offsets4 := [4][2]int{{0, -1}, {-1, 0}, {1, 0}, {0, 1}}

	for start := 0; start < w*h; start++ {
		if mask.Bits[start] || visited[start] {
			continue
		}
		visited[start] = true
		stack = append(stack[:0], start)
		component := []int{start}
		touchesBorder := false

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w
			if x == 0 || x == w-1 || y == 0 || y == h-1 {
				touchesBorder = true
			}

			for _, d := range offsets4 {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				nidx := ny*w + nx
				if !mask.Bits[nidx] && !visited[nidx] {
					visited[nidx] = true
					stack = append(stack, nidx)
					component = append(component, nidx)
				}
			}
		}

		if !touchesBorder && len(component) <= maxHoleArea {
			for _, idx := range component {
				out.Bits[idx] = true
			}
		}
	}
	return out
}
