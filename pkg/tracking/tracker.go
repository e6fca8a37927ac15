// Package tracking assigns persistent identities to segmented cell
// regions across a sequence of frames.
package tracking

import (
	"fmt"
	"math"
	"sort"

	"flimtrack/internal/models"
)

// CellState represents the lifecycle state of a tracked cell.
type CellState string

const (
	// CellActive means the cell matched a region in the most recent frame.
	CellActive CellState = "active"

	// CellGapped means the cell has gone unmatched for 1..G consecutive
	// frames and is still eligible for matching.
	CellGapped CellState = "gapped"

	// CellLost means the cell exceeded the gap tolerance. Lost is
	// terminal: the cell stays in the output but leaves the matching pool.
	CellLost CellState = "lost"
)

// Observation links a tracked cell to its region record at one frame.
type Observation struct {
	FrameIndex int
	Record     models.CellRecord
}

// TrackedCell is one persistent cell identity with its per-frame
// observation sequence. The sequence is append-only and holds at most
// one observation per frame; a frame with no match is simply absent (a gap).
type TrackedCell struct {
	// ID is the persistent identity, unique within a tracker, assigned
	// in creation order starting at 1.
	ID int64

	State CellState

	// GapCount is the number of consecutive unmatched frames while Gapped
	GapCount int

	// FirstFrame and LastFrame bound the observed frame range
	FirstFrame int
	LastFrame  int

	Observations []Observation
}

// LastRecord returns the most recent observation's record. It is the
// reference used when matching against the next frame.
func (c *TrackedCell) LastRecord() models.CellRecord {
	return c.Observations[len(c.Observations)-1].Record
}

// RecordAt returns the cell's record at the given frame, if any.
func (c *TrackedCell) RecordAt(frame int) (models.CellRecord, bool) {
	for _, obs := range c.Observations {
		if obs.FrameIndex == frame {
			return obs.Record, true
		}
	}
	return models.CellRecord{}, false
}

// SimilarityFunc scores a candidate pairing of a cell's last record
// against a current-frame record. Ineligible pairs return -Inf. The
// scoring function is pluggable so an optimal-assignment strategy can
// replace the default greedy resolution without touching the tracker.
type SimilarityFunc func(prev, cur models.CellRecord) float64

// Config holds the tracker matching parameters.
type Config struct {
	// MaxCentroidDistance is the eligibility limit on centroid
	// displacement between consecutive observations, in pixels.
	MaxCentroidDistance float64

	// MaxAreaRatio is the eligibility limit on the larger-over-smaller
	// area ratio between consecutive observations. Must be >= 1.
	MaxAreaRatio float64

	// GapTolerance is G, the number of consecutive unmatched frames a
	// cell may survive before becoming Lost. G = 0 loses a cell on its
	// first unmatched frame.
	GapTolerance int

	// Similarity overrides the default tolerance-based scoring when set.
	Similarity SimilarityFunc
}

// DefaultConfig returns the tracker defaults: 50 px displacement,
// 2x area ratio, gap tolerance 1.
func DefaultConfig() Config {
	return Config{
		MaxCentroidDistance: 50,
		MaxAreaRatio:        2.0,
		GapTolerance:        1,
	}
}

// similarity is the default score: the sum of a normalized centroid
// proximity term and an area-overlap term, each in (0, 1]. Pairs
// outside either tolerance are ineligible.
func (cfg Config) similarity(prev, cur models.CellRecord) float64 {
	dx := cur.CentroidX - prev.CentroidX
	dy := cur.CentroidY - prev.CentroidY
	dist := math.Hypot(dx, dy)
	if dist > cfg.MaxCentroidDistance {
		return math.Inf(-1)
	}

	small, large := float64(prev.Area), float64(cur.Area)
	if small > large {
		small, large = large, small
	}
	if large > small*cfg.MaxAreaRatio {
		return math.Inf(-1)
	}

	distScore := 1 - dist/cfg.MaxCentroidDistance
	areaScore := small / large
	return distScore + areaScore
}

// Tracker maintains the persistent cell registry across a frame
// sequence. All state is held explicitly on the tracker and updated
// once per frame, so a single frame transition can be unit tested in
// isolation. Frames must be observed in strictly increasing order; the
// tracker itself is not safe for concurrent use.
type Tracker struct {
	cells   []*TrackedCell
	nextID  int64
	config  Config
	skipped []int

	lastFrame int
	started   bool
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(config Config) *Tracker {
	if config.Similarity == nil {
		cfg := config
		config.Similarity = cfg.similarity
	}
	return &Tracker{
		config: config,
		nextID: 1,
	}
}

// candidate is one scored pairing considered by the greedy assignment.
type candidate struct {
	cellIdx int
	recIdx  int
	cellID  int64
	label   int
	score   float64
}

// Observe processes one frame's fresh region records and updates the
// registry:
//
//  1. Score every matchable (active or gapped) cell against every
//     current-frame region; pairs outside tolerance are ineligible.
//  2. Resolve eligible pairs greedily in descending score order, ties
//     broken by lower persistent id, then lower current label.
//  3. Unclaimed current regions each start a new Active cell.
//  4. Unmatched cells gain a gap (Active -> Gapped, or gap counter
//     increment); beyond the gap tolerance they become Lost.
//
// Matching is strictly one-to-one: a split or merge shows up as an
// independent loss plus an independent gain.
func (t *Tracker) Observe(frame int, records []models.CellRecord) error {
	if err := t.checkFrameOrder(frame); err != nil {
		return err
	}

	// Step 1: score all eligible pairs.
	matchable := t.matchableCells()
	candidates := make([]candidate, 0, len(matchable)*len(records))
	for _, ci := range matchable {
		cell := t.cells[ci]
		prev := cell.LastRecord()
		for ri, rec := range records {
			score := t.config.Similarity(prev, rec)
			if math.IsInf(score, -1) {
				continue
			}
			candidates = append(candidates, candidate{
				cellIdx: ci,
				recIdx:  ri,
				cellID:  cell.ID,
				label:   rec.Label,
				score:   score,
			})
		}
	}

	// Step 2: greedy highest-score-first assignment with deterministic
	// tie-breaks.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].cellID != candidates[j].cellID {
			return candidates[i].cellID < candidates[j].cellID
		}
		return candidates[i].label < candidates[j].label
	})

	cellClaimed := make(map[int]bool, len(matchable))
	recClaimed := make(map[int]bool, len(records))
	for _, cand := range candidates {
		if cellClaimed[cand.cellIdx] || recClaimed[cand.recIdx] {
			continue
		}
		cellClaimed[cand.cellIdx] = true
		recClaimed[cand.recIdx] = true

		cell := t.cells[cand.cellIdx]
		cell.State = CellActive
		cell.GapCount = 0
		cell.LastFrame = frame
		cell.Observations = append(cell.Observations, Observation{
			FrameIndex: frame,
			Record:     records[cand.recIdx],
		})
	}

	// Step 4 (before new cells so they cannot gap on their birth frame):
	// advance gap counters on unmatched cells.
	for _, ci := range matchable {
		if !cellClaimed[ci] {
			t.advanceGap(t.cells[ci])
		}
	}

	// Step 3: every unclaimed region starts a new cell, in ascending
	// record order for deterministic id assignment.
	for ri, rec := range records {
		if recClaimed[ri] {
			continue
		}
		t.cells = append(t.cells, &TrackedCell{
			ID:         t.nextID,
			State:      CellActive,
			FirstFrame: frame,
			LastFrame:  frame,
			Observations: []Observation{{
				FrameIndex: frame,
				Record:     rec,
			}},
		})
		t.nextID++
	}

	t.lastFrame = frame
	t.started = true
	return nil
}

// SkipFrame advances the tracker past a malformed frame: no matching is
// attempted, no cells are created, and every matchable cell gains a gap
// exactly as if it had gone unmatched. The skip is recorded for the
// final report.
func (t *Tracker) SkipFrame(frame int) error {
	if err := t.checkFrameOrder(frame); err != nil {
		return err
	}
	for _, ci := range t.matchableCells() {
		t.advanceGap(t.cells[ci])
	}
	t.skipped = append(t.skipped, frame)
	t.lastFrame = frame
	t.started = true
	return nil
}

func (t *Tracker) checkFrameOrder(frame int) error {
	if t.started && frame <= t.lastFrame {
		return fmt.Errorf("frames must be processed in increasing order: frame %d after %d", frame, t.lastFrame)
	}
	return nil
}

// matchableCells returns the indices of cells in the matching pool
// (active or gapped), in ascending id order.
func (t *Tracker) matchableCells() []int {
	idxs := make([]int, 0, len(t.cells))
	for i, cell := range t.cells {
		if cell.State == CellActive || cell.State == CellGapped {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// advanceGap applies one unmatched frame to a cell.
func (t *Tracker) advanceGap(cell *TrackedCell) {
	cell.State = CellGapped
	cell.GapCount++
	if cell.GapCount > t.config.GapTolerance {
		cell.State = CellLost
	}
}

// Cells returns every tracked cell, including Lost ones, in ascending
// persistent id order.
func (t *Tracker) Cells() []*TrackedCell {
	out := make([]*TrackedCell, len(t.cells))
	copy(out, t.cells)
	return out
}

// ActiveCells returns the cells matched in the most recent frame.
func (t *Tracker) ActiveCells() []*TrackedCell {
	out := make([]*TrackedCell, 0, len(t.cells))
	for _, cell := range t.cells {
		if cell.State == CellActive {
			out = append(out, cell)
		}
	}
	return out
}

// SkippedFrames returns the frames skipped as malformed, in order.
func (t *Tracker) SkippedFrames() []int {
	out := make([]int, len(t.skipped))
	copy(out, t.skipped)
	return out
}

// CountByState returns the number of cells in each lifecycle state.
func (t *Tracker) CountByState() (active, gapped, lost int) {
	for _, cell := range t.cells {
		switch cell.State {
		case CellActive:
			active++
		case CellGapped:
			gapped++
		case CellLost:
			lost++
		}
	}
	return active, gapped, lost
}
