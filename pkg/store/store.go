// Package store persists analysis runs to a SQLite database so cell
// measurements and track histories can be queried after the fact.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"flimtrack/internal/models"
	"flimtrack/pkg/tracking"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a SQLite database holding analysis runs.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun registers a new analysis run and returns its identifier.
func (s *Store) CreateRun(sourceDir string, frameCount int) (string, error) {
	runID := uuid.NewString()
	query := `
		INSERT INTO runs (run_id, created_unix, source_dir, frame_count)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, runID, time.Now().Unix(), sourceDir, frameCount)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// SaveFrameRecords stores per-frame cell measurements for a run in a
// single transaction.
func (s *Store) SaveFrameRecords(runID string, records []models.CellRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO cell_records (
			run_id, frame_index, label, area, centroid_x, centroid_y,
			median_ns, mean_ns, stddev_ns, min_ns, max_ns,
			valid_pixels, excluded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.Exec(
			runID, rec.FrameIndex, rec.Label, rec.Area,
			rec.CentroidX, rec.CentroidY,
			nullFloat(rec.Stats.Median), nullFloat(rec.Stats.Mean),
			nullFloat(rec.Stats.StdDev), nullFloat(rec.Stats.Min),
			nullFloat(rec.Stats.Max),
			rec.Stats.ValidPixels, boolToInt(rec.Excluded),
		)
		if err != nil {
			return fmt.Errorf("insert cell record (frame %d label %d): %w", rec.FrameIndex, rec.Label, err)
		}
	}

	return tx.Commit()
}

// SaveSkippedFrame records a frame dropped from tracking.
func (s *Store) SaveSkippedFrame(runID string, frameIndex int, reason string) error {
	query := `
		INSERT INTO skipped_frames (run_id, frame_index, reason)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.Exec(query, runID, frameIndex, reason); err != nil {
		return fmt.Errorf("insert skipped frame %d: %w", frameIndex, err)
	}
	return nil
}

// SaveTrackedCells stores the tracked-cell registry and every
// observation for a run in a single transaction.
func (s *Store) SaveTrackedCells(runID string, cells []*tracking.TrackedCell) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	cellStmt, err := tx.Prepare(`
		INSERT INTO tracked_cells (
			run_id, cell_id, state, gap_count, first_frame, last_frame
		) VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare cell insert: %w", err)
	}
	defer cellStmt.Close()

	obsStmt, err := tx.Prepare(`
		INSERT INTO track_observations (
			run_id, cell_id, frame_index, label, area, centroid_x, centroid_y,
			median_ns, mean_ns, stddev_ns, min_ns, max_ns,
			valid_pixels, excluded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare observation insert: %w", err)
	}
	defer obsStmt.Close()

	for _, cell := range cells {
		_, err := cellStmt.Exec(
			runID, cell.ID, string(cell.State), cell.GapCount,
			cell.FirstFrame, cell.LastFrame,
		)
		if err != nil {
			return fmt.Errorf("insert tracked cell %d: %w", cell.ID, err)
		}
		for _, obs := range cell.Observations {
			rec := obs.Record
			_, err := obsStmt.Exec(
				runID, cell.ID, obs.FrameIndex, rec.Label, rec.Area,
				rec.CentroidX, rec.CentroidY,
				nullFloat(rec.Stats.Median), nullFloat(rec.Stats.Mean),
				nullFloat(rec.Stats.StdDev), nullFloat(rec.Stats.Min),
				nullFloat(rec.Stats.Max),
				rec.Stats.ValidPixels, boolToInt(rec.Excluded),
			)
			if err != nil {
				return fmt.Errorf("insert observation (cell %d frame %d): %w", cell.ID, obs.FrameIndex, err)
			}
		}
	}

	return tx.Commit()
}

// GetFrameRecords retrieves the stored measurements for one frame of a
// run, ordered by label.
func (s *Store) GetFrameRecords(runID string, frameIndex int) ([]models.CellRecord, error) {
	query := `
		SELECT frame_index, label, area, centroid_x, centroid_y,
		       median_ns, mean_ns, stddev_ns, min_ns, max_ns,
		       valid_pixels, excluded
		FROM cell_records
		WHERE run_id = ? AND frame_index = ?
		ORDER BY label
	`
	rows, err := s.db.Query(query, runID, frameIndex)
	if err != nil {
		return nil, fmt.Errorf("query cell records: %w", err)
	}
	defer rows.Close()

	var records []models.CellRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetTrackedCells retrieves the tracked-cell registry for a run with
// observations attached, ordered by persistent id.
func (s *Store) GetTrackedCells(runID string) ([]*tracking.TrackedCell, error) {
	query := `
		SELECT cell_id, state, gap_count, first_frame, last_frame
		FROM tracked_cells
		WHERE run_id = ?
		ORDER BY cell_id
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("query tracked cells: %w", err)
	}
	defer rows.Close()

	var cells []*tracking.TrackedCell
	for rows.Next() {
		var cell tracking.TrackedCell
		var state string
		err := rows.Scan(&cell.ID, &state, &cell.GapCount, &cell.FirstFrame, &cell.LastFrame)
		if err != nil {
			return nil, fmt.Errorf("scan tracked cell: %w", err)
		}
		cell.State = tracking.CellState(state)
		cells = append(cells, &cell)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, cell := range cells {
		obs, err := s.getObservations(runID, cell.ID)
		if err != nil {
			return nil, err
		}
		cell.Observations = obs
	}
	return cells, nil
}

func (s *Store) getObservations(runID string, cellID int64) ([]tracking.Observation, error) {
	query := `
		SELECT frame_index, label, area, centroid_x, centroid_y,
		       median_ns, mean_ns, stddev_ns, min_ns, max_ns,
		       valid_pixels, excluded
		FROM track_observations
		WHERE run_id = ? AND cell_id = ?
		ORDER BY frame_index
	`
	rows, err := s.db.Query(query, runID, cellID)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var observations []tracking.Observation
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, tracking.Observation{
			FrameIndex: rec.FrameIndex,
			Record:     rec,
		})
	}
	return observations, rows.Err()
}

// scanRecord reads one measurement row in the shared column order used
// by cell_records and track_observations.
func scanRecord(rows *sql.Rows) (models.CellRecord, error) {
	var rec models.CellRecord
	var median, mean, stddev, minv, maxv sql.NullFloat64
	var excluded int
	err := rows.Scan(
		&rec.FrameIndex, &rec.Label, &rec.Area,
		&rec.CentroidX, &rec.CentroidY,
		&median, &mean, &stddev, &minv, &maxv,
		&rec.Stats.ValidPixels, &excluded,
	)
	if err != nil {
		return models.CellRecord{}, fmt.Errorf("scan record row: %w", err)
	}
	rec.Stats.Median = floatOrNaN(median)
	rec.Stats.Mean = floatOrNaN(mean)
	rec.Stats.StdDev = floatOrNaN(stddev)
	rec.Stats.Min = floatOrNaN(minv)
	rec.Stats.Max = floatOrNaN(maxv)
	rec.Excluded = excluded != 0
	return rec, nil
}

// nullFloat maps the in-memory undefined marker (NaN) to SQL NULL.
func nullFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
