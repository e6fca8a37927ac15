// Package report renders analysis results as CSV files, console
// tables, and interactive lifetime charts.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"flimtrack/internal/models"
	"flimtrack/pkg/analysis"
	"flimtrack/pkg/lifetime"
	"flimtrack/pkg/tracking"
)

var recordHeader = []string{
	"frame", "label", "area", "centroid_x", "centroid_y",
	"median_ns", "mean_ns", "stddev_ns", "min_ns", "max_ns",
	"valid_pixels", "excluded",
}

// WriteCellRecordsCSV writes per-frame cell measurements as CSV.
// Undefined lifetime statistics become empty cells.
func WriteCellRecordsCSV(w io.Writer, records []models.CellRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(recordRow(rec)); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTrackedCellsCSV writes the track registry in long format: one
// row per (cell, frame) observation, prefixed with the persistent
// identity and lifecycle state.
func WriteTrackedCellsCSV(w io.Writer, cells []*tracking.TrackedCell) error {
	cw := csv.NewWriter(w)
	header := append([]string{"cell_id", "state"}, recordHeader...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, cell := range cells {
		for _, obs := range cell.Observations {
			row := append([]string{
				strconv.FormatInt(cell.ID, 10),
				string(cell.State),
			}, recordRow(obs.Record)...)
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write CSV row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func recordRow(rec models.CellRecord) []string {
	return []string{
		strconv.Itoa(rec.FrameIndex),
		strconv.Itoa(rec.Label),
		strconv.Itoa(rec.Area),
		formatFloat(rec.CentroidX),
		formatFloat(rec.CentroidY),
		formatFloat(rec.Stats.Median),
		formatFloat(rec.Stats.Mean),
		formatFloat(rec.Stats.StdDev),
		formatFloat(rec.Stats.Min),
		formatFloat(rec.Stats.Max),
		strconv.Itoa(rec.Stats.ValidPixels),
		strconv.FormatBool(rec.Excluded),
	}
}

// formatFloat renders a measurement value, mapping the undefined
// marker (NaN) to an empty cell.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// FrameTable renders one frame's cell measurements as a console table.
func FrameTable(records []models.CellRecord) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			strconv.Itoa(rec.Label),
			strconv.Itoa(rec.Area),
			fmt.Sprintf("(%.1f, %.1f)", rec.CentroidX, rec.CentroidY),
			tableFloat(rec.Stats.Median),
			tableFloat(rec.Stats.Mean),
			tableFloat(rec.Stats.StdDev),
			strconv.Itoa(rec.Stats.ValidPixels),
		})
	}
	return renderTable(
		[]string{"Label", "Area", "Centroid", "Median (ns)", "Mean (ns)", "StdDev (ns)", "Valid px"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}

// TrackTable renders the tracked-cell registry as a console table.
func TrackTable(cells []*tracking.TrackedCell) string {
	rows := make([][]string, 0, len(cells))
	for _, cell := range cells {
		rows = append(rows, []string{
			strconv.FormatInt(cell.ID, 10),
			string(cell.State),
			fmt.Sprintf("%d-%d", cell.FirstFrame, cell.LastFrame),
			strconv.Itoa(len(cell.Observations)),
			tableFloat(trackMedian(cell)),
		})
	}
	return renderTable(
		[]string{"Cell", "State", "Frames", "Observations", "Median (ns)"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func tableFloat(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// trackMedian is the median of a cell's defined per-frame medians.
func trackMedian(cell *tracking.TrackedCell) float64 {
	records := make([]models.CellRecord, 0, len(cell.Observations))
	for _, obs := range cell.Observations {
		records = append(records, obs.Record)
	}
	agg := lifetime.AggregateRecords(records)
	return agg.MedianOfMedians
}

// WriteRunSummary writes a plain-text run summary including any
// skipped frames.
func WriteRunSummary(w io.Writer, res *analysis.SeriesResult) error {
	analyzed := 0
	for _, fr := range res.Frames {
		if fr != nil {
			analyzed++
		}
	}
	active, gapped, lost := 0, 0, 0
	for _, cell := range res.Cells {
		switch cell.State {
		case tracking.CellActive:
			active++
		case tracking.CellGapped:
			gapped++
		case tracking.CellLost:
			lost++
		}
	}

	// A frame that analyzed cleanly but found no cells is reported
	// separately so "nothing found" is distinguishable from "cells
	// present" and from a skipped frame.
	var emptyFrames []int
	for _, fr := range res.Frames {
		if fr != nil && len(fr.Records) == 0 {
			emptyFrames = append(emptyFrames, fr.Index)
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Frames analyzed: %d of %d\n", analyzed, len(res.Frames))
	fmt.Fprintf(&buf, "Tracked cells: %d (%d active, %d gapped, %d lost)\n",
		len(res.Cells), active, gapped, lost)
	if len(emptyFrames) > 0 {
		fmt.Fprintf(&buf, "Frames with no cells detected:")
		for _, idx := range emptyFrames {
			fmt.Fprintf(&buf, " %d", idx)
		}
		fmt.Fprintf(&buf, "\n")
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(&buf, "Skipped frames:\n")
		for _, sk := range res.Skipped {
			fmt.Fprintf(&buf, "  frame %d: %s\n", sk.Index, sk.Reason)
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteLifetimeChart renders an interactive HTML line chart of each
// tracked cell's median lifetime over time. Frames where a cell was
// not observed leave a break in its line.
func WriteLifetimeChart(w io.Writer, cells []*tracking.TrackedCell, frameCount int) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Cell Lifetime Traces",
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Median lifetime per tracked cell",
			Subtitle: fmt.Sprintf("%d cells, %d frames", len(cells), frameCount),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Lifetime (ns)"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	frames := make([]int, frameCount)
	for i := range frames {
		frames[i] = i
	}
	line.SetXAxis(frames)

	for _, cell := range cells {
		data := make([]opts.LineData, frameCount)
		for i := 0; i < frameCount; i++ {
			rec, ok := cell.RecordAt(i)
			if !ok || math.IsNaN(rec.Stats.Median) {
				data[i] = opts.LineData{Value: nil}
				continue
			}
			data[i] = opts.LineData{Value: rec.Stats.Median}
		}
		line.AddSeries(fmt.Sprintf("cell %d", cell.ID), data,
			charts.WithLineChartOpts(opts.LineChart{ConnectNulls: opts.Bool(false)}))
	}

	if err := line.Render(w); err != nil {
		return fmt.Errorf("render lifetime chart: %w", err)
	}
	return nil
}
