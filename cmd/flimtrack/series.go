package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"flimtrack/internal/models"
	"flimtrack/pkg/analysis"
	"flimtrack/pkg/report"
	"flimtrack/pkg/stack"
	"flimtrack/pkg/store"
	"flimtrack/pkg/tracking"
	"flimtrack/pkg/visualization"
)

func newSeriesCommand(configFlag *string) *cobra.Command {
	var (
		thresholdFlag string
		outputFlag    string
		visualizeFlag bool
		chartFlag     bool
		dbFlag        string
		workersFlag   int
	)

	cmd := &cobra.Command{
		Use:   "series <stack-directory>",
		Short: "Analyze a time series and track cells across frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				cfg.Threshold.Method = thresholdFlag
			}
			if cmd.Flags().Changed("workers") {
				cfg.Processing.NumWorkers = workersFlag
			}
			if outputFlag != "" {
				cfg.Output.Directory = outputFlag
			}

			opts := stack.Options{
				LifetimeScale:   cfg.Lifetime.ScaleFactor,
				ConvertLifetime: cfg.Lifetime.Convert,
				ZeroInvalid:     cfg.Lifetime.ZeroInvalid,
			}
			pairs, meta, err := stack.LoadDir(args[0], opts)
			if err != nil {
				return err
			}
			meta.PixelSizeUm = cfg.Output.PixelSizeUm
			fmt.Printf("Loaded %d frames (%dx%d) from %s\n", meta.FrameCount, meta.Width, meta.Height, args[0])

			trackCfg := tracking.Config{
				MaxCentroidDistance: cfg.Tracking.MaxCentroidDistance,
				MaxAreaRatio:        cfg.Tracking.MaxAreaRatio,
				GapTolerance:        cfg.Tracking.GapTolerance,
			}

			analyzer := analysis.NewAnalyzer(cfg)
			res, err := analyzer.AnalyzeSeries(pairs, trackCfg, cfg.Processing.NumWorkers)
			if err != nil {
				return err
			}

			fmt.Println(report.TrackTable(res.Cells))

			if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
				return err
			}
			if err := writeSeriesOutputs(cfg.Output.Directory, res); err != nil {
				return err
			}

			if chartFlag {
				chartPath := filepath.Join(cfg.Output.Directory, "lifetimes.html")
				f, err := os.Create(chartPath)
				if err != nil {
					return err
				}
				err = report.WriteLifetimeChart(f, res.Cells, len(res.Frames))
				f.Close()
				if err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", chartPath)
			}

			if visualizeFlag {
				labelMaps := make([]*models.LabelMap, len(res.Frames))
				for i, fr := range res.Frames {
					if fr != nil {
						labelMaps[i] = fr.Labels
					}
				}
				overlayDir := filepath.Join(cfg.Output.Directory, "overlays")
				if err := visualization.SaveTrackOverlaySequence(labelMaps, res.Cells, overlayDir); err != nil {
					return err
				}
				fmt.Printf("Wrote track overlays to %s\n", overlayDir)
			}

			if dbFlag != "" {
				if err := persistSeries(dbFlag, args[0], res); err != nil {
					return err
				}
				fmt.Printf("Saved run to %s\n", dbFlag)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&thresholdFlag, "threshold", "t", "", "Threshold method: otsu, adaptive, or manual")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output directory")
	cmd.Flags().BoolVar(&visualizeFlag, "visualize", false, "Save per-frame track overlay images")
	cmd.Flags().BoolVar(&chartFlag, "chart", false, "Save an interactive lifetime chart")
	cmd.Flags().StringVar(&dbFlag, "db", "", "SQLite database path for persisting results")
	cmd.Flags().IntVarP(&workersFlag, "workers", "w", 0, "Number of parallel frame workers (0 = all CPUs)")

	return cmd
}

// writeSeriesOutputs writes the CSV and summary files for a series run.
func writeSeriesOutputs(dir string, res *analysis.SeriesResult) error {
	var allRecords []models.CellRecord
	for _, fr := range res.Frames {
		if fr != nil {
			allRecords = append(allRecords, fr.Records...)
		}
	}

	cellsPath := filepath.Join(dir, "cells.csv")
	f, err := os.Create(cellsPath)
	if err != nil {
		return err
	}
	err = report.WriteCellRecordsCSV(f, allRecords)
	f.Close()
	if err != nil {
		return err
	}

	tracksPath := filepath.Join(dir, "tracks.csv")
	f, err = os.Create(tracksPath)
	if err != nil {
		return err
	}
	err = report.WriteTrackedCellsCSV(f, res.Cells)
	f.Close()
	if err != nil {
		return err
	}

	summaryPath := filepath.Join(dir, "summary.txt")
	f, err = os.Create(summaryPath)
	if err != nil {
		return err
	}
	err = report.WriteRunSummary(f, res)
	f.Close()
	if err != nil {
		return err
	}

	fmt.Printf("Wrote %s, %s, %s\n", cellsPath, tracksPath, summaryPath)
	return nil
}

// persistSeries saves a full series run to the results database.
func persistSeries(dbPath, sourceDir string, res *analysis.SeriesResult) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runID, err := db.CreateRun(sourceDir, len(res.Frames))
	if err != nil {
		return err
	}
	for _, fr := range res.Frames {
		if fr == nil {
			continue
		}
		if err := db.SaveFrameRecords(runID, fr.Records); err != nil {
			return err
		}
	}
	for _, sk := range res.Skipped {
		if err := db.SaveSkippedFrame(runID, sk.Index, sk.Reason); err != nil {
			return err
		}
	}
	return db.SaveTrackedCells(runID, res.Cells)
}
