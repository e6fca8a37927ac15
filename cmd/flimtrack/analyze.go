package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"flimtrack/pkg/analysis"
	"flimtrack/pkg/report"
	"flimtrack/pkg/stack"
	"flimtrack/pkg/store"
	"flimtrack/pkg/visualization"
)

func newAnalyzeCommand(configFlag *string) *cobra.Command {
	var (
		thresholdFlag      string
		thresholdValueFlag float64
		outputFlag         string
		visualizeFlag      bool
		dbFlag             string
		rawLifetimeFlag    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <intensity-image> <lifetime-image>",
		Short: "Segment and measure cells in a single time point",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				cfg.Threshold.Method = thresholdFlag
			}
			if cmd.Flags().Changed("threshold-value") {
				cfg.Threshold.ManualValue = &thresholdValueFlag
			}
			if cmd.Flags().Changed("raw-lifetime") {
				cfg.Lifetime.Convert = !rawLifetimeFlag
			}
			if outputFlag != "" {
				cfg.Output.Directory = outputFlag
			}

			opts := stack.Options{
				LifetimeScale:   cfg.Lifetime.ScaleFactor,
				ConvertLifetime: cfg.Lifetime.Convert,
				ZeroInvalid:     cfg.Lifetime.ZeroInvalid,
			}
			pair, err := stack.LoadPair(args[0], args[1], opts)
			if err != nil {
				return err
			}

			analyzer := analysis.NewAnalyzer(cfg)
			res, err := analyzer.AnalyzeFrame(pair.Intensity, pair.Lifetime, 0)
			if err != nil {
				return err
			}

			fmt.Printf("Threshold: %.4f (%s)\n", res.ThresholdValue, cfg.Threshold.Method)
			fmt.Printf("Cells found: %d\n", len(res.Records))
			fmt.Println(report.FrameTable(res.Records))

			if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
				return err
			}
			csvPath := filepath.Join(cfg.Output.Directory, "cells.csv")
			f, err := os.Create(csvPath)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := report.WriteCellRecordsCSV(f, res.Records); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", csvPath)

			if visualizeFlag {
				maskPath := filepath.Join(cfg.Output.Directory, "mask.png")
				if err := visualization.SavePNG(visualization.MaskImage(res.Mask), maskPath); err != nil {
					return err
				}
				labelPath := filepath.Join(cfg.Output.Directory, "labels.png")
				if err := visualization.SavePNG(visualization.LabelImage(res.Labels), labelPath); err != nil {
					return err
				}
				fmt.Printf("Wrote %s and %s\n", maskPath, labelPath)
			}

			if dbFlag != "" {
				db, err := store.Open(dbFlag)
				if err != nil {
					return err
				}
				defer db.Close()
				runID, err := db.CreateRun(filepath.Dir(args[0]), 1)
				if err != nil {
					return err
				}
				if err := db.SaveFrameRecords(runID, res.Records); err != nil {
					return err
				}
				fmt.Printf("Saved run %s to %s\n", runID, dbFlag)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&thresholdFlag, "threshold", "t", "", "Threshold method: otsu, adaptive, or manual")
	cmd.Flags().Float64Var(&thresholdValueFlag, "threshold-value", 0, "Manual threshold value (0-1)")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output directory")
	cmd.Flags().BoolVar(&visualizeFlag, "visualize", false, "Save mask and label images")
	cmd.Flags().StringVar(&dbFlag, "db", "", "SQLite database path for persisting results")
	cmd.Flags().BoolVar(&rawLifetimeFlag, "raw-lifetime", false, "Keep raw lifetime counts instead of converting to nanoseconds")

	return cmd
}
