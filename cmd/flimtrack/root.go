package main

import (
	"github.com/spf13/cobra"

	"flimtrack/pkg/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "flimtrack",
		Short:         "Per-cell lifetime analysis and tracking for FLIM image stacks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newAnalyzeCommand(&configFlag))
	rootCmd.AddCommand(newSeriesCommand(&configFlag))
	rootCmd.AddCommand(newInitConfigCommand())

	return rootCmd
}

// loadConfig resolves the effective configuration: defaults, optionally
// overridden by a YAML file.
func loadConfig(configFlag string) (*config.Config, error) {
	if configFlag == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(configFlag)
}

// newInitConfigCommand writes a default configuration file as a
// starting point for customization.
func newInitConfigCommand() *cobra.Command {
	var outputFlag string

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.SaveConfig(config.DefaultConfig(), outputFlag)
		},
	}
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "flimtrack.yaml", "Destination path")
	return cmd
}
