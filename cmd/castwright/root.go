package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/castwright/internal/api"
	"github.com/jackzampolin/castwright/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "castwright",
	Short: "Podcast pipeline: topic in, chapters and stitched audio out",
	Long: `castwright turns a topic request into a multi-chapter podcast.

The pipeline:
  - Generates an introduction and each chapter with a chat model
  - Splits every unit into chunks and submits one speech job per chunk
  - Polls the jobs until each one finishes
  - Stitches each unit's audio parts into one file

Every step records its progress in a ledger, so any step can be retried.`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.castwright/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "castwright home directory (default: ~/.castwright)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or table",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
