/*
Copyright © 2025 oaiharvest Contributors

oaiharvest is a CLI tool for harvesting OAI-PMH repositories into a database.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trobanga/oaiharvest/internal/lib"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	logJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "oaiharvest",
	Short: "oaiharvest - OAI-PMH harvester",
	Long: `oaiharvest harvests metadata records from OAI-PMH 2.0 repositories.

Every configured repository is harvested concurrently. Records are collected
through a bounded queue and written in batches to a SQLite or PostgreSQL
table, keyed by repository and identifier, so re-harvesting updates records
in place.

Harvest progress is saved per job. A job that was interrupted or failed can
be resumed from the last resumption token each repository handed out.

Example:
  oaiharvest harvest start https://example.org/oai --metadata-prefix oai_dc
  oaiharvest harvest status <job-id>
  oaiharvest harvest resume <job-id>
  oaiharvest job list`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./oaiharvest.yaml, ~/.config/oaiharvest/oaiharvest.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")

	rootCmd.SetVersionTemplate("oaiharvest version {{.Version}}\n")
}

// newLogger builds the logger for a command from the global flags
func newLogger() *lib.Logger {
	logLevel := lib.LogLevelInfo
	if verbose {
		logLevel = lib.LogLevelDebug
	}
	if logJSON {
		return lib.NewJSONLogger(logLevel)
	}
	return lib.NewLogger(logLevel)
}

// printError writes err with the guidance of categorized errors
func printError(err error) {
	if harvestErr := lib.ClassifyError(err); harvestErr != nil && len(harvestErr.Guidance) > 0 {
		fmt.Fprint(os.Stderr, harvestErr.UserMessage())
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
