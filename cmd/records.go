package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/trobanga/oaiharvest/internal/models"
	"github.com/trobanga/oaiharvest/internal/services"
)

var recordsBaseURL string

// recordsCmd represents the records command group
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect harvested records",
	Long: `Inspect the records stored in the configured sink.

Available subcommands:
  count - Count stored records
  show  - Print one stored record`,
}

// recordsCountCmd represents the records count command
var recordsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count stored records",
	Long: `Count the records stored in the sink, optionally for one repository.

Examples:
  oaiharvest records count
  oaiharvest records count --base-url https://example.org/oai`,
	Args: cobra.NoArgs,
	RunE: runRecordsCount,
}

// recordsShowCmd represents the records show command
var recordsShowCmd = &cobra.Command{
	Use:   "show <base-url> <identifier>",
	Short: "Print one stored record",
	Long: `Print the metadata and XML of one stored record.

Example:
  oaiharvest records show https://example.org/oai oai:example.org:1234`,
	Args: cobra.ExactArgs(2),
	RunE: runRecordsShow,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsCountCmd)
	recordsCmd.AddCommand(recordsShowCmd)

	recordsCountCmd.Flags().StringVar(&recordsBaseURL, "base-url", "", "only count records of this repository")
}

func openStore(cmd *cobra.Command) (services.RecordStore, error) {
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if config.Sink.Driver == "memory" {
		return nil, fmt.Errorf("the memory sink keeps no records between runs")
	}
	return services.OpenRecordSink(cmd.Context(), config.Sink, config.Retry, newLogger())
}

func runRecordsCount(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := store.Count(cmd.Context(), recordsBaseURL)
	if err != nil {
		return fmt.Errorf("failed to count records: %w", err)
	}

	if recordsBaseURL != "" {
		fmt.Printf("%d records from %s\n", count, recordsBaseURL)
	} else {
		fmt.Printf("%d records\n", count)
	}
	return nil
}

func runRecordsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(cmd.Context(), models.RecordKey{BaseURL: args[0], Identifier: args[1]})
	if errors.Is(err, services.ErrRecordNotFound) {
		return fmt.Errorf("no record %s from %s", args[1], args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}

	fmt.Printf("Identifier: %s\n", rec.Identifier)
	fmt.Printf("Datestamp:  %s\n", rec.Datestamp)
	if len(rec.Sets) > 0 {
		fmt.Printf("Sets:       %s\n", strings.Join(rec.Sets, ", "))
	}
	if rec.IsDeleted() {
		fmt.Printf("Status:     deleted\n")
	}
	fmt.Printf("Harvested:  %s\n", rec.HarvestedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Checksum:   %x\n", rec.Checksum)
	if !rec.ChecksumValid() {
		fmt.Printf("            (does not match the stored XML)\n")
	}
	fmt.Printf("\n%s\n", rec.XML)
	return nil
}
