// Package main provides the tally command: the survey query API server and
// the offline jobs that precompute column metadata, relationships and
// landmark effects.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/tally/cmd/tally/config"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "tally",
		Short: "Read-only survey query layer and statistics engine",
		Long: `tally serves guarded, read-only SQL over a survey dataset in Parquet and
computes pairwise relationships, landmark effect sizes and cohort profiles.

Example:
  tally serve --config ./tally.yaml
  tally query "SELECT politics, count(*) FROM data GROUP BY 1" --format table
  tally relationships --output data/relationships.generated.json`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	d := config.DefaultConfig()
	flags.StringP("config", "c", "", "config file path")
	flags.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	flags.String("dataset", d.Dataset, "Parquet dataset path")
	flags.String("columns", d.Columns, "column metadata file (JSON or YAML)")
	flags.String("backend", d.Backend, "query backend (auto, cli, embedded)")
	flags.String("duckdb-binary", d.DuckDBBinary, "DuckDB CLI executable")
	flags.String("database", d.Database, "embedded DuckDB database path")
	flags.Duration("query-timeout", d.QueryTimeout, "per-query timeout")
	flags.Duration("slow-query-threshold", d.SlowQueryThreshold, "log queries slower than this")

	root.AddCommand(
		newServeCmd(v),
		newQueryCmd(v),
		newStatsCmd(v),
		newCohortCmd(v),
		newCompareCmd(v),
		newHistogramCmd(v),
		newRelationshipsCmd(v),
		newEffectsCmd(v),
		newProfileCmd(v),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration for cmd and sets up logging.
func load(v *viper.Viper, cmd *cobra.Command, logOut io.Writer) (*config.Config, zerolog.Logger, error) {
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, zerolog.Nop(), err
	}
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, file)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, setupLogging(logOut, cfg.LogLevel), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tally\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", commit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
