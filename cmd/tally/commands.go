package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/tally/cmd/tally/config"
	"github.com/TFMV/tally/pkg/export"
	"github.com/TFMV/tally/pkg/handlers"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/repositories/schema"
	"github.com/TFMV/tally/pkg/services"
)

// Offline commands log to stderr so their stdout stays machine-readable.

func newQueryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run one guarded read-only query",
		Long: `Run one read-only query against the dataset, bound as the view "data".
The SQL goes through the same guard as the API. Pass "-" to read it from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(v, cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			sql := args[0]
			if sql == "-" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read SQL from stdin: %w", err)
				}
				sql = string(raw)
			}

			formatName, _ := cmd.Flags().GetString("format")
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			req := &models.QueryRequest{SQL: sql}
			if cmd.Flags().Changed("limit") {
				limit, _ := cmd.Flags().GetFloat64("limit")
				req.Limit = &limit
			}

			a := newApp(cfg, logger)
			defer a.Close()

			svc := services.NewQueryService(a.exec, schema.New(models.Schema{}), newLoggerAdapter(logger, "query_service"), a.collector, cfg.QueryTimeout)
			resp, err := svc.Execute(cmd.Context(), req)
			if err != nil {
				return err
			}

			alloc := export.NewTrackedAllocator(nil)
			if err := export.Write(cmd.OutOrStdout(), format, &models.QueryResult{Columns: resp.Columns, Rows: resp.Rows}, alloc); err != nil {
				return err
			}
			logger.Debug().
				Int("rows", resp.Meta.RowCount).
				Int("limit", resp.Meta.Limit).
				Str("kind", resp.Meta.QueryKind).
				Int64("peak_bytes", alloc.PeakBytes()).
				Msg("Query written")
			return nil
		},
	}
	cmd.Flags().Float64("limit", 0, "row limit (default 1000, at most 10000)")
	cmd.Flags().StringP("format", "f", string(export.FormatJSON), "output format (json, arrow, table)")
	return cmd
}

func newStatsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats COLUMN",
		Short: "Summarize one column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(v, cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a := newApp(cfg, logger)
			defer a.Close()

			repo, err := a.schema()
			if err != nil {
				return err
			}
			st, err := a.queryService(repo).ColumnStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return export.WriteJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newCohortCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cohort",
		Short: "Profile the cohort selected by filters",
		Example: `  tally cohort --filters '{"politics":["Liberal","Very liberal"]}' \
    --metric opennessvariable --candidate biomale`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(v, cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			raw, _ := cmd.Flags().GetString("filters")
			filters, err := handlers.ParseFilters([]byte(raw))
			if err != nil {
				return err
			}
			metricCols, _ := cmd.Flags().GetStringSlice("metric")
			candidates, _ := cmd.Flags().GetStringSlice("candidate")

			a := newApp(cfg, logger)
			defer a.Close()

			repo, err := a.schema()
			if err != nil {
				return err
			}
			summary, err := a.cohortProfiler(repo).Summary(cmd.Context(), filters, metricCols, candidates)
			if err != nil {
				return err
			}
			return export.WriteJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().String("filters", "", `filter map, e.g. {"column": value | [values]}`)
	cmd.Flags().StringSlice("metric", nil, "numeric columns for percentile cards")
	cmd.Flags().StringSlice("candidate", nil, "categorical columns for over-indexing")
	return cmd
}

// comparisonReport is the output of tally compare.
type comparisonReport struct {
	Values  []models.ComparisonEntry  `json:"values"`
	Metrics []models.MetricComparison `json:"metrics"`
	Context string                    `json:"context,omitempty"`
}

func newCompareCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare two cohorts on categorical values and numeric metrics",
		Example: `  tally compare --a '{"biomale":1}' --b '{"biomale":0}' \
    --metric opennessvariable --candidate politics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(v, cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			conds := make([]services.Condition, 2)
			for i, name := range []string{"a", "b"} {
				raw, _ := cmd.Flags().GetString(name)
				filters, err := handlers.ParseFilters([]byte(raw))
				if err != nil {
					return err
				}
				conds[i] = services.NewCondition(filters)
			}
			metricCols, _ := cmd.Flags().GetStringSlice("metric")
			candidates, _ := cmd.Flags().GetStringSlice("candidate")
			minCount, _ := cmd.Flags().GetInt("min-count")
			limit, _ := cmd.Flags().GetInt("limit")
			labelA, _ := cmd.Flags().GetString("label-a")
			labelB, _ := cmd.Flags().GetString("label-b")

			a := newApp(cfg, logger)
			defer a.Close()

			repo, err := a.schema()
			if err != nil {
				return err
			}
			profiler := a.cohortProfiler(repo)

			report := comparisonReport{Values: []models.ComparisonEntry{}, Metrics: []models.MetricComparison{}}
			if len(candidates) > 0 {
				opts := services.CompareOptions{MinCount: minCount, Limit: limit}
				if report.Values, err = profiler.Compare(cmd.Context(), conds[0], conds[1], candidates, opts); err != nil {
					return err
				}
			}
			if len(metricCols) > 0 {
				if report.Metrics, err = profiler.CompareMetrics(cmd.Context(), conds[0], conds[1], metricCols); err != nil {
					return err
				}
				landmarks, err := services.LoadLandmarks(cfg.Effects.Output)
				if err != nil {
					return err
				}
				report.Context = services.ContextualizeMetrics(landmarks, report.Metrics, labelA, labelB)
			}
			return export.WriteJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().String("a", "", "filter map of the first cohort")
	cmd.Flags().String("b", "", "filter map of the second cohort")
	cmd.Flags().StringSlice("metric", nil, "numeric columns to compare")
	cmd.Flags().StringSlice("candidate", nil, "categorical columns to compare")
	cmd.Flags().Int("min-count", 0, "minimum count on both sides (0 uses the default)")
	cmd.Flags().Int("limit", 0, "maximum compared values (0 uses the default)")
	cmd.Flags().String("label-a", "Cohort A", "name of the first cohort")
	cmd.Flags().String("label-b", "Cohort B", "name of the second cohort")
	return cmd
}

func newHistogramCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "histogram METRIC",
		Short: "Bin a numeric column for the population and a cohort",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(v, cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			raw, _ := cmd.Flags().GetString("filters")
			filters, err := handlers.ParseFilters([]byte(raw))
			if err != nil {
				return err
			}
			bins, _ := cmd.Flags().GetInt("bins")

			a := newApp(cfg, logger)
			defer a.Close()

			repo, err := a.schema()
			if err != nil {
				return err
			}
			hist, err := a.cohortProfiler(repo).Histogram(cmd.Context(), services.NewCondition(filters), args[0], bins)
			if err != nil {
				return err
			}
			return export.WriteJSON(cmd.OutOrStdout(), hist)
		},
	}
	cmd.Flags().String("filters", "", "filter map of the cohort")
	cmd.Flags().Int("bins", 0, "number of bins (0 uses the default)")
	return cmd
}

func newRelationshipsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relationships",
		Short: "Precompute the pairwise relationship graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(v, cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a := newApp(cfg, logger)
			defer a.Close()

			repo, err := a.schema()
			if err != nil {
				return err
			}
			engine := services.NewAssociationEngine(a.exec, newLoggerAdapter(logger, "association"), a.collector, services.AssociationOptions{
				BatchSize:           cfg.Relationships.BatchSize,
				MaxCategoricalPairs: cfg.Relationships.MaxCategoricalPairs,
				Timeout:             cfg.Relationships.Timeout,
			})
			set, err := engine.Compute(cmd.Context(), repo.Columns())
			if err != nil {
				return err
			}

			output := outputPath(cmd, cfg.Relationships.Output)
			if err := export.WriteJSONFile(output, set); err != nil {
				return err
			}
			logger.Info().
				Str("output", output).
				Int("columns", set.ColumnCount).
				Int("pairs", set.PairCount).
				Int("skipped", set.Skipped).
				Int("failed", set.Failed).
				Int("clusters", len(set.Clusters)).
				Msg("Relationships written")
			return nil
		},
	}
	d := config.DefaultConfig()
	cmd.Flags().StringP("output", "o", "", "output file (default from config)")
	cmd.Flags().Int("max-categorical-pairs", d.Relationships.MaxCategoricalPairs, "categorical pair budget")
	cmd.Flags().Int("batch-size", d.Relationships.BatchSize, "correlation pairs per query")
	return cmd
}

func newEffectsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "effects",
		Short: "Precompute the landmark effect sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(v, cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a := newApp(cfg, logger)
			defer a.Close()

			repo, err := a.schema()
			if err != nil {
				return err
			}
			profiler := services.NewEffectProfiler(a.exec, repo, newLoggerAdapter(logger, "effects"), nil, cfg.Effects.Timeout)
			set, err := profiler.Landmarks(cmd.Context())
			if err != nil {
				return err
			}

			output := outputPath(cmd, cfg.Effects.Output)
			if err := export.WriteJSONFile(output, set); err != nil {
				return err
			}
			logger.Info().
				Str("output", output).
				Int("landmarks", len(set.Landmarks)).
				Bool("fallback", set.Fallback).
				Msg("Landmark effects written")
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "output file (default from config)")
	return cmd
}

func newProfileCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Generate column metadata from the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(v, cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			labels, err := schema.LoadLabels(cfg.Labels)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")

			a := newApp(cfg, logger)
			defer a.Close()

			s, err := schema.NewProfiler(a.exec, logger).Profile(cmd.Context(), schema.ProfileOptions{
				DatasetName: name,
				SourcePath:  cfg.Dataset,
				Labels:      labels,
				Timeout:     cfg.Relationships.Timeout,
			})
			if err != nil {
				return err
			}

			output := outputPath(cmd, cfg.Columns)
			if err := schema.Write(output, s); err != nil {
				return err
			}
			logger.Info().
				Str("output", output).
				Int64("rows", s.Dataset.RowCount).
				Int("columns", len(s.Columns)).
				Msg("Column metadata written")
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "output file (default: the columns path)")
	cmd.Flags().String("labels", "", "display-name overrides (JSON or YAML map)")
	cmd.Flags().String("name", "Survey", "dataset name")
	return cmd
}

func outputPath(cmd *cobra.Command, fallback string) string {
	if out, _ := cmd.Flags().GetString("output"); strings.TrimSpace(out) != "" {
		return out
	}
	return fallback
}
