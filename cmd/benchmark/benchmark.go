// Package benchmark provides the simulated labeling command.
package benchmark

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/patchwork-go/internal/activelearning"
	"github.com/tphakala/patchwork-go/internal/conf"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/observability"
	"github.com/tphakala/patchwork-go/internal/session"
)

// Command creates the benchmark command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Simulate a labeling session against known labels",
		Long: `Run active learning with the table's class column answering every batch, and
report the held-out accuracy after each round. The run report is printed as
YAML unless --report names a file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, cmd.OutOrStdout())
		},
	}

	setupFlags(cmd)

	return cmd
}

// setupFlags configures flags specific to the benchmark command.
func setupFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("features", "f", "", "Feature file, one row per table row")
	flags.StringP("table", "t", "", "CSV table with a filepath column and the ground truth class column")
	flags.String("class", "", "Ground truth class column")
	flags.String("test-features", "", "Held-out feature file")
	flags.String("test-table", "", "Held-out table with the same class column")
	flags.IntP("batch-size", "b", 0, "Patches labeled per round")
	flags.IntP("iterations", "n", 0, "Rounds to run; 0 runs until the pool is exhausted")
	flags.Float64("epsilon", 0, "Share of each batch explored at random once the model is trained")
	flags.String("report", "", "Write the YAML run report to this path instead of stdout")

	for name, key := range map[string]string{
		"features":      "data.features",
		"table":         "data.table",
		"class":         "data.class",
		"test-features": "data.testfeatures",
		"test-table":    "data.testtable",
		"batch-size":    "activelearning.batchsize",
		"iterations":    "activelearning.iterations",
		"epsilon":       "activelearning.epsilon",
		"report":        "output.report",
	} {
		conf.BindFlag(flags, name, key)
	}
}

func run(ctx context.Context, settings *conf.Settings, out io.Writer) error {
	inputs, err := session.LoadInputs(settings)
	if err != nil {
		return err
	}
	if inputs.Truth == nil {
		return errors.Newf("benchmark: table %s has no ground truth column %q", settings.Data.Table, settings.Data.Class).
			Component("benchmark").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if inputs.Eval == nil {
		return errors.Newf("benchmark: a held-out set is required, set --test-features and --test-table").
			Component("benchmark").
			Category(errors.CategoryConfiguration).
			Build()
	}

	var m *observability.Metrics
	var services []session.Service
	if settings.Metrics.Enabled {
		if m, err = observability.NewMetrics(); err != nil {
			return err
		}
		ep, err := observability.NewEndpoint(settings.Metrics.Listen, m)
		if err != nil {
			return err
		}
		services = append(services, ep.Run)
	}

	db, err := session.OpenDatastore(settings, m)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	sess, err := session.New(ctx, settings, inputs,
		session.WithAnnotator(activelearning.GroundTruth{Labels: inputs.Truth}),
		session.WithMetrics(m),
		session.WithDatastore(db))
	if err != nil {
		return err
	}

	report, err := sess.RunWith(ctx, services...)
	if report != nil && settings.Output.Report == "" {
		if encErr := session.EncodeReport(out, report); encErr != nil {
			return errors.Join(err, encErr)
		}
	} else if report != nil {
		fmt.Fprintf(out, "Report written to %s\n", settings.Output.Report)
	}
	return err
}
