// Package label provides the interactive labeling command.
package label

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/patchwork-go/internal/activelearning"
	"github.com/tphakala/patchwork-go/internal/conf"
	"github.com/tphakala/patchwork-go/internal/display"
	"github.com/tphakala/patchwork-go/internal/httpcontroller"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/observability"
	"github.com/tphakala/patchwork-go/internal/session"
)

// Command creates the label command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "label",
		Short: "Label patches interactively",
		Long: `Run an active learning session. Each round shows a batch of patches and asks
which of them belong to the class. Batches are drawn at random until both
classes have enough labels, then from the patches the model is least sure of.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	setupFlags(cmd)

	return cmd
}

// setupFlags configures flags specific to the label command.
func setupFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("features", "f", "", "Feature file, one row per table row")
	flags.StringP("table", "t", "", "CSV table with a filepath column")
	flags.String("class", "", "Class column being labeled")
	flags.IntP("batch-size", "b", 0, "Patches shown per round")
	flags.IntP("iterations", "n", 0, "Rounds to run; 0 runs until the pool is exhausted")
	flags.Bool("web", false, "Label in the browser instead of the terminal")
	flags.String("listen", "", "Listen address of the web annotator")
	flags.String("report", "", "Write a YAML run report to this path")
	flags.String("labels", "", "Write the final labels as CSV to this path")
	flags.Bool("persist", false, "Store labels in the datastore and resume earlier sessions")

	for name, key := range map[string]string{
		"features":   "data.features",
		"table":      "data.table",
		"class":      "data.class",
		"batch-size": "activelearning.batchsize",
		"iterations": "activelearning.iterations",
		"web":        "webserver.enabled",
		"listen":     "webserver.listen",
		"report":     "output.report",
		"labels":     "output.labels",
		"persist":    "datastore.enabled",
	} {
		conf.BindFlag(flags, name, key)
	}
}

func run(ctx context.Context, settings *conf.Settings, in io.Reader, out io.Writer) error {
	inputs, err := session.LoadInputs(settings)
	if err != nil {
		return err
	}

	// the web annotator always serves /metrics
	var m *observability.Metrics
	if settings.Metrics.Enabled || settings.WebServer.Enabled {
		if m, err = observability.NewMetrics(); err != nil {
			return err
		}
	}

	db, err := session.OpenDatastore(settings, m)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	store := labelstate.NewStore(inputs.X.Len())
	opts := []session.Option{
		session.WithLabelStore(store),
		session.WithMetrics(m),
		session.WithDatastore(db),
	}

	var services []session.Service
	var srv *httpcontroller.Server
	if settings.WebServer.Enabled {
		srv = httpcontroller.New(settings.WebServer.Listen, store, httpcontroller.WithMetrics(m))
		opts = append(opts, session.WithAnnotator(srv), session.WithObserver(srv))
		services = append(services, srv.Run)
		fmt.Fprintf(out, "Open http://%s/ to label patches\n", settings.WebServer.Listen)
	} else {
		term := display.NewTerminal(in, out,
			display.WithColumns(settings.Display.Columns),
			display.WithThumbnailSize(settings.Display.ThumbWidth, settings.Display.ThumbHeight))
		opts = append(opts, session.WithAnnotator(activelearning.HumanAnnotator{Display: term, Prompter: term}))
	}
	if settings.Metrics.Enabled {
		ep, err := observability.NewEndpoint(settings.Metrics.Listen, m)
		if err != nil {
			return err
		}
		services = append(services, ep.Run)
	}

	sess, err := session.New(ctx, settings, inputs, opts...)
	if err != nil {
		return err
	}
	if srv != nil {
		srv.SetSession(sess.ID(), sess.StartIteration())
	}

	report, err := sess.RunWith(ctx, services...)
	if report != nil {
		printSummary(out, report)
	}
	return err
}

func printSummary(out io.Writer, r *session.Report) {
	fmt.Fprintf(out, "\n%d rounds completed: %d positive, %d negative, %d unlabeled\n",
		len(r.Iterations), r.Counts.Positive, r.Counts.Negative, r.Counts.Unlabeled)
	if r.SessionID != "" {
		fmt.Fprintf(out, "Session %s\n", r.SessionID)
	}
}
