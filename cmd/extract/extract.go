// Package extract provides the feature extraction command.
package extract

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/patchwork-go/internal/conf"
	"github.com/tphakala/patchwork-go/internal/dataset"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/extractor"
	"github.com/tphakala/patchwork-go/internal/imageloader"
)

// Command creates the extract command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Compute the feature file for a label table",
		Long: `Run every image of the table through a TensorFlow Lite image backbone and
write the resulting feature maps, one row per table row, to the feature file
used by label and benchmark.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, cmd.ErrOrStderr())
		},
	}

	setupFlags(cmd)

	return cmd
}

// setupFlags configures flags specific to the extract command.
func setupFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("table", "t", "", "CSV table with a filepath column")
	flags.StringP("model", "m", "", "TensorFlow Lite image backbone")
	flags.StringP("output", "o", "", "Feature file to write")
	flags.Int("threads", 0, "Interpreter threads; 0 picks from the CPU")
	flags.IntP("batch-size", "b", 0, "Images decoded per batch")

	for name, key := range map[string]string{
		"table":      "data.table",
		"model":      "extractor.modelpath",
		"output":     "extractor.output",
		"threads":    "extractor.threads",
		"batch-size": "extractor.batchsize",
	} {
		conf.BindFlag(flags, name, key)
	}
}

func run(ctx context.Context, settings *conf.Settings, progress io.Writer) error {
	es := settings.Extractor
	if es.ModelPath == "" {
		return errors.Newf("extract: no backbone model given, set --model").
			Component("extract").
			Category(errors.CategoryConfiguration).
			Build()
	}

	t, err := dataset.Load(settings.Data.Table)
	if err != nil {
		return err
	}

	backbone, err := extractor.NewTFLiteBackbone(es.ModelPath, es.Threads)
	if err != nil {
		return err
	}
	defer backbone.Close()

	img := imageloader.Options{
		Norm:          settings.Image.Norm,
		SingleChannel: settings.Image.SingleChannel,
	}
	e, err := extractor.New(backbone, img, es.BatchSize, settings.Image.Workers,
		extractor.WithProgress(func(done, total int) {
			fmt.Fprintf(progress, "\rextracted %d/%d", done, total)
		}))
	if err != nil {
		return err
	}

	x, err := e.ExtractToFile(ctx, t.Filepaths(), es.Output)
	fmt.Fprintln(progress)
	if err != nil {
		return err
	}
	fmt.Fprintf(progress, "wrote %d feature rows of shape %v to %s\n", x.Len(), x.ItemShape(), es.Output)
	return nil
}
