// Package subset provides the subset command.
package subset

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/patchwork-go/internal/conf"
	"github.com/tphakala/patchwork-go/internal/dataset"
	"github.com/tphakala/patchwork-go/internal/subset"
)

// Command creates the subset command.
func Command(settings *conf.Settings) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "subset EXPRESSION",
		Short: "Count or list the table rows matching a subset expression",
		Long: `Select rows of a label table. EXPRESSION is one of:

  unlabeled, "fully labeled", "partially labeled"
  excluded, "not excluded", validation
  unlabeled:CLASS, contains:CLASS, "doesn't contain:CLASS"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings.Data.Table, args[0], list, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringP("table", "t", "", "CSV label table")
	flags.BoolVarP(&list, "list", "l", false, "List the matching rows instead of counting them")
	conf.BindFlag(flags, "table", "data.table")

	return cmd
}

func run(tablePath, expr string, list bool, out io.Writer) error {
	t, err := dataset.Load(tablePath)
	if err != nil {
		return err
	}
	mask, err := subset.Select(t, expr)
	if err != nil {
		return err
	}

	if !list {
		_, err = fmt.Fprintf(out, "%d of %d rows match %s\n", subset.Count(mask), t.Len(), expr)
		return err
	}
	for _, i := range subset.Rows(mask) {
		if _, err := fmt.Fprintf(out, "%d\t%s\n", i, t.Filepath(i)); err != nil {
			return err
		}
	}
	return nil
}
