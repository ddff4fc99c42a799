// Package sample provides the sampling command.
package sample

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/patchwork-go/internal/conf"
	"github.com/tphakala/patchwork-go/internal/dataset"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/sampler"
)

// Sampling modes.
const (
	ModeStratified = "stratified"
	ModeUnlabeled  = "unlabeled"
	ModeCluster    = "cluster"
)

type options struct {
	mode        string
	n           int
	assignments string
	mult        int
	output      string
}

// Command creates the sample command.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw a training sample from a label table",
		Long: `Draw rows from a label table and write them as CSV.

  stratified  n draws, a polarity then a class list then a row, with replacement
  unlabeled   n filepaths drawn with replacement from rows without any label
  cluster     every cluster of --assignments contributes mult*floor(N/K) draws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if opts.output != "" {
				f, err := os.Create(opts.output)
				if err != nil {
					return errors.FileError(err, opts.output)
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			rng := rand.New(rand.NewPCG(settings.Seed, 0))
			return run(settings.Data.Table, opts, rng, out)
		},
	}

	setupFlags(cmd, opts)

	return cmd
}

// setupFlags configures flags specific to the sample command.
func setupFlags(cmd *cobra.Command, opts *options) {
	flags := cmd.Flags()
	flags.StringP("table", "t", "", "CSV label table")
	flags.StringVarP(&opts.mode, "mode", "m", ModeStratified, "Sampling mode: stratified, unlabeled or cluster")
	flags.IntVarP(&opts.n, "count", "n", 100, "Number of draws (stratified and unlabeled)")
	flags.StringVar(&opts.assignments, "assignments", "", "File with one cluster id per table row (cluster)")
	flags.IntVar(&opts.mult, "mult", 1, "Draws per cluster as a multiple of N/K (cluster)")
	flags.StringVarP(&opts.output, "output", "o", "", "Write the sample to this file instead of stdout")

	conf.BindFlag(flags, "table", "data.table")
}

func run(tablePath string, opts *options, rng *rand.Rand, out io.Writer) error {
	t, err := dataset.Load(tablePath)
	if err != nil {
		return err
	}

	switch opts.mode {
	case ModeStratified:
		s, err := sampler.Stratified(t, opts.n, rng)
		if err != nil {
			return err
		}
		return s.WriteCSV(out)

	case ModeUnlabeled:
		paths, err := sampler.UnlabeledSample(t, opts.n, rng)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(paths)+1)
		rows = append(rows, []string{dataset.ColumnFilepath})
		for _, p := range paths {
			rows = append(rows, []string{p})
		}
		return csv.NewWriter(out).WriteAll(rows)

	case ModeCluster:
		assignments, err := readAssignments(opts.assignments)
		if err != nil {
			return err
		}
		if len(assignments) != t.Len() {
			return errors.Newf("sample: %d cluster assignments for %d table rows", len(assignments), t.Len()).
				Component("sample").
				Category(errors.CategoryValidation).
				FileContext(opts.assignments).
				Build()
		}
		indices, clusters, err := sampler.ClusterBalanced(assignments, opts.mult, rng)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(indices)+1)
		rows = append(rows, []string{dataset.ColumnFilepath, "index", "cluster"})
		for k, i := range indices {
			rows = append(rows, []string{t.Filepath(i), strconv.Itoa(i), strconv.Itoa(clusters[k])})
		}
		return csv.NewWriter(out).WriteAll(rows)
	}

	return errors.Newf("sample: unknown mode %q", opts.mode).
		Component("sample").
		Category(errors.CategoryConfiguration).
		Build()
}

// readAssignments reads one integer cluster id per line. Blank lines are skipped.
func readAssignments(path string) ([]int, error) {
	if path == "" {
		return nil, errors.Newf("sample: cluster mode needs --assignments").
			Component("sample").
			Category(errors.CategoryConfiguration).
			Build()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(err, path)
	}
	defer func() { _ = f.Close() }()

	var out []int
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		id, err := strconv.Atoi(text)
		if err != nil {
			return nil, errors.New(fmt.Errorf("sample: %s line %d: %w", path, line, err)).
				Component("sample").
				Category(errors.CategoryFileParsing).
				FileContext(path).
				Build()
		}
		out = append(out, id)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.FileError(err, path)
	}
	return out, nil
}
