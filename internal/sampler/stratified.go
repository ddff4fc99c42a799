// Package sampler draws training samples from label datasets and index pools.
// Every function takes an explicit random source so runs are reproducible.
package sampler

import (
	"encoding/csv"
	"io"
	"math/rand/v2"
	"strconv"

	"github.com/tphakala/patchwork-go/internal/dataset"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/logger"
	"github.com/tphakala/patchwork-go/internal/subset"
)

// Sample is the result of a stratified draw. Entry k of each slice describes draw k.
type Sample struct {
	Classes   []string
	Indices   []int
	Filepaths []string
	// Labels[k][c] is the label of class Classes[c] for draw k, -1 when missing.
	Labels [][]labelstate.Label
}

// Len returns the number of draws.
func (s *Sample) Len() int { return len(s.Indices) }

// LabelMatrix returns the labels as float32 rows with missing values as -1,
// the layout the in-memory training dataset consumes.
func (s *Sample) LabelMatrix() [][]float32 {
	out := make([][]float32, len(s.Labels))
	for k, row := range s.Labels {
		out[k] = make([]float32, len(row))
		for c, l := range row {
			out[k][c] = float32(l)
		}
	}
	return out
}

// WriteCSV writes one row per draw: filepath, row index, then one column per class.
func (s *Sample) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{dataset.ColumnFilepath, "index"}, s.Classes...)
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for k := range s.Indices {
		rec[0] = s.Filepaths[k]
		rec[1] = strconv.Itoa(s.Indices[k])
		for c, l := range s.Labels[k] {
			rec[2+c] = strconv.Itoa(int(l))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// polarityGroups holds, per polarity, one index list per class that has at
// least one eligible row of that polarity.
type polarityGroups [2][][]int

func buildGroups(t *dataset.Table) (polarityGroups, int, error) {
	var groups polarityGroups

	eligible := make([]bool, t.Len())
	nEligible := 0
	for i := range eligible {
		eligible[i] = !t.Excluded(i) && !t.IsValidation(i)
		if eligible[i] {
			nEligible++
		}
	}

	for _, c := range t.ClassNames() {
		col, err := t.Class(c)
		if err != nil {
			return groups, 0, err
		}
		var neg, pos []int
		for i, l := range col {
			if !eligible[i] {
				continue
			}
			switch l {
			case labelstate.Negative:
				neg = append(neg, i)
			case labelstate.Positive:
				pos = append(pos, i)
			}
		}
		if len(neg) > 0 {
			groups[0] = append(groups[0], neg)
		}
		if len(pos) > 0 {
			groups[1] = append(groups[1], pos)
		}
	}
	return groups, nEligible, nil
}

// Stratified draws n rows, all levels with replacement: a polarity uniformly,
// then a class list of that polarity uniformly, then a row from that list.
// Excluded and validation rows are never drawn. A draw that lands on a
// polarity with no class lists fails with a degenerate-data error.
func Stratified(t *dataset.Table, n int, rng *rand.Rand) (*Sample, error) {
	if n < 0 {
		return nil, errors.Newf("sampler: negative sample size %d", n).
			Component("sampler").
			Category(errors.CategoryConfiguration).
			Build()
	}

	groups, nEligible, err := buildGroups(t)
	if err != nil {
		return nil, err
	}
	if nEligible == 0 {
		return nil, errors.Newf("sampler: no rows eligible for sampling").
			Component("sampler").
			Category(errors.CategoryDegenerateData).
			Context("rows", t.Len()).
			Build()
	}

	GetLogger().Debug("stratified sampling",
		logger.Int("n", n),
		logger.Int("eligible_rows", nEligible),
		logger.Int("negative_lists", len(groups[0])),
		logger.Int("positive_lists", len(groups[1])))

	s := &Sample{
		Classes:   t.ClassNames(),
		Indices:   make([]int, 0, n),
		Filepaths: make([]string, 0, n),
		Labels:    make([][]labelstate.Label, 0, n),
	}
	for range n {
		polarity := rng.IntN(2)
		lists := groups[polarity]
		if len(lists) == 0 {
			return nil, errors.Newf("sampler: no class has an eligible %s row", labelstate.Label(polarity)).
				Component("sampler").
				Category(errors.CategoryDegenerateData).
				Context("polarity", polarity).
				Build()
		}
		list := lists[rng.IntN(len(lists))]
		row := list[rng.IntN(len(list))]

		s.Indices = append(s.Indices, row)
		s.Filepaths = append(s.Filepaths, t.Filepath(row))
		s.Labels = append(s.Labels, t.RowLabels(row))
	}
	return s, nil
}

// UnlabeledSample draws n filepaths with replacement from the rows with no labels at all.
func UnlabeledSample(t *dataset.Table, n int, rng *rand.Rand) ([]string, error) {
	mask, err := subset.Expr{Kind: subset.Unlabeled}.Mask(t)
	if err != nil {
		return nil, err
	}
	rows := subset.Rows(mask)
	if len(rows) == 0 {
		return nil, errors.Newf("sampler: dataset has no unlabeled rows").
			Component("sampler").
			Category(errors.CategoryDegenerateData).
			Build()
	}

	out := make([]string, n)
	for k := range out {
		out[k] = t.Filepath(rows[rng.IntN(len(rows))])
	}
	return out, nil
}
