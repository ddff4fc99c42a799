package features

import (
	"io"
	"math/rand/v2"
	"slices"

	"github.com/tphakala/patchwork-go/internal/errors"
)

// Batch is one minibatch of an InMemoryDataset. Unlabeled is only set when the
// dataset pairs every labeled row with a random unlabeled one.
type Batch struct {
	X         Tensor
	Y         [][]float32
	Unlabeled *Tensor
}

// InMemoryDataset batches gathered feature rows together with their label rows.
// Label rows use -1 for a missing class.
type InMemoryDataset struct {
	x         Tensor
	rows      []int
	labels    [][]float32
	unlabeled []int
	batchSize int
	shuffle   bool
	rng       *rand.Rand

	order    []int
	position int
}

// DatasetOption configures an InMemoryDataset.
type DatasetOption func(*InMemoryDataset)

// WithShuffle reshuffles the row order on every Reset.
func WithShuffle() DatasetOption {
	return func(d *InMemoryDataset) { d.shuffle = true }
}

// WithUnlabeledPairs attaches, to every labeled row, one row drawn with
// replacement from pool for semi-supervised objectives.
func WithUnlabeledPairs(pool []int) DatasetOption {
	return func(d *InMemoryDataset) { d.unlabeled = slices.Clone(pool) }
}

// NewInMemoryDataset builds a dataset over rows of x with one label row each.
func NewInMemoryDataset(x Tensor, rows []int, labels [][]float32, batchSize int, rng *rand.Rand, opts ...DatasetOption) (*InMemoryDataset, error) {
	if len(rows) != len(labels) {
		return nil, errors.Newf("features: %d rows but %d label rows", len(rows), len(labels)).
			Component("features").
			Category(errors.CategoryValidation).
			Build()
	}
	if batchSize <= 0 {
		return nil, errors.Newf("features: batch size %d must be positive", batchSize).
			Component("features").
			Category(errors.CategoryConfiguration).
			Build()
	}
	for _, r := range rows {
		if r < 0 || r >= x.Len() {
			return nil, errors.Newf("features: row %d out of range [0,%d)", r, x.Len()).
				Component("features").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	d := &InMemoryDataset{
		x:         x,
		rows:      slices.Clone(rows),
		labels:    labels,
		batchSize: batchSize,
		rng:       rng,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.unlabeled != nil && len(d.unlabeled) == 0 {
		return nil, errors.Newf("features: unlabeled pairing requested with an empty pool").
			Component("features").
			Category(errors.CategoryDegenerateData).
			Build()
	}
	d.Reset()
	return d, nil
}

// Len returns the number of labeled rows.
func (d *InMemoryDataset) Len() int { return len(d.rows) }

// NumSteps returns the number of batches per epoch.
func (d *InMemoryDataset) NumSteps() int {
	return (len(d.rows) + d.batchSize - 1) / d.batchSize
}

// Reset starts a new epoch.
func (d *InMemoryDataset) Reset() {
	d.position = 0
	d.order = make([]int, len(d.rows))
	for i := range d.order {
		d.order[i] = i
	}
	if d.shuffle && d.rng != nil {
		d.rng.Shuffle(len(d.order), func(i, j int) {
			d.order[i], d.order[j] = d.order[j], d.order[i]
		})
	}
}

// Next returns the next batch, or io.EOF at the end of the epoch.
func (d *InMemoryDataset) Next() (*Batch, error) {
	if d.position >= len(d.order) {
		return nil, io.EOF
	}
	end := min(d.position+d.batchSize, len(d.order))
	picks := d.order[d.position:end]
	d.position = end

	rows := make([]int, len(picks))
	b := &Batch{Y: make([][]float32, len(picks))}
	for k, p := range picks {
		rows[k] = d.rows[p]
		b.Y[k] = d.labels[p]
	}

	x, err := d.x.Gather(rows)
	if err != nil {
		return nil, err
	}
	b.X = x

	if d.unlabeled != nil {
		pair := make([]int, len(picks))
		for k := range pair {
			pair[k] = d.unlabeled[d.rng.IntN(len(d.unlabeled))]
		}
		u, err := d.x.Gather(pair)
		if err != nil {
			return nil, err
		}
		b.Unlabeled = &u
	}
	return b, nil
}
