package imageloader

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/patchwork-go/internal/cpuspec"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/features"
	"github.com/tphakala/patchwork-go/internal/logger"
	"github.com/tphakala/patchwork-go/internal/observability/metrics"
	"github.com/tphakala/patchwork-go/internal/sampler"
)

// DefaultCacheTTL is how long decoded images stay cached.
const DefaultCacheTTL = 10 * time.Minute

// NewCache returns a decoded-image cache with the given TTL.
func NewCache(ttl time.Duration) *cache.Cache {
	return cache.New(ttl, 2*ttl)
}

// DatasetOptions describes how a Dataset loads and batches images.
type DatasetOptions struct {
	Image     Options
	BatchSize int
	Shuffle   bool
	Augment   *Augmentation // nil disables augmentation
	Sobel     bool
	Workers   int // 0 picks a count from the CPU
}

// Dataset iterates once over a list of image files in batches. Images are
// decoded in parallel; labels, when present, travel with their image.
type Dataset struct {
	paths   []string
	labels  [][]float32
	opts    DatasetOptions
	rng     *rand.Rand
	cache   *cache.Cache
	metrics *metrics.ImageLoaderMetrics
	workers int

	order    []int
	position int
}

// Option configures a Dataset.
type Option func(*Dataset)

// WithCache shares a decoded-image cache between datasets.
func WithCache(c *cache.Cache) Option {
	return func(d *Dataset) { d.cache = c }
}

// WithMetrics records decode timings and cache effectiveness.
func WithMetrics(m *metrics.ImageLoaderMetrics) Option {
	return func(d *Dataset) { d.metrics = m }
}

// NewDataset creates a dataset over paths. labels may be nil; otherwise it
// needs one row per path.
func NewDataset(paths []string, labels [][]float32, opts DatasetOptions, rng *rand.Rand, options ...Option) (*Dataset, error) {
	if err := opts.Image.validate(); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		return nil, errors.Newf("imageloader: batch size %d must be positive", opts.BatchSize).
			Component("imageloader").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if labels != nil && len(labels) != len(paths) {
		return nil, errors.Newf("imageloader: %d paths but %d label rows", len(paths), len(labels)).
			Component("imageloader").
			Category(errors.CategoryValidation).
			Build()
	}
	if rng == nil && (opts.Shuffle || opts.Augment != nil) {
		return nil, errors.Newf("imageloader: shuffling and augmentation need a random source").
			Component("imageloader").
			Category(errors.CategoryConfiguration).
			Build()
	}

	d := &Dataset{
		paths:  slices.Clone(paths),
		labels: labels,
		opts:   opts,
		rng:    rng,
	}
	for _, o := range options {
		o(d)
	}
	d.workers = cpuspec.Workers(opts.Workers)
	d.order = make([]int, len(paths))
	for i := range d.order {
		d.order[i] = i
	}
	d.Reset()
	return d, nil
}

// ClusterDataset builds the cluster-stratified training set: every non-empty
// cluster contributes mult*(len/K) draws with replacement and the label of
// each item is its cluster id.
func ClusterDataset(paths []string, assignments []int, mult int, opts DatasetOptions, rng *rand.Rand, options ...Option) (*Dataset, error) {
	if len(paths) != len(assignments) {
		return nil, errors.Newf("imageloader: %d paths but %d cluster assignments", len(paths), len(assignments)).
			Component("imageloader").
			Category(errors.CategoryValidation).
			Build()
	}
	idx, clusters, err := sampler.ClusterBalanced(assignments, mult, rng)
	if err != nil {
		return nil, err
	}
	sampled := make([]string, len(idx))
	labels := make([][]float32, len(idx))
	for k, i := range idx {
		sampled[k] = paths[i]
		labels[k] = []float32{float32(clusters[k])}
	}
	opts.Shuffle = false
	return NewDataset(sampled, labels, opts, rng, options...)
}

// Len returns the number of images per pass.
func (d *Dataset) Len() int { return len(d.paths) }

// NumSteps returns the number of batches per pass.
func (d *Dataset) NumSteps() int {
	return (len(d.paths) + d.opts.BatchSize - 1) / d.opts.BatchSize
}

// ItemShape returns the [H, W, C] shape of one output image.
func (d *Dataset) ItemShape() []int {
	if d.opts.Sobel {
		return []int{d.opts.Image.Height, d.opts.Image.Width, 3}
	}
	return []int{d.opts.Image.Height, d.opts.Image.Width, d.opts.Image.Channels}
}

// Paths returns the file list in the order of the current pass.
func (d *Dataset) Paths() []string {
	out := make([]string, len(d.order))
	for k, i := range d.order {
		out[k] = d.paths[i]
	}
	return out
}

// Reset starts a new pass, reshuffling when configured.
func (d *Dataset) Reset() {
	d.position = 0
	if d.opts.Shuffle {
		d.rng.Shuffle(len(d.order), func(i, j int) { d.order[i], d.order[j] = d.order[j], d.order[i] })
	}
}

// Next loads the next batch. It returns io.EOF after the last batch.
func (d *Dataset) Next(ctx context.Context) (*features.Batch, error) {
	if d.position >= len(d.order) {
		return nil, io.EOF
	}
	end := min(d.position+d.opts.BatchSize, len(d.order))
	rows := d.order[d.position:end]
	d.position = end

	// per-item sources keep augmentation reproducible regardless of scheduling
	var seeds []uint64
	if d.opts.Augment != nil {
		seeds = make([]uint64, len(rows))
		for k := range seeds {
			seeds[k] = d.rng.Uint64()
		}
	}

	items := make([][]float32, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for k, i := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			im, err := d.load(d.paths[i])
			if err != nil {
				return err
			}
			if d.opts.Augment != nil {
				im = Augment(im, *d.opts.Augment, rand.New(rand.NewPCG(seeds[k], uint64(i))))
			}
			if d.opts.Sobel {
				im = Sobelize(im)
			}
			items[k] = im.Pix
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.New(ctx.Err()).
				Component("imageloader").
				Category(errors.CategoryCancellation).
				Build()
		}
		return nil, err
	}

	x, err := features.Stack(items, d.ItemShape())
	if err != nil {
		return nil, err
	}
	batch := &features.Batch{X: x}
	if d.labels != nil {
		batch.Y = make([][]float32, len(rows))
		for k, i := range rows {
			batch.Y[k] = d.labels[i]
		}
	}
	return batch, nil
}

func (d *Dataset) cacheKey(path string) string {
	o := d.opts.Image
	return fmt.Sprintf("%s|%dx%dx%d|%g|%t", path, o.Height, o.Width, o.Channels, o.Norm, o.SingleChannel)
}

// load returns the decoded image, from the cache when possible. Cached images
// are shared and must not be modified.
func (d *Dataset) load(path string) (Image, error) {
	key := d.cacheKey(path)
	if d.cache != nil {
		if v, ok := d.cache.Get(key); ok {
			d.metrics.IncrementCacheHits()
			return v.(Image), nil
		}
		d.metrics.IncrementCacheMisses()
	}

	start := time.Now()
	im, err := LoadImage(path, d.opts.Image)
	d.metrics.ObserveDecode(DetectType(path).String(), time.Since(start).Seconds(), err)
	if err != nil {
		GetLogger().Debug("image load failed", logger.String("path", path), logger.Error(err))
		return Image{}, err
	}
	if d.cache != nil {
		d.cache.Set(key, im, cache.DefaultExpiration)
	}
	return im, nil
}

// LoadAll decodes every path into one [N, H, W, C] tensor, in order.
func LoadAll(ctx context.Context, paths []string, opts DatasetOptions, options ...Option) (features.Tensor, error) {
	opts.Shuffle = false
	opts.Augment = nil
	d, err := NewDataset(paths, nil, opts, nil, options...)
	if err != nil {
		return features.Tensor{}, err
	}
	batches := make([]features.Tensor, 0, d.NumSteps())
	for {
		b, err := d.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return features.Tensor{}, err
		}
		batches = append(batches, b.X)
	}
	out, err := features.NewTensor(append([]int{len(paths)}, d.ItemShape()...)...)
	if err != nil {
		return features.Tensor{}, err
	}
	out.Data = out.Data[:0]
	for _, b := range batches {
		out.Data = append(out.Data, b.Data...)
	}
	return out, nil
}
