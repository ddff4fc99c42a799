// Package extractor turns image files into a feature file by running them
// through a pretrained image backbone.
package extractor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/features"
	"github.com/tphakala/patchwork-go/internal/imageloader"
	"github.com/tphakala/patchwork-go/internal/logger"
)

// Backbone maps one [H, W, C] image to a feature map.
type Backbone interface {
	InputShape() []int  // [H, W, C]
	OutputShape() []int // per-item feature shape
	Run(ctx context.Context, item []float32) ([]float32, error)
}

// Extractor feeds images from an imageloader.Dataset through a Backbone.
type Extractor struct {
	backbone Backbone
	opts     imageloader.DatasetOptions
	loaders  []imageloader.Option
	progress func(done, total int)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLoaderOptions passes options, such as a cache or metrics, to the image dataset.
func WithLoaderOptions(opts ...imageloader.Option) Option {
	return func(e *Extractor) { e.loaders = append(e.loaders, opts...) }
}

// WithProgress is called after every loaded batch.
func WithProgress(fn func(done, total int)) Option {
	return func(e *Extractor) { e.progress = fn }
}

// New creates an extractor. The image size and channel count of img are
// replaced by the backbone's input shape; Norm and SingleChannel are kept.
func New(b Backbone, img imageloader.Options, batchSize, workers int, opts ...Option) (*Extractor, error) {
	in := b.InputShape()
	if len(in) != 3 {
		return nil, errors.Newf("extractor: backbone input shape %v is not [H W C]", in).
			Component("extractor").
			Category(errors.CategoryConfiguration).
			Build()
	}
	img.Height, img.Width, img.Channels = in[0], in[1], in[2]

	e := &Extractor{
		backbone: b,
		opts: imageloader.DatasetOptions{
			Image:     img,
			BatchSize: max(1, batchSize),
			Workers:   workers,
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Extract returns an [N, ...OutputShape] tensor with one row per path, in order.
func (e *Extractor) Extract(ctx context.Context, paths []string) (features.Tensor, error) {
	start := time.Now()
	log := GetLogger()

	ds, err := imageloader.NewDataset(paths, nil, e.opts, nil, e.loaders...)
	if err != nil {
		return features.Tensor{}, err
	}
	out, err := features.NewTensor(append([]int{len(paths)}, e.backbone.OutputShape()...)...)
	if err != nil {
		return features.Tensor{}, err
	}
	itemSize := out.ItemSize()

	row := 0
	for {
		b, err := ds.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return features.Tensor{}, err
		}
		for k := range b.X.Len() {
			feat, err := e.backbone.Run(ctx, b.X.Item(k))
			if err != nil {
				if ctx.Err() != nil {
					return features.Tensor{}, errors.New(ctx.Err()).
						Component("extractor").
						Category(errors.CategoryCancellation).
						Build()
				}
				return features.Tensor{}, errors.New(err).
					Component("extractor").
					Category(errors.CategoryModel).
					FileContext(paths[row]).
					Build()
			}
			if len(feat) != itemSize {
				return features.Tensor{}, errors.Newf("extractor: backbone returned %d values, want %d", len(feat), itemSize).
					Component("extractor").
					Category(errors.CategoryModel).
					Build()
			}
			copy(out.Data[row*itemSize:], feat)
			row++
		}
		if e.progress != nil {
			e.progress(row, len(paths))
		}
	}

	log.Info("features extracted",
		logger.Int("images", len(paths)),
		logger.String("shape", fmt.Sprint(append([]int{out.Len()}, out.ItemShape()...))),
		logger.Duration("duration", time.Since(start)))
	return out, nil
}

// ExtractToFile extracts paths and writes the tensor to output.
func (e *Extractor) ExtractToFile(ctx context.Context, paths []string, output string) (features.Tensor, error) {
	t, err := e.Extract(ctx, paths)
	if err != nil {
		return features.Tensor{}, err
	}
	if err := features.WriteFile(output, t); err != nil {
		return features.Tensor{}, err
	}
	GetLogger().Info("feature file written", logger.String("path", output))
	return t, nil
}
