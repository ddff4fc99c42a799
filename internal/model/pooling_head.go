package model

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/features"
)

const (
	// DefaultLearningRate matches plain SGD at 1e-3.
	DefaultLearningRate = 1e-3

	// probabilities are clipped before taking logs in the loss
	lossEpsilon = 1e-7
)

// PoolingHead max-pools each feature map over its spatial dimensions and feeds
// the per-channel maxima to a single sigmoid unit. Items of rank 1 are used as is.
type PoolingHead struct {
	mu           sync.RWMutex
	weights      []float64
	bias         float64
	learningRate float64
	workers      int
	rng          *rand.Rand
}

// HeadOption configures a PoolingHead.
type HeadOption func(*PoolingHead)

// WithLearningRate overrides the SGD step size.
func WithLearningRate(lr float64) HeadOption {
	return func(h *PoolingHead) { h.learningRate = lr }
}

// WithWorkers sets prediction parallelism.
func WithWorkers(n int) HeadOption {
	return func(h *PoolingHead) {
		if n > 0 {
			h.workers = n
		}
	}
}

// NewPoolingHead creates a head for items with the given number of channels
// (the last item dimension). Weights use Glorot-uniform initialisation from rng,
// which is also used to shuffle each training epoch.
func NewPoolingHead(channels int, rng *rand.Rand, opts ...HeadOption) (*PoolingHead, error) {
	if channels <= 0 {
		return nil, errors.Newf("model: channel count %d must be positive", channels).
			Component("model").
			Category(errors.CategoryConfiguration).
			Build()
	}
	h := &PoolingHead{
		weights:      make([]float64, channels),
		learningRate: DefaultLearningRate,
		workers:      runtime.GOMAXPROCS(0),
		rng:          rng,
	}
	limit := math.Sqrt(6 / float64(channels+1))
	for i := range h.weights {
		h.weights[i] = (rng.Float64()*2 - 1) * limit
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Channels returns the expected channel count.
func (h *PoolingHead) Channels() int { return len(h.weights) }

// Params returns a copy of the weights and the bias.
func (h *PoolingHead) Params() ([]float64, float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]float64(nil), h.weights...), h.bias
}

// pool reduces one item to its per-channel maxima.
func (h *PoolingHead) pool(item []float32, dst []float64) {
	c := len(h.weights)
	for k := range c {
		dst[k] = math.Inf(-1)
	}
	for i, v := range item {
		if fv := float64(v); fv > dst[i%c] {
			dst[i%c] = fv
		}
	}
}

func (h *PoolingHead) checkShape(x features.Tensor) error {
	item := x.ItemShape()
	if len(item) == 0 || item[len(item)-1] != len(h.weights) {
		return errors.Newf("model: item shape %v does not end in %d channels", item, len(h.weights)).
			Component("model").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func (h *PoolingHead) forward(pooled []float64) float64 {
	return sigmoid(floats.Dot(h.weights, pooled) + h.bias)
}

// Predict returns the positive-class probability of every item, computed in
// parallel chunks.
func (h *PoolingHead) Predict(ctx context.Context, x features.Tensor) ([]float64, error) {
	if err := h.checkShape(x); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := x.Len()
	out := make([]float64, n)
	chunk := max(1, (n+h.workers-1)/h.workers)

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			pooled := make([]float64, len(h.weights))
			for i := start; i < end; i++ {
				if i%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				h.pool(x.Item(i), pooled)
				out[i] = h.forward(pooled)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.New(err).
			Component("model").
			Category(errors.CategoryCancellation).
			Build()
	}
	return out, nil
}

// Fit runs minibatch SGD on the weighted binary cross-entropy. The per-batch
// loss is the weighted sum divided by the batch length.
func (h *PoolingHead) Fit(ctx context.Context, x features.Tensor, ts TrainingSet, opts FitOptions) (History, error) {
	if err := h.checkShape(x); err != nil {
		return History{}, err
	}
	n := ts.Len()
	if n == 0 || len(ts.Labels) != n || len(ts.Weights) != n {
		return History{}, errors.Newf("model: training set of %d indices, %d labels, %d weights",
			n, len(ts.Labels), len(ts.Weights)).
			Component("model").
			Category(errors.CategoryValidation).
			Build()
	}
	if opts.BatchSize <= 0 || opts.Epochs <= 0 {
		return History{}, errors.Newf("model: batch size %d and epochs %d must be positive", opts.BatchSize, opts.Epochs).
			Component("model").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := len(h.weights)
	pooled := make([][]float64, n)
	for k, i := range ts.Indices {
		if i < 0 || i >= x.Len() {
			return History{}, errors.Newf("model: training index %d out of range [0,%d)", i, x.Len()).
				Component("model").
				Category(errors.CategoryConfiguration).
				Build()
		}
		pooled[k] = make([]float64, c)
		h.pool(x.Item(i), pooled[k])
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	gradW := make([]float64, c)
	hist := History{Loss: make([]float64, 0, opts.Epochs)}

	for range opts.Epochs {
		if err := ctx.Err(); err != nil {
			return hist, errors.New(err).Component("model").Category(errors.CategoryCancellation).Build()
		}
		h.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		epochLoss := 0.0
		for start := 0; start < n; start += opts.BatchSize {
			batch := order[start:min(start+opts.BatchSize, n)]
			for k := range gradW {
				gradW[k] = 0
			}
			gradB := 0.0
			for _, r := range batch {
				p := h.forward(pooled[r])
				y, w := ts.Labels[r], ts.Weights[r]
				epochLoss += w * bce(p, y)
				g := w * (p - y)
				floats.AddScaled(gradW, g, pooled[r])
				gradB += g
			}
			scale := -h.learningRate / float64(len(batch))
			floats.AddScaled(h.weights, scale, gradW)
			h.bias += scale * gradB
		}
		hist.Loss = append(hist.Loss, epochLoss/float64(n))
	}
	return hist, nil
}

// Evaluate returns the mean unweighted cross-entropy and the accuracy. An item
// is predicted positive only when its probability is strictly above 0.5.
func (h *PoolingHead) Evaluate(ctx context.Context, x features.Tensor, y []float64) (Metrics, error) {
	if len(y) != x.Len() {
		return Metrics{}, errors.Newf("model: %d items but %d targets", x.Len(), len(y)).
			Component("model").
			Category(errors.CategoryValidation).
			Build()
	}
	if len(y) == 0 {
		return Metrics{}, nil
	}
	probs, err := h.Predict(ctx, x)
	if err != nil {
		return Metrics{}, err
	}
	var m Metrics
	correct := 0
	for i, p := range probs {
		m.Loss += bce(p, y[i])
		if (p > 0.5) == (y[i] >= 0.5) {
			correct++
		}
	}
	m.Loss /= float64(len(y))
	m.Accuracy = float64(correct) / float64(len(y))
	return m, nil
}

func bce(p, y float64) float64 {
	p = min(max(p, lossEpsilon), 1-lossEpsilon)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}
