// Package activelearning runs the label-acquisition loop: decide whether the
// model has enough labels, pick a batch at random or by uncertainty, collect
// annotations and fold them into the label state.
package activelearning

import (
	"context"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/features"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/logger"
	"github.com/tphakala/patchwork-go/internal/model"
	"github.com/tphakala/patchwork-go/internal/sampler"
	"github.com/tphakala/patchwork-go/internal/uncertainty"
)

// State is a step of one iteration.
type State int

const (
	CheckSufficiency State = iota
	RandomPick
	ModelUpdate
	Annotate
	LabelUpdate
)

func (s State) String() string {
	switch s {
	case CheckSufficiency:
		return "check_sufficiency"
	case RandomPick:
		return "random_pick"
	case ModelUpdate:
		return "model_update"
	case Annotate:
		return "annotate"
	case LabelUpdate:
		return "label_update"
	}
	return "unknown"
}

// Mode is how a batch was chosen.
type Mode string

const (
	ModeRandom      Mode = "random"
	ModeUncertainty Mode = "uncertainty"
)

// Config holds the loop parameters.
type Config struct {
	BatchSize   int     // items per round (M)
	Epochs      int     // fit epochs per round
	MinCount    int     // labels of each polarity required before training
	Epsilon     float64 // exploration rate for uncertainty sampling
	Stratify    bool    // balance the training set by repeating the minority polarity
	MaxFitBatch int     // upper bound on the fit minibatch
}

// DefaultConfig returns the standard loop parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:   16,
		Epochs:      100,
		MinCount:    10,
		Epsilon:     0,
		Stratify:    true,
		MaxFitBatch: 64,
	}
}

func (c Config) validate() error {
	switch {
	case c.BatchSize <= 0:
		return configError("batch size %d must be positive", c.BatchSize)
	case c.Epochs <= 0:
		return configError("epochs %d must be positive", c.Epochs)
	case c.MinCount < 0:
		return configError("min count %d must not be negative", c.MinCount)
	case c.Epsilon < 0 || c.Epsilon > 1:
		return configError("epsilon %v outside [0,1]", c.Epsilon)
	case c.MaxFitBatch <= 0:
		return configError("max fit batch %d must be positive", c.MaxFitBatch)
	}
	return nil
}

// EvalSet is held-out data scored after every iteration.
type EvalSet struct {
	X features.Tensor
	Y []float64
}

// IterationResult describes one completed iteration.
type IterationResult struct {
	Iteration    int               `json:"iteration" yaml:"iteration"`
	Mode         Mode              `json:"mode" yaml:"mode"`
	Indices      []int             `json:"indices" yaml:"indices"`
	Weights      []float64         `json:"weights" yaml:"weights"`
	Positives    []int             `json:"positives" yaml:"positives"`
	Explored     int               `json:"explored" yaml:"explored"`
	FitLoss      float64           `json:"fit_loss,omitempty" yaml:"fit_loss,omitempty"`
	FitDuration  time.Duration     `json:"fit_duration,omitempty" yaml:"fit_duration,omitempty"`
	Counts       labelstate.Counts `json:"counts" yaml:"counts"`
	TestAccuracy *float64          `json:"test_accuracy,omitempty" yaml:"test_accuracy,omitempty"`
}

// Observer is notified after the label state of an iteration is committed.
type Observer interface {
	OnIteration(ctx context.Context, r IterationResult) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r IterationResult) error

// OnIteration calls f.
func (f ObserverFunc) OnIteration(ctx context.Context, r IterationResult) error { return f(ctx, r) }

// Controller owns the label state of one session. It is not safe for
// concurrent use; readers of the label state go through Store.
type Controller struct {
	cfg       Config
	x         features.Tensor
	images    []string
	model     model.Model
	annotator Annotator
	rng       *rand.Rand
	store     *labelstate.Store
	observers []Observer
	log       logger.Logger

	state     State
	iteration int
	testAcc   []float64
}

// Option configures a Controller.
type Option func(*Controller)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithStore resumes from an existing label state.
func WithStore(s *labelstate.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithStartIteration sets the iteration counter of a resumed session.
func WithStartIteration(n int) Option {
	return func(c *Controller) { c.iteration = n }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// New creates a controller over the feature tensor x. images[i] is the image
// reference shown for item i.
func New(x features.Tensor, images []string, m model.Model, annotator Annotator, rng *rand.Rand, opts ...Option) (*Controller, error) {
	c := &Controller{
		cfg:       DefaultConfig(),
		x:         x,
		images:    images,
		model:     m,
		annotator: annotator,
		rng:       rng,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = GetLogger()
	}

	if err := c.cfg.validate(); err != nil {
		return nil, err
	}
	if m == nil || annotator == nil || rng == nil {
		return nil, configError("model, annotator and random source are required")
	}
	if len(images) != x.Len() {
		return nil, configError("%d image references for %d feature rows", len(images), x.Len())
	}
	if c.store == nil {
		c.store = labelstate.NewStore(x.Len())
	} else if c.store.Len() != x.Len() {
		return nil, configError("label store of %d items for %d feature rows", c.store.Len(), x.Len())
	}
	return c, nil
}

// Store exposes the label state for concurrent readers.
func (c *Controller) Store() *labelstate.Store { return c.store }

// Config returns the active configuration.
func (c *Controller) Config() Config { return c.cfg }

// State returns the step the controller is in or last entered.
func (c *Controller) State() State { return c.state }

// Iteration returns the number of completed iterations.
func (c *Controller) Iteration() int { return c.iteration }

// TestAccuracy returns the held-out accuracy recorded after each evaluated iteration.
func (c *Controller) TestAccuracy() []float64 { return slices.Clone(c.testAcc) }

// Plan decides how the next batch is chosen: at random until both polarities
// have at least MinCount labels, by uncertainty afterwards.
func (c *Controller) Plan() Mode {
	c.state = CheckSufficiency
	counts := c.store.Counts()
	if counts.Negative < c.cfg.MinCount || counts.Positive < c.cfg.MinCount {
		return ModeRandom
	}
	return ModeUncertainty
}

// TrainingSet builds the fit input from the current labels. With Stratify the
// minority polarity is repeated; otherwise every labeled item appears once.
func (c *Controller) TrainingSet() model.TrainingSet {
	var idx []int
	if c.cfg.Stratify {
		idx = sampler.BalancedIndices(c.store.Indices(labelstate.Positive), c.store.Indices(labelstate.Negative))
	} else {
		labels := c.store.Labels()
		for i, l := range labels {
			if l != labelstate.Unlabeled {
				idx = append(idx, i)
			}
		}
	}

	labels := c.store.Labels()
	weights := c.store.Weights()
	ts := model.TrainingSet{
		Indices: idx,
		Labels:  make([]float64, len(idx)),
		Weights: make([]float64, len(idx)),
	}
	for k, i := range idx {
		ts.Labels[k] = float64(labels[i])
		ts.Weights[k] = weights[i]
	}
	return ts
}

// RandomSample draws BatchSize distinct unlabeled items.
func (c *Controller) RandomSample() ([]int, error) {
	return sampler.RandomSubset(c.store.Unlabeled(), c.cfg.BatchSize, c.rng)
}

// Iterate runs one full iteration without evaluation.
func (c *Controller) Iterate(ctx context.Context) (IterationResult, error) {
	return c.iterate(ctx, nil)
}

// Run performs n iterations, scoring eval after each one when it is non-nil.
// It stops at the first error; completed iterations stay committed and are
// returned, including one whose evaluation or observer failed after its
// labels were applied.
func (c *Controller) Run(ctx context.Context, n int, eval *EvalSet) ([]IterationResult, error) {
	results := make([]IterationResult, 0, n)
	for range n {
		if err := ctx.Err(); err != nil {
			return results, errors.New(err).
				Component("activelearning").
				Category(errors.CategoryCancellation).
				Build()
		}
		before := c.iteration
		r, err := c.iterate(ctx, eval)
		if c.iteration > before {
			results = append(results, r)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (c *Controller) iterate(ctx context.Context, eval *EvalSet) (IterationResult, error) {
	m := c.cfg.BatchSize
	unlabeled := c.store.Unlabeled()
	if len(unlabeled) < m {
		return IterationResult{}, configError("not enough unlabeled samples: %d left, batch size %d", len(unlabeled), m)
	}

	res := IterationResult{Iteration: c.iteration + 1, Mode: c.Plan()}

	switch res.Mode {
	case ModeRandom:
		c.state = RandomPick
		idx, err := sampler.RandomSubset(unlabeled, m, c.rng)
		if err != nil {
			return IterationResult{}, err
		}
		res.Indices = idx
		res.Weights = make([]float64, m)
		for k := range res.Weights {
			res.Weights[k] = 1
		}

	case ModeUncertainty:
		c.state = ModelUpdate
		ts := c.TrainingSet()
		start := time.Now()
		hist, err := c.model.Fit(ctx, c.x, ts, model.FitOptions{
			BatchSize: min(ts.Len(), c.cfg.MaxFitBatch),
			Epochs:    c.cfg.Epochs,
		})
		if err != nil {
			return IterationResult{}, wrapModelError(err, "fit")
		}
		res.FitDuration = time.Since(start)
		if len(hist.Loss) > 0 {
			res.FitLoss = hist.Loss[len(hist.Loss)-1]
		}

		probs, err := c.model.Predict(ctx, c.x)
		if err != nil {
			return IterationResult{}, wrapModelError(err, "predict")
		}
		sel, err := uncertainty.Sampler{BatchSize: m, Epsilon: c.cfg.Epsilon}.Select(probs, unlabeled, c.rng)
		if err != nil {
			return IterationResult{}, err
		}
		res.Indices, res.Weights, res.Explored = sel.Indices, sel.Weights, sel.Explored
	}

	c.state = Annotate
	batch := Batch{
		Iteration: res.Iteration,
		Mode:      res.Mode,
		Indices:   slices.Clone(res.Indices),
		Weights:   slices.Clone(res.Weights),
		Images:    make([]string, m),
	}
	for k, i := range res.Indices {
		batch.Images[k] = c.images[i]
	}
	positives, err := c.annotator.Annotate(ctx, batch)
	if err != nil {
		if errors.IsFatal(err) || errors.IsCategory(err, errors.CategoryCancellation) {
			return IterationResult{}, err
		}
		return IterationResult{}, errors.New(err).
			Component("activelearning").
			Category(errors.CategoryAnnotation).
			Build()
	}
	if res.Positives, err = normalizePositives(positives, m); err != nil {
		return IterationResult{}, err
	}

	c.state = LabelUpdate
	if err := c.store.ApplyBatch(res.Indices, res.Weights, res.Positives); err != nil {
		return IterationResult{}, err
	}
	c.iteration++
	res.Counts = c.store.Counts()

	// The batch is committed from here on; an evaluation failure is reported
	// after the observers have seen the iteration.
	var evalErr error
	if eval != nil {
		metrics, err := c.model.Evaluate(ctx, eval.X, eval.Y)
		if err != nil {
			evalErr = wrapModelError(err, "evaluate")
			c.log.Warn("test set evaluation failed", logger.Int("iteration", res.Iteration), logger.Error(err))
		} else {
			acc := metrics.Accuracy
			c.testAcc = append(c.testAcc, acc)
			res.TestAccuracy = &acc
		}
	}

	fields := []logger.Field{
		logger.Int("iteration", res.Iteration),
		logger.String("mode", string(res.Mode)),
		logger.Int("positives", len(res.Positives)),
		logger.Int("explored", res.Explored),
		logger.Int("labeled_positive", res.Counts.Positive),
		logger.Int("labeled_negative", res.Counts.Negative),
		logger.Int("unlabeled", res.Counts.Unlabeled),
	}
	if res.TestAccuracy != nil {
		fields = append(fields, logger.Float64("test_accuracy", *res.TestAccuracy))
	}
	c.log.Info("iteration complete", fields...)

	for _, o := range c.observers {
		if err := o.OnIteration(ctx, res); err != nil {
			c.log.Warn("iteration observer failed", logger.Int("iteration", res.Iteration), logger.Error(err))
			return res, err
		}
	}
	return res, evalErr
}

func wrapModelError(err error, op string) error {
	if errors.IsCategory(err, errors.CategoryCancellation) || errors.IsFatal(err) {
		return err
	}
	return errors.New(err).
		Component("activelearning").
		Category(errors.CategoryModel).
		Context("operation", op).
		Build()
}

func configError(format string, args ...any) error {
	return errors.Newf("activelearning: "+format, args...).
		Component("activelearning").
		Category(errors.CategoryConfiguration).
		Build()
}
