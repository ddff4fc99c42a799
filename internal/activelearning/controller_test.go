package activelearning

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/features"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/logger"
	"github.com/tphakala/patchwork-go/internal/model"
)

// stubModel predicts fixed probabilities and records fit calls.
type stubModel struct {
	probs    []float64
	fits     []model.FitOptions
	sets     []model.TrainingSet
	accuracy float64
	fitErr   error
	evalErr  error
}

func (s *stubModel) Predict(_ context.Context, x features.Tensor) ([]float64, error) {
	if s.probs != nil {
		return s.probs, nil
	}
	out := make([]float64, x.Len())
	for i := range out {
		out[i] = 0.5
	}
	return out, nil
}

func (s *stubModel) Fit(_ context.Context, _ features.Tensor, ts model.TrainingSet, opts model.FitOptions) (model.History, error) {
	if s.fitErr != nil {
		return model.History{}, s.fitErr
	}
	s.fits = append(s.fits, opts)
	s.sets = append(s.sets, ts)
	return model.History{Loss: []float64{0.7, 0.3}}, nil
}

func (s *stubModel) Evaluate(_ context.Context, _ features.Tensor, _ []float64) (model.Metrics, error) {
	if s.evalErr != nil {
		return model.Metrics{}, s.evalErr
	}
	return model.Metrics{Accuracy: s.accuracy}, nil
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func newFixture(t *testing.T, n int) (features.Tensor, []string) {
	t.Helper()
	x, err := features.NewTensor(n, 2)
	require.NoError(t, err)
	images := make([]string, n)
	for i := range images {
		images[i] = fmt.Sprintf("img_%03d.png", i)
	}
	return x, images
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 1))
}

func alternatingTruth(n int) []labelstate.Label {
	gt := make([]labelstate.Label, n)
	for i := range gt {
		if i%3 == 0 {
			gt[i] = labelstate.Positive
		}
	}
	return gt
}

func TestPlanRequiresMinCountOfBothPolarities(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 40)
	m := &stubModel{}
	c, err := New(x, images, m, GroundTruth{Labels: alternatingTruth(40)}, newRand(1), WithLogger(quietLogger()))
	require.NoError(t, err)

	pos := make([]int, 9)
	neg := make([]int, 11)
	for i := range pos {
		pos[i] = i
	}
	for i := range neg {
		neg[i] = 9 + i
	}
	require.NoError(t, c.Store().SetLabels(pos, repeat(labelstate.Positive, 9)))
	require.NoError(t, c.Store().SetLabels(neg, repeat(labelstate.Negative, 11)))

	assert.Equal(t, ModeRandom, c.Plan())

	res, err := c.Iterate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeRandom, res.Mode)
	assert.Empty(t, m.fits, "model must not be trained before min count is reached")
	for _, w := range res.Weights {
		assert.InDelta(t, 1.0, w, 0)
	}
}

func TestPlanSwitchesToUncertainty(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 30)
	c, err := New(x, images, &stubModel{}, GroundTruth{Labels: alternatingTruth(30)}, newRand(1), WithLogger(quietLogger()))
	require.NoError(t, err)

	idx := make([]int, 20)
	labels := make([]labelstate.Label, 20)
	for i := range idx {
		idx[i] = i
		if i < 10 {
			labels[i] = labelstate.Positive
		}
	}
	require.NoError(t, c.Store().SetLabels(idx, labels))
	assert.Equal(t, ModeUncertainty, c.Plan())
}

func repeat(l labelstate.Label, n int) []labelstate.Label {
	out := make([]labelstate.Label, n)
	for i := range out {
		out[i] = l
	}
	return out
}

func TestIterateAppliesGroundTruthLabels(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 50)
	gt := alternatingTruth(50)
	c, err := New(x, images, &stubModel{}, GroundTruth{Labels: gt}, newRand(2), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := c.Iterate(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Indices, 16)
	assert.Equal(t, 1, c.Iteration())
	assert.Equal(t, LabelUpdate, c.State())

	unlabeled := c.Store().Unlabeled()
	assert.Len(t, unlabeled, 34)
	for _, i := range res.Indices {
		assert.NotContains(t, unlabeled, i)
		assert.Equal(t, gt[i], c.Store().Label(i))
	}
	assert.Equal(t, 16, res.Counts.Positive+res.Counts.Negative)
}

func TestUncertaintyIterationFitsAndSamples(t *testing.T) {
	t.Parallel()

	const n = 120
	x, images := newFixture(t, n)
	probs := make([]float64, n)
	for i := range probs {
		probs[i] = 0.99
	}
	// items 100..115 are the most uncertain
	for i := 100; i < 116; i++ {
		probs[i] = 0.5
	}
	m := &stubModel{probs: probs}

	cfg := DefaultConfig()
	cfg.Epochs = 7
	c, err := New(x, images, m, GroundTruth{Labels: alternatingTruth(n)}, newRand(3),
		WithConfig(cfg), WithLogger(quietLogger()))
	require.NoError(t, err)

	for i := range 100 {
		l := labelstate.Negative
		if i < 10 {
			l = labelstate.Positive
		}
		require.NoError(t, c.Store().SetLabels([]int{i}, []labelstate.Label{l}))
	}

	res, err := c.Iterate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeUncertainty, res.Mode)

	require.Len(t, m.fits, 1)
	assert.Equal(t, model.FitOptions{BatchSize: 64, Epochs: 7}, m.fits[0])
	// 10 positives repeated ceil(90/10) = 9 times plus 90 negatives
	assert.Equal(t, 180, m.sets[0].Len())

	assert.ElementsMatch(t, []int{100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110, 111, 112, 113, 114, 115}, res.Indices)
	assert.InDelta(t, 0.3, res.FitLoss, 1e-12)
}

func TestFitBatchSizeCappedByTrainingSet(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 40)
	m := &stubModel{}
	cfg := DefaultConfig()
	cfg.MinCount = 2
	cfg.Stratify = false
	c, err := New(x, images, m, GroundTruth{Labels: alternatingTruth(40)}, newRand(4),
		WithConfig(cfg), WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, c.Store().SetLabels([]int{0, 1, 2, 3, 4}, []labelstate.Label{1, 1, 0, 0, 0}))

	_, err = c.Iterate(context.Background())
	require.NoError(t, err)
	require.Len(t, m.fits, 1)
	assert.Equal(t, 5, m.fits[0].BatchSize)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, m.sets[0].Indices)
}

func TestTrainingSetStratified(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 110)
	c, err := New(x, images, &stubModel{}, GroundTruth{Labels: alternatingTruth(110)}, newRand(5), WithLogger(quietLogger()))
	require.NoError(t, err)

	idx := make([]int, 103)
	labels := make([]labelstate.Label, 103)
	for i := range idx {
		idx[i] = i
		if i < 3 {
			labels[i] = labelstate.Positive
		}
	}
	require.NoError(t, c.Store().SetLabels(idx, labels))

	ts := c.TrainingSet()
	assert.Equal(t, 202, ts.Len())
	positives := 0
	for _, y := range ts.Labels {
		if y == 1 {
			positives++
		}
	}
	assert.Equal(t, 102, positives)
}

func TestPoolOfExactlyBatchSize(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 16)
	c, err := New(x, images, &stubModel{}, GroundTruth{Labels: alternatingTruth(16)}, newRand(6), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = c.Iterate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, c.Store().Unlabeled())

	before := c.Store().Labels()
	_, err = c.Iterate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Equal(t, before, c.Store().Labels())
	assert.Equal(t, 1, c.Iteration())
}

func TestAnnotatorOutOfRangeLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 30)
	bad := AnnotatorFunc(func(_ context.Context, _ Batch) ([]int, error) {
		return []int{0, 16}, nil
	})
	c, err := New(x, images, &stubModel{}, bad, newRand(7), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = c.Iterate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, labelstate.Counts{Unlabeled: 30}, c.Store().Counts())
	assert.Equal(t, 0, c.Iteration())
}

func TestAnnotatorReceivesImages(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 20)
	var got Batch
	annot := AnnotatorFunc(func(_ context.Context, b Batch) ([]int, error) {
		got = b
		return []int{3, 3, 5}, nil
	})
	c, err := New(x, images, &stubModel{}, annot, newRand(8), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := c.Iterate(context.Background())
	require.NoError(t, err)

	require.Len(t, got.Images, 16)
	for k, i := range got.Indices {
		assert.Equal(t, images[i], got.Images[k])
	}
	assert.Equal(t, []int{3, 5}, res.Positives)
	assert.Equal(t, 2, res.Counts.Positive)
}

func TestRunRecordsAccuracyAndNotifiesObservers(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 64)
	m := &stubModel{accuracy: 0.75}
	var seen []int
	obs := ObserverFunc(func(_ context.Context, r IterationResult) error {
		seen = append(seen, r.Iteration)
		require.NotNil(t, r.TestAccuracy)
		return nil
	})
	c, err := New(x, images, m, GroundTruth{Labels: alternatingTruth(64)}, newRand(9),
		WithObserver(obs), WithLogger(quietLogger()))
	require.NoError(t, err)

	evalX, err := features.NewTensor(4, 2)
	require.NoError(t, err)
	results, err := c.Run(context.Background(), 3, &EvalSet{X: evalX, Y: []float64{0, 1, 0, 1}})
	require.NoError(t, err)

	assert.Len(t, results, 3)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, []float64{0.75, 0.75, 0.75}, c.TestAccuracy())
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 64)
	c, err := New(x, images, &stubModel{}, GroundTruth{Labels: alternatingTruth(64)}, newRand(10), WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := c.Run(ctx, 2, nil)
	require.Error(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, c.Iteration())
}

func TestEvaluateErrorKeepsCommittedIteration(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 64)
	m := &stubModel{evalErr: fmt.Errorf("shape mismatch")}
	var seen []IterationResult
	obs := ObserverFunc(func(_ context.Context, r IterationResult) error {
		seen = append(seen, r)
		return nil
	})
	c, err := New(x, images, m, GroundTruth{Labels: alternatingTruth(64)}, newRand(12),
		WithObserver(obs), WithLogger(quietLogger()))
	require.NoError(t, err)

	evalX, err := features.NewTensor(4, 2)
	require.NoError(t, err)
	results, err := c.Run(context.Background(), 3, &EvalSet{X: evalX, Y: []float64{0, 1, 0, 1}})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModel))

	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Iteration)
	assert.Nil(t, results[0].TestAccuracy)
	require.Len(t, seen, 1)
	assert.Equal(t, results[0].Indices, seen[0].Indices)
	assert.Equal(t, 1, c.Iteration())
	assert.Equal(t, 64-DefaultConfig().BatchSize, c.Store().Counts().Unlabeled)
	assert.Empty(t, c.TestAccuracy())
}

func TestObserverErrorKeepsCommittedIteration(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 64)
	obs := ObserverFunc(func(_ context.Context, _ IterationResult) error {
		return fmt.Errorf("disk full")
	})
	c, err := New(x, images, &stubModel{}, GroundTruth{Labels: alternatingTruth(64)}, newRand(13),
		WithObserver(obs), WithLogger(quietLogger()))
	require.NoError(t, err)

	results, err := c.Run(context.Background(), 2, nil)
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, c.Iteration())
}

func TestFitErrorIsNotPartiallyApplied(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 40)
	m := &stubModel{fitErr: fmt.Errorf("diverged")}
	cfg := DefaultConfig()
	cfg.MinCount = 1
	c, err := New(x, images, m, GroundTruth{Labels: alternatingTruth(40)}, newRand(11),
		WithConfig(cfg), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, c.Store().SetLabels([]int{0, 1}, []labelstate.Label{1, 0}))

	_, err = c.Iterate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModel))
	assert.Equal(t, labelstate.Counts{Positive: 1, Negative: 1, Unlabeled: 38}, c.Store().Counts())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	x, images := newFixture(t, 10)
	gt := GroundTruth{Labels: alternatingTruth(10)}

	_, err := New(x, images[:5], &stubModel{}, gt, newRand(1))
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.Epsilon = 2
	_, err = New(x, images, &stubModel{}, gt, newRand(1), WithConfig(cfg))
	require.Error(t, err)

	_, err = New(x, images, &stubModel{}, gt, newRand(1), WithStore(labelstate.NewStore(3)))
	require.Error(t, err)
}

func TestSimulatedSessionWithPoolingHead(t *testing.T) {
	t.Parallel()

	const n = 200
	rng := newRand(12)
	x, err := features.NewTensor(n, 2, 2, 2)
	require.NoError(t, err)
	gt := make([]labelstate.Label, n)
	images := make([]string, n)
	for i := range n {
		item := x.Item(i)
		ch := 1
		if i%4 == 0 {
			gt[i] = labelstate.Positive
			ch = 0
		}
		item[rng.IntN(4)*2+ch] = 1
		images[i] = fmt.Sprintf("%d.png", i)
	}

	head, err := model.NewPoolingHead(2, rng, model.WithLearningRate(0.5))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Epochs = 20
	cfg.MinCount = 5
	cfg.Epsilon = 0.1
	c, err := New(x, images, head, GroundTruth{Labels: gt}, rng, WithConfig(cfg), WithLogger(quietLogger()))
	require.NoError(t, err)

	y := make([]float64, n)
	for i, l := range gt {
		y[i] = float64(l)
	}
	results, err := c.Run(context.Background(), 6, &EvalSet{X: x, Y: y})
	require.NoError(t, err)
	require.Len(t, results, 6)

	assert.Equal(t, n-6*16, len(c.Store().Unlabeled()))
	assert.Equal(t, ModeUncertainty, results[5].Mode)
	acc := c.TestAccuracy()
	assert.Greater(t, acc[len(acc)-1], 0.8)
}
