package model

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/features"
)

// separableFeatures builds n items of shape [2,2,2]. Positive items light up
// channel 0 in one spatial cell, negatives light up channel 1.
func separableFeatures(t *testing.T, n int, rng *rand.Rand) (features.Tensor, []float64) {
	t.Helper()
	x, err := features.NewTensor(n, 2, 2, 2)
	require.NoError(t, err)
	y := make([]float64, n)
	for i := range n {
		item := x.Item(i)
		for k := range item {
			item[k] = float32(rng.Float64() * 0.1)
		}
		cell := rng.IntN(4)
		if i%2 == 0 {
			y[i] = 1
			item[cell*2] = 1
		} else {
			item[cell*2+1] = 1
		}
	}
	return x, y
}

func trainingSetFor(y []float64) TrainingSet {
	ts := TrainingSet{}
	for i, v := range y {
		ts.Indices = append(ts.Indices, i)
		ts.Labels = append(ts.Labels, v)
		ts.Weights = append(ts.Weights, 1)
	}
	return ts
}

func TestPoolingHeadLearnsSeparableData(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	x, y := separableFeatures(t, 40, rng)

	head, err := NewPoolingHead(2, rng, WithLearningRate(0.5), WithWorkers(3))
	require.NoError(t, err)

	before, err := head.Evaluate(context.Background(), x, y)
	require.NoError(t, err)

	hist, err := head.Fit(context.Background(), x, trainingSetFor(y), FitOptions{BatchSize: 8, Epochs: 200})
	require.NoError(t, err)
	require.Len(t, hist.Loss, 200)
	assert.Less(t, hist.Loss[199], hist.Loss[0])

	after, err := head.Evaluate(context.Background(), x, y)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, after.Accuracy, 1e-9)
	assert.Less(t, after.Loss, before.Loss)
}

func TestEvaluateCountsHalfAsNegative(t *testing.T) {
	t.Parallel()

	// zero inputs and a zero bias give a probability of exactly 0.5
	x, err := features.NewTensor(3, 2)
	require.NoError(t, err)
	head, err := NewPoolingHead(2, rand.New(rand.NewPCG(9, 9)))
	require.NoError(t, err)

	probs, err := head.Predict(context.Background(), x)
	require.NoError(t, err)
	for _, p := range probs {
		require.InDelta(t, 0.5, p, 0)
	}

	m, err := head.Evaluate(context.Background(), x, []float64{1, 1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, m.Accuracy, 0)

	m, err = head.Evaluate(context.Background(), x, []float64{0, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.Accuracy, 0)
}

func TestPredictReturnsProbabilities(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 6))
	x, _ := separableFeatures(t, 17, rng)
	head, err := NewPoolingHead(2, rng, WithWorkers(4))
	require.NoError(t, err)

	probs, err := head.Predict(context.Background(), x)
	require.NoError(t, err)
	require.Len(t, probs, 17)
	for _, p := range probs {
		assert.Greater(t, p, 0.0)
		assert.Less(t, p, 1.0)
	}
}

func TestPredictMatchesAcrossWorkerCounts(t *testing.T) {
	t.Parallel()

	x, _ := separableFeatures(t, 23, rand.New(rand.NewPCG(9, 9)))
	one, err := NewPoolingHead(2, rand.New(rand.NewPCG(1, 1)), WithWorkers(1))
	require.NoError(t, err)
	many, err := NewPoolingHead(2, rand.New(rand.NewPCG(1, 1)), WithWorkers(8))
	require.NoError(t, err)

	a, err := one.Predict(context.Background(), x)
	require.NoError(t, err)
	b, err := many.Predict(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRankOneItems(t *testing.T) {
	t.Parallel()

	x, err := features.FromData([]float32{1, 0, 0, 1}, 2, 2)
	require.NoError(t, err)
	head, err := NewPoolingHead(2, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)

	probs, err := head.Predict(context.Background(), x)
	require.NoError(t, err)
	w, b := head.Params()
	assert.InDelta(t, sigmoid(w[0]+b), probs[0], 1e-12)
	assert.InDelta(t, sigmoid(w[1]+b), probs[1], 1e-12)
}

func TestFitValidation(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 1))
	x, y := separableFeatures(t, 4, rng)
	head, err := NewPoolingHead(2, rng)
	require.NoError(t, err)

	_, err = head.Fit(context.Background(), x, TrainingSet{}, FitOptions{BatchSize: 1, Epochs: 1})
	require.Error(t, err)

	_, err = head.Fit(context.Background(), x, trainingSetFor(y), FitOptions{BatchSize: 0, Epochs: 1})
	require.Error(t, err)

	bad := trainingSetFor(y)
	bad.Indices[0] = 99
	_, err = head.Fit(context.Background(), x, bad, FitOptions{BatchSize: 2, Epochs: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	wrong, err := NewPoolingHead(3, rng)
	require.NoError(t, err)
	_, err = wrong.Predict(context.Background(), x)
	require.Error(t, err)
}

func TestFitHonoursCancellation(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 1))
	x, y := separableFeatures(t, 8, rng)
	head, err := NewPoolingHead(2, rng)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = head.Fit(ctx, x, trainingSetFor(y), FitOptions{BatchSize: 4, Epochs: 10})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
}
