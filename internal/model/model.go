// Package model defines the classifier used by the active-learning loop and a
// small pooling head trained on pre-extracted feature maps.
package model

import (
	"context"

	"github.com/tphakala/patchwork-go/internal/features"
)

// TrainingSet selects the rows of a feature tensor to fit on. Indices may
// repeat; Labels and Weights are parallel to Indices.
type TrainingSet struct {
	Indices []int
	Labels  []float64
	Weights []float64
}

// Len returns the number of training rows.
func (ts TrainingSet) Len() int { return len(ts.Indices) }

// FitOptions controls one call to Fit.
type FitOptions struct {
	BatchSize int
	Epochs    int
}

// History records the mean training loss per epoch.
type History struct {
	Loss []float64
}

// Metrics are evaluation results on held-out data.
type Metrics struct {
	Loss     float64 `json:"loss" yaml:"loss"`
	Accuracy float64 `json:"accuracy" yaml:"accuracy"`
}

// Model is a binary classifier over feature tensors.
type Model interface {
	// Predict returns the positive-class probability of every item in x.
	Predict(ctx context.Context, x features.Tensor) ([]float64, error)
	// Fit trains in place on the selected rows of x.
	Fit(ctx context.Context, x features.Tensor, ts TrainingSet, opts FitOptions) (History, error)
	// Evaluate scores every item of x against y (0 or 1).
	Evaluate(ctx context.Context, x features.Tensor, y []float64) (Metrics, error)
}
