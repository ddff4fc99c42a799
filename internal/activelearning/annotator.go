package activelearning

import (
	"context"
	"slices"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/labelstate"
)

// Batch is what an annotator is shown: BatchSize items, numbered by position.
type Batch struct {
	Iteration int       `json:"iteration"`
	Mode      Mode      `json:"mode"`
	Indices   []int     `json:"indices"`
	Weights   []float64 `json:"weights"`
	Images    []string  `json:"images"`
}

// Annotator returns the zero-based batch positions whose items are positive.
type Annotator interface {
	Annotate(ctx context.Context, b Batch) ([]int, error)
}

// AnnotatorFunc adapts a function to Annotator.
type AnnotatorFunc func(ctx context.Context, b Batch) ([]int, error)

// Annotate calls f.
func (f AnnotatorFunc) Annotate(ctx context.Context, b Batch) ([]int, error) {
	return f(ctx, b)
}

// Display renders the images of a batch.
type Display interface {
	Show(ctx context.Context, images []string) error
}

// Prompter asks the user which of m shown items are positive.
type Prompter interface {
	PromptPositives(ctx context.Context, m int) ([]int, error)
}

// HumanAnnotator shows the batch and asks for the positives.
type HumanAnnotator struct {
	Display  Display
	Prompter Prompter
}

// Annotate implements Annotator.
func (h HumanAnnotator) Annotate(ctx context.Context, b Batch) ([]int, error) {
	if h.Display != nil {
		if err := h.Display.Show(ctx, b.Images); err != nil {
			return nil, errors.New(err).
				Component("activelearning").
				Category(errors.CategoryAnnotation).
				Build()
		}
	}
	return h.Prompter.PromptPositives(ctx, len(b.Indices))
}

// GroundTruth answers from known labels, for simulated sessions.
type GroundTruth struct {
	Labels []labelstate.Label
}

// Annotate returns every position whose item is labeled positive in the ground truth.
func (g GroundTruth) Annotate(_ context.Context, b Batch) ([]int, error) {
	var positives []int
	for pos, idx := range b.Indices {
		if idx < 0 || idx >= len(g.Labels) {
			return nil, errors.Newf("activelearning: ground truth has no entry for item %d", idx).
				Component("activelearning").
				Category(errors.CategoryConfiguration).
				Build()
		}
		if g.Labels[idx] == labelstate.Positive {
			positives = append(positives, pos)
		}
	}
	return positives, nil
}

// normalizePositives checks every position lies in [0, m) and drops duplicates.
func normalizePositives(positives []int, m int) ([]int, error) {
	out := make([]int, 0, len(positives))
	for _, p := range positives {
		if p < 0 || p >= m {
			return nil, errors.Newf("activelearning: position %d outside batch of %d", p, m).
				Component("activelearning").
				Category(errors.CategoryConfiguration).
				Context("position", p).
				Build()
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}
