// Package uncertainty selects the next batch for annotation by binary entropy,
// with epsilon-greedy exploration.
package uncertainty

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/sampler"
)

// ProbabilityFloor bounds predictions away from 0 and 1 before taking logs.
const ProbabilityFloor = 1e-5

// Clamp limits p to [ProbabilityFloor, 1-ProbabilityFloor].
func Clamp(p float64) float64 {
	return min(max(p, ProbabilityFloor), 1-ProbabilityFloor)
}

// Entropy returns the binary entropy of p in bits, after clamping.
func Entropy(p float64) float64 {
	p = Clamp(p)
	return -(p*math.Log2(p) + (1-p)*math.Log2(1-p))
}

// Selection is one batch chosen for annotation. Weights[k] belongs to Indices[k].
type Selection struct {
	Indices  []int
	Weights  []float64
	Explored int // slots filled by random exploration
}

// Sampler picks BatchSize items per round. With probability Epsilon per slot
// the most uncertain items are swapped for random unlabeled ones, which carry
// the inverse-probability weight 1/Epsilon.
type Sampler struct {
	BatchSize int
	Epsilon   float64
}

// Rank returns the unlabeled indices ordered by descending entropy. Ties keep
// their order in unlabeled.
func Rank(probs []float64, unlabeled []int) []int {
	entropy := make(map[int]float64, len(unlabeled))
	for _, i := range unlabeled {
		entropy[i] = Entropy(probs[i])
	}
	ranked := slices.Clone(unlabeled)
	sort.SliceStable(ranked, func(a, b int) bool {
		return entropy[ranked[a]] > entropy[ranked[b]]
	})
	return ranked
}

// Select chooses the next batch. probs holds one predicted positive-class
// probability per item; unlabeled indexes into it.
func (s Sampler) Select(probs []float64, unlabeled []int, rng *rand.Rand) (Selection, error) {
	m := s.BatchSize
	if m <= 0 {
		return Selection{}, configError("batch size %d must be positive", m)
	}
	if s.Epsilon < 0 || s.Epsilon > 1 || math.IsNaN(s.Epsilon) {
		return Selection{}, configError("epsilon %v outside [0,1]", s.Epsilon)
	}
	if len(unlabeled) < m {
		return Selection{}, configError("unlabeled pool of %d is smaller than batch size %d", len(unlabeled), m)
	}
	for _, i := range unlabeled {
		if i < 0 || i >= len(probs) {
			return Selection{}, configError("unlabeled index %d outside %d predictions", i, len(probs))
		}
		if math.IsNaN(probs[i]) {
			return Selection{}, errors.Newf("uncertainty: prediction for item %d is NaN", i).
				Component("uncertainty").
				Category(errors.CategoryDegenerateData).
				Context("index", i).
				Build()
		}
	}

	top := Rank(probs, unlabeled)[:m]

	r := s.exploreCount(rng)
	sel := Selection{
		Indices:  make([]int, m),
		Weights:  make([]float64, m),
		Explored: r,
	}
	kept := top[:m-r]
	copy(sel.Indices, kept)
	for k := range kept {
		sel.Weights[k] = 1
	}

	if r > 0 {
		keptSet := make(map[int]struct{}, len(kept))
		for _, i := range kept {
			keptSet[i] = struct{}{}
		}
		candidates := make([]int, 0, len(unlabeled)-len(kept))
		for _, i := range unlabeled {
			if _, ok := keptSet[i]; !ok {
				candidates = append(candidates, i)
			}
		}
		random, err := sampler.RandomSubset(candidates, r, rng)
		if err != nil {
			return Selection{}, err
		}
		copy(sel.Indices[m-r:], random)
		for k := m - r; k < m; k++ {
			sel.Weights[k] = 1 / s.Epsilon
		}
		// Without exploration the batch stays in descending entropy order.
		rng.Shuffle(m, func(i, j int) {
			sel.Indices[i], sel.Indices[j] = sel.Indices[j], sel.Indices[i]
			sel.Weights[i], sel.Weights[j] = sel.Weights[j], sel.Weights[i]
		})
	}
	return sel, nil
}

// exploreCount draws the number of exploration slots from Binomial(BatchSize, Epsilon).
func (s Sampler) exploreCount(rng *rand.Rand) int {
	switch s.Epsilon {
	case 0:
		return 0
	case 1:
		return s.BatchSize
	}
	b := distuv.Binomial{N: float64(s.BatchSize), P: s.Epsilon, Src: rng}
	return min(int(b.Rand()), s.BatchSize)
}

func configError(format string, args ...any) error {
	return errors.Newf("uncertainty: "+format, args...).
		Component("uncertainty").
		Category(errors.CategoryConfiguration).
		Build()
}
