// Package labelstate holds the per-item label and sample-weight vectors of an
// active-learning session and the derived set of unlabeled items.
package labelstate

import (
	"slices"
	"sync"

	"github.com/tphakala/patchwork-go/internal/errors"
)

// Label is the annotation state of one item.
type Label int8

const (
	Unlabeled Label = -1
	Negative  Label = 0
	Positive  Label = 1
)

func (l Label) String() string {
	switch l {
	case Negative:
		return "negative"
	case Positive:
		return "positive"
	default:
		return "unlabeled"
	}
}

// Counts summarizes the label vector.
type Counts struct {
	Positive  int `json:"positive"`
	Negative  int `json:"negative"`
	Unlabeled int `json:"unlabeled"`
}

// Store is the label-state store. Labels only move from Unlabeled to 0 or 1;
// a labeled item may be overwritten with another 0/1 value but never reset.
// The store is safe for concurrent readers; there is exactly one writer.
type Store struct {
	mu        sync.RWMutex
	labels    []Label
	weights   []float64
	unlabeled []int
}

// NewStore creates a store for n items, all unlabeled with weight 1.
func NewStore(n int) *Store {
	s := &Store{
		labels:  make([]Label, n),
		weights: make([]float64, n),
	}
	for i := range n {
		s.labels[i] = Unlabeled
		s.weights[i] = 1
	}
	s.recomputeLocked()
	return s
}

// Len returns the number of items tracked.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.labels)
}

// Unlabeled returns the ascending indices whose label is unset.
func (s *Store) Unlabeled() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.unlabeled)
}

// Label returns the label of item i.
func (s *Store) Label(i int) Label {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.labels[i]
}

// Labels returns a copy of the label vector.
func (s *Store) Labels() []Label {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.labels)
}

// Weights returns a copy of the sample-weight vector.
func (s *Store) Weights() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.weights)
}

// Counts returns the number of positive, negative and unlabeled items.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked()
}

func (s *Store) countsLocked() Counts {
	var c Counts
	for _, l := range s.labels {
		switch l {
		case Positive:
			c.Positive++
		case Negative:
			c.Negative++
		default:
			c.Unlabeled++
		}
	}
	return c
}

// Indices returns the ascending indices carrying label l.
func (s *Store) Indices(l Label) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int
	for i, v := range s.labels {
		if v == l {
			out = append(out, i)
		}
	}
	return out
}

// SetLabels writes values at indices. Nothing is written unless every index is
// in range and every value is 0 or 1.
func (s *Store) SetLabels(indices []int, values []Label) error {
	if len(indices) != len(values) {
		return errors.Newf("labelstate: %d indices but %d labels", len(indices), len(values)).
			Component("labelstate").
			Category(errors.CategoryValidation).
			Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIndicesLocked(indices); err != nil {
		return err
	}
	for k, v := range values {
		if v != Negative && v != Positive {
			return errors.Newf("labelstate: label %d at position %d is not 0 or 1", v, k).
				Component("labelstate").
				Category(errors.CategoryState).
				Context("index", indices[k]).
				Build()
		}
	}

	for k, i := range indices {
		s.labels[i] = values[k]
	}
	s.recomputeLocked()
	return nil
}

// SetWeights writes sample weights at indices.
func (s *Store) SetWeights(indices []int, weights []float64) error {
	if len(indices) != len(weights) {
		return errors.Newf("labelstate: %d indices but %d weights", len(indices), len(weights)).
			Component("labelstate").
			Category(errors.CategoryValidation).
			Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIndicesLocked(indices); err != nil {
		return err
	}
	for k, i := range indices {
		s.weights[i] = weights[k]
	}
	return nil
}

// ApplyBatch records the outcome of one annotation round: weights are written,
// every drawn item becomes Negative, then the items at the positive positions
// become Positive. positives are positions into indices, not item indices.
// The update is all-or-nothing.
func (s *Store) ApplyBatch(indices []int, weights []float64, positives []int) error {
	if len(weights) != len(indices) {
		return errors.Newf("labelstate: %d indices but %d weights", len(indices), len(weights)).
			Component("labelstate").
			Category(errors.CategoryValidation).
			Build()
	}
	for _, p := range positives {
		if p < 0 || p >= len(indices) {
			return errors.Newf("labelstate: positive position %d outside batch of %d", p, len(indices)).
				Component("labelstate").
				Category(errors.CategoryConfiguration).
				Context("position", p).
				Build()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIndicesLocked(indices); err != nil {
		return err
	}

	for k, i := range indices {
		s.weights[i] = weights[k]
	}
	for _, i := range indices {
		s.labels[i] = Negative
	}
	for _, p := range positives {
		s.labels[indices[p]] = Positive
	}
	s.recomputeLocked()
	return nil
}

// Restore replaces the whole state, used when resuming a persisted session.
func (s *Store) Restore(labels []Label, weights []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(labels) != len(s.labels) || len(weights) != len(s.weights) {
		return errors.Newf("labelstate: restore of %d labels/%d weights into store of %d",
			len(labels), len(weights), len(s.labels)).
			Component("labelstate").
			Category(errors.CategoryState).
			Build()
	}
	for i, l := range labels {
		if l != Unlabeled && l != Negative && l != Positive {
			return errors.Newf("labelstate: invalid label %d at index %d", l, i).
				Component("labelstate").
				Category(errors.CategoryState).
				Build()
		}
	}

	copy(s.labels, labels)
	copy(s.weights, weights)
	s.recomputeLocked()
	return nil
}

func (s *Store) checkIndicesLocked(indices []int) error {
	for _, i := range indices {
		if i < 0 || i >= len(s.labels) {
			return errors.Newf("labelstate: index %d out of range [0,%d)", i, len(s.labels)).
				Component("labelstate").
				Category(errors.CategoryConfiguration).
				Context("index", i).
				Build()
		}
	}
	return nil
}

func (s *Store) recomputeLocked() {
	s.unlabeled = s.unlabeled[:0]
	for i, l := range s.labels {
		if l == Unlabeled {
			s.unlabeled = append(s.unlabeled, i)
		}
	}
}
