package sampler

import (
	"math/rand/v2"
	"slices"

	"github.com/tphakala/patchwork-go/internal/errors"
)

// RandomSubset returns m distinct elements of pool chosen uniformly without replacement.
func RandomSubset(pool []int, m int, rng *rand.Rand) ([]int, error) {
	if m < 0 || m > len(pool) {
		return nil, errors.Newf("sampler: cannot draw %d items from a pool of %d", m, len(pool)).
			Component("sampler").
			Category(errors.CategoryConfiguration).
			Context("requested", m).
			Context("pool", len(pool)).
			Build()
	}
	work := slices.Clone(pool)
	// Partial Fisher-Yates: the first m slots end up a uniform sample.
	for i := range m {
		j := i + rng.IntN(len(work)-i)
		work[i], work[j] = work[j], work[i]
	}
	return work[:m:m], nil
}

// BalancedIndices builds a class-balanced index list: the minority polarity is
// repeated ceil(majority/minority) times and the majority appears once.
// Negatives come first. If either side is empty the other is returned as is.
func BalancedIndices(positive, negative []int) []int {
	if len(positive) == 0 || len(negative) == 0 {
		return slices.Concat(negative, positive)
	}

	minority, majority := positive, negative
	minorityFirst := false
	if len(negative) < len(positive) {
		minority, majority = negative, positive
		minorityFirst = true
	}

	reps := (len(majority) + len(minority) - 1) / len(minority)
	repeated := make([]int, 0, reps*len(minority))
	for range reps {
		repeated = append(repeated, minority...)
	}

	if minorityFirst {
		return slices.Concat(repeated, majority)
	}
	return slices.Concat(majority, repeated)
}

// ClusterBalanced implements cluster-balanced sampling for DeepCluster-style
// training: with K = max(assignments)+1 clusters over N items, every non-empty
// cluster contributes mult*floor(N/K) draws with replacement. The draws are
// shuffled, and clusters[k] is the cluster of indices[k].
func ClusterBalanced(assignments []int, mult int, rng *rand.Rand) (indices, clusters []int, err error) {
	if len(assignments) == 0 {
		return nil, nil, errors.Newf("sampler: no cluster assignments").
			Component("sampler").
			Category(errors.CategoryDegenerateData).
			Build()
	}
	if mult < 1 {
		return nil, nil, errors.Newf("sampler: cluster multiplier %d must be positive", mult).
			Component("sampler").
			Category(errors.CategoryConfiguration).
			Build()
	}

	k := 0
	for i, a := range assignments {
		if a < 0 {
			return nil, nil, errors.Newf("sampler: negative cluster id %d at item %d", a, i).
				Component("sampler").
				Category(errors.CategoryValidation).
				Build()
		}
		k = max(k, a+1)
	}

	members := make([][]int, k)
	for i, a := range assignments {
		members[a] = append(members[a], i)
	}

	per := mult * (len(assignments) / k)
	if per == 0 {
		return nil, nil, errors.Newf("sampler: %d items over %d clusters leaves nothing to draw", len(assignments), k).
			Component("sampler").
			Category(errors.CategoryDegenerateData).
			Build()
	}

	for c, m := range members {
		if len(m) == 0 {
			continue
		}
		for range per {
			indices = append(indices, m[rng.IntN(len(m))])
			clusters = append(clusters, c)
		}
	}

	rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
		clusters[i], clusters[j] = clusters[j], clusters[i]
	})
	return indices, clusters, nil
}
