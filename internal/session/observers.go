package session

import (
	"context"

	"github.com/tphakala/patchwork-go/internal/activelearning"
	"github.com/tphakala/patchwork-go/internal/datastore"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/observability"
)

// persistenceObserver writes each committed iteration. Iterations are stored
// zero-based so that the session's iteration count equals the completed ones.
func persistenceObserver(db *datastore.Store, sessionID string) activelearning.ObserverFunc {
	return func(ctx context.Context, r activelearning.IterationResult) error {
		labels := make([]labelstate.Label, len(r.Indices))
		for _, p := range r.Positives {
			labels[p] = labelstate.Positive
		}
		err := db.SaveIteration(ctx, sessionID, datastore.IterationLabels{
			Record: datastore.IterationRecord{
				Iteration:   r.Iteration - 1,
				Mode:        string(r.Mode),
				BatchSize:   len(r.Indices),
				Positives:   len(r.Positives),
				Explored:    r.Explored,
				FitLoss:     r.FitLoss,
				FitDuration: r.FitDuration,
			},
			Indices: r.Indices,
			Labels:  labels,
			Weights: r.Weights,
		})
		if err != nil {
			return err
		}
		if r.TestAccuracy != nil {
			return db.RecordAccuracy(ctx, sessionID, r.Iteration-1, *r.TestAccuracy)
		}
		return nil
	}
}

func metricsObserver(m *observability.Metrics) activelearning.ObserverFunc {
	return func(_ context.Context, r activelearning.IterationResult) error {
		m.ActiveLearning.RecordIteration(string(r.Mode), r.Explored, len(r.Positives), r.FitDuration.Seconds(), r.TestAccuracy)
		m.ActiveLearning.SetLabelCounts(r.Counts.Positive, r.Counts.Negative, r.Counts.Unlabeled)
		return nil
	}
}
