package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/logger"
	"github.com/tphakala/patchwork-go/internal/observability/metrics"
)

// upsertBatchSize bounds the rows per INSERT when saving labels.
const upsertBatchSize = 500

// CreateSession stores a new session, assigning it a fresh id when empty.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	start := time.Now()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	err := s.db.WithContext(ctx).Create(sess).Error
	if err == nil {
		s.log.Info("session created",
			logger.String("session_id", sess.ID),
			logger.String("features", sess.FeaturesPath),
			logger.Int("items", sess.Items))
	}
	return s.observe(metrics.OpSessionCreate, start, err)
}

// GetSession loads a session by id. A missing session is a not-found error.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	start := time.Now()
	var sess Session
	err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error
	if err != nil {
		return nil, s.observe(metrics.OpSessionGet, start, err)
	}
	return &sess, s.observe(metrics.OpSessionGet, start, nil)
}

// LatestSession returns the most recently updated session over featuresPath.
func (s *Store) LatestSession(ctx context.Context, featuresPath string) (*Session, error) {
	start := time.Now()
	var sess Session
	err := s.db.WithContext(ctx).
		Where("features_path = ?", featuresPath).
		Order("updated_at DESC").
		First(&sess).Error
	if err != nil {
		return nil, s.observe(metrics.OpSessionGet, start, err)
	}
	return &sess, s.observe(metrics.OpSessionGet, start, nil)
}

// IterationLabels is the committed outcome of one iteration.
type IterationLabels struct {
	Record  IterationRecord
	Indices []int
	Labels  []labelstate.Label
	Weights []float64
}

// SaveIteration writes the iteration summary and upserts the labels of the
// drawn items in one transaction. It also advances the session's iteration count.
func (s *Store) SaveIteration(ctx context.Context, sessionID string, it IterationLabels) error {
	start := time.Now()
	if len(it.Indices) != len(it.Labels) || len(it.Indices) != len(it.Weights) {
		return s.observe(metrics.OpSaveIteration, start,
			errors.Newf("datastore: %d indices, %d labels, %d weights", len(it.Indices), len(it.Labels), len(it.Weights)).
				Component("datastore").
				Category(errors.CategoryValidation).
				Build())
	}

	rows := make([]LabelRecord, len(it.Indices))
	for k, i := range it.Indices {
		rows[k] = LabelRecord{
			SessionID: sessionID,
			Item:      i,
			Label:     int8(it.Labels[k]),
			Weight:    it.Weights[k],
			Iteration: it.Record.Iteration,
		}
	}
	it.Record.SessionID = sessionID
	it.Record.ID = 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "session_id"}, {Name: "item"}},
				DoUpdates: clause.AssignmentColumns([]string{"label", "weight", "iteration", "updated_at"}),
			}).CreateInBatches(rows, upsertBatchSize).Error
			if err != nil {
				return err
			}
		}
		if err := tx.Create(&it.Record).Error; err != nil {
			return err
		}
		res := tx.Model(&Session{}).
			Where("id = ?", sessionID).
			Updates(map[string]any{"iterations": it.Record.Iteration + 1, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return s.observe(metrics.OpSaveIteration, start, err)
}

// LoadLabels rebuilds the label and weight vectors of a session over n items.
// Items without a record are unlabeled with weight 1.
func (s *Store) LoadLabels(ctx context.Context, sessionID string, n int) ([]labelstate.Label, []float64, error) {
	start := time.Now()
	var rows []LabelRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("item").Find(&rows).Error; err != nil {
		return nil, nil, s.observe(metrics.OpLoadLabels, start, err)
	}

	labels := make([]labelstate.Label, n)
	weights := make([]float64, n)
	for i := range n {
		labels[i] = labelstate.Unlabeled
		weights[i] = 1
	}
	for _, r := range rows {
		if r.Item < 0 || r.Item >= n {
			return nil, nil, s.observe(metrics.OpLoadLabels, start,
				errors.Newf("datastore: stored item %d outside %d items", r.Item, n).
					Component("datastore").
					Category(errors.CategoryState).
					Context("session_id", sessionID).
					Build())
		}
		labels[r.Item] = labelstate.Label(r.Label)
		weights[r.Item] = r.Weight
	}
	return labels, weights, s.observe(metrics.OpLoadLabels, start, nil)
}

// Iterations returns the iteration summaries of a session in order.
func (s *Store) Iterations(ctx context.Context, sessionID string) ([]IterationRecord, error) {
	start := time.Now()
	var rows []IterationRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("iteration").Find(&rows).Error
	if err != nil {
		return nil, s.observe(metrics.OpAccuracyQuery, start, err)
	}
	return rows, s.observe(metrics.OpAccuracyQuery, start, nil)
}

// RecordAccuracy stores the held-out accuracy measured after iteration.
func (s *Store) RecordAccuracy(ctx context.Context, sessionID string, iteration int, accuracy float64) error {
	start := time.Now()
	err := s.db.WithContext(ctx).Create(&AccuracyRecord{
		SessionID: sessionID,
		Iteration: iteration,
		Accuracy:  accuracy,
	}).Error
	return s.observe(metrics.OpRecordAccuracy, start, err)
}

// AccuracyHistory returns the recorded accuracies of a session by iteration.
func (s *Store) AccuracyHistory(ctx context.Context, sessionID string) ([]AccuracyRecord, error) {
	start := time.Now()
	var rows []AccuracyRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("iteration, id").Find(&rows).Error
	if err != nil {
		return nil, s.observe(metrics.OpAccuracyQuery, start, err)
	}
	return rows, s.observe(metrics.OpAccuracyQuery, start, nil)
}
