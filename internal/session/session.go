// Package session builds an active-learning controller from settings and
// connects it to persistence, metrics and the run report.
package session

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/tphakala/patchwork-go/internal/activelearning"
	"github.com/tphakala/patchwork-go/internal/conf"
	"github.com/tphakala/patchwork-go/internal/cpuspec"
	"github.com/tphakala/patchwork-go/internal/datastore"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/logger"
	"github.com/tphakala/patchwork-go/internal/model"
	"github.com/tphakala/patchwork-go/internal/observability"
)

// Session is one configured labeling run.
type Session struct {
	settings  *conf.Settings
	inputs    *Inputs
	annotator activelearning.Annotator
	metrics   *observability.Metrics
	db        *datastore.Store
	store     *labelstate.Store
	observers []activelearning.Observer
	log       logger.Logger

	record *datastore.Session
	ctrl   *activelearning.Controller
	start  int
}

// Option configures a Session.
type Option func(*Session)

// WithAnnotator sets who labels the batches. It is required.
func WithAnnotator(a activelearning.Annotator) Option {
	return func(s *Session) { s.annotator = a }
}

// WithMetrics records iterations and label counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithDatastore persists every iteration and resumes the latest matching session.
func WithDatastore(db *datastore.Store) Option {
	return func(s *Session) { s.db = db }
}

// WithLabelStore uses a store the caller shares with other readers, such as
// the web annotator. Its size must match the feature rows.
func WithLabelStore(store *labelstate.Store) Option {
	return func(s *Session) { s.store = store }
}

// WithObserver registers an extra iteration observer. It runs after
// persistence and metrics.
func WithObserver(o activelearning.Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Session) { s.log = l }
}

// New builds the session: label state (restored when a datastore holds a
// matching session), random source, model and controller.
func New(ctx context.Context, settings *conf.Settings, inputs *Inputs, opts ...Option) (*Session, error) {
	s := &Session{settings: settings, inputs: inputs}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}
	if s.annotator == nil {
		return nil, configError("no annotator configured")
	}

	n := inputs.X.Len()
	if s.store == nil {
		s.store = labelstate.NewStore(n)
	} else if s.store.Len() != n {
		return nil, configError("label store of %d items for %d feature rows", s.store.Len(), n)
	}
	if s.db != nil {
		if err := s.openRecord(ctx); err != nil {
			return nil, err
		}
	}

	// a resumed session continues on its own stream instead of replaying the first draws
	rng := rand.New(rand.NewPCG(settings.Seed, uint64(s.start)))

	item := inputs.X.ItemShape()
	if len(item) == 0 {
		return nil, configError("feature items have no channel dimension")
	}
	head, err := model.NewPoolingHead(item[len(item)-1], rng,
		model.WithLearningRate(settings.Model.LearningRate),
		model.WithWorkers(cpuspec.Workers(settings.Model.Workers)))
	if err != nil {
		return nil, err
	}

	ctrlOpts := []activelearning.Option{
		activelearning.WithConfig(controllerConfig(settings.ActiveLearning)),
		activelearning.WithStore(s.store),
		activelearning.WithStartIteration(s.start),
	}
	if s.db != nil {
		ctrlOpts = append(ctrlOpts, activelearning.WithObserver(persistenceObserver(s.db, s.record.ID)))
	}
	if s.metrics != nil {
		ctrlOpts = append(ctrlOpts, activelearning.WithObserver(metricsObserver(s.metrics)))
	}
	for _, o := range s.observers {
		ctrlOpts = append(ctrlOpts, activelearning.WithObserver(o))
	}

	s.ctrl, err = activelearning.New(inputs.X, inputs.Images, head, s.countingAnnotator(), rng, ctrlOpts...)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		c := s.store.Counts()
		s.metrics.ActiveLearning.SetLabelCounts(c.Positive, c.Negative, c.Unlabeled)
	}
	return s, nil
}

func controllerConfig(al conf.ActiveLearningSettings) activelearning.Config {
	return activelearning.Config{
		BatchSize:   al.BatchSize,
		Epochs:      al.Epochs,
		MinCount:    al.MinCount,
		Epsilon:     al.Epsilon,
		Stratify:    al.Stratify,
		MaxFitBatch: al.MaxFitBatch,
	}
}

// openRecord resumes the latest session over the same features file, or
// creates a new one when there is none or its item count differs.
func (s *Session) openRecord(ctx context.Context) error {
	n := s.inputs.X.Len()
	prev, err := s.db.LatestSession(ctx, s.settings.Data.Features)
	switch {
	case err == nil && prev.Items == n:
		labels, weights, err := s.db.LoadLabels(ctx, prev.ID, n)
		if err != nil {
			return err
		}
		if err := s.store.Restore(labels, weights); err != nil {
			return err
		}
		s.record, s.start = prev, prev.Iterations
		c := s.store.Counts()
		s.log.Info("session resumed",
			logger.String("session_id", prev.ID),
			logger.Int("iterations", prev.Iterations),
			logger.Int("labeled_positive", c.Positive),
			logger.Int("labeled_negative", c.Negative))
		return nil
	case err == nil:
		s.log.Warn("stored session does not match the features file, starting a new one",
			logger.String("session_id", prev.ID),
			logger.Int("stored_items", prev.Items),
			logger.Int("items", n))
	case !errors.IsNotFound(err):
		return err
	}

	rec := &datastore.Session{
		FeaturesPath: s.settings.Data.Features,
		TablePath:    s.settings.Data.Table,
		Items:        n,
		Seed:         s.settings.Seed,
		BatchSize:    s.settings.ActiveLearning.BatchSize,
	}
	if err := s.db.CreateSession(ctx, rec); err != nil {
		return err
	}
	s.record = rec
	return nil
}

// countingAnnotator counts failed annotation rounds when metrics are enabled.
func (s *Session) countingAnnotator() activelearning.Annotator {
	if s.metrics == nil {
		return s.annotator
	}
	return activelearning.AnnotatorFunc(func(ctx context.Context, b activelearning.Batch) ([]int, error) {
		positives, err := s.annotator.Annotate(ctx, b)
		if err != nil && !errors.IsCategory(err, errors.CategoryCancellation) && ctx.Err() == nil {
			s.metrics.ActiveLearning.IncrementAnnotationErrors()
		}
		return positives, err
	})
}

// ID returns the persisted session id, or "" without a datastore.
func (s *Session) ID() string {
	if s.record == nil {
		return ""
	}
	return s.record.ID
}

// Controller exposes the underlying controller.
func (s *Session) Controller() *activelearning.Controller { return s.ctrl }

// Store returns the label state.
func (s *Session) Store() *labelstate.Store { return s.store }

// StartIteration is the number of iterations completed before this run.
func (s *Session) StartIteration() int { return s.start }

// PlannedIterations is the configured iteration count, or as many full
// batches as the unlabeled pool holds when none is configured.
func (s *Session) PlannedIterations() int {
	if n := s.settings.ActiveLearning.Iterations; n > 0 {
		return n
	}
	return len(s.store.Unlabeled()) / s.settings.ActiveLearning.BatchSize
}

// Run performs the planned iterations and writes the configured outputs. The
// report covers the completed iterations even when err is non-nil.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	planned := s.PlannedIterations()
	report := &Report{
		SessionID:      s.ID(),
		Features:       s.settings.Data.Features,
		Table:          s.settings.Data.Table,
		Class:          s.settings.Data.Class,
		Seed:           s.settings.Seed,
		BatchSize:      s.settings.ActiveLearning.BatchSize,
		StartIteration: s.start,
		Planned:        planned,
		Started:        time.Now(),
	}
	s.log.Info("session started",
		logger.String("session_id", report.SessionID),
		logger.Int("start_iteration", s.start),
		logger.Int("planned_iterations", planned))

	results, err := s.ctrl.Run(ctx, planned, s.inputs.Eval)
	report.complete(results, s.store.Counts(), err)

	if werr := s.writeOutputs(report); werr != nil {
		err = errors.Join(err, werr)
	}
	if err != nil {
		s.log.Error("session stopped",
			logger.Int("completed", len(results)),
			logger.Error(err))
		return report, err
	}
	s.log.Info("session finished",
		logger.Int("completed", len(results)),
		logger.Duration("duration", report.Finished.Sub(report.Started)))
	return report, nil
}

func (s *Session) writeOutputs(r *Report) error {
	var errs []error
	if path := s.settings.Output.Report; path != "" {
		errs = append(errs, WriteReport(path, r))
	}
	if path := s.settings.Output.Labels; path != "" {
		errs = append(errs, WriteLabels(path, s.inputs.Table, s.settings.Data.Class, s.store.Labels()))
	}
	return errors.Join(errs...)
}
