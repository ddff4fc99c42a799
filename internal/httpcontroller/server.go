// Package httpcontroller serves the web annotator: an Echo server that shows
// the pending batch in a browser and hands the submitted labels back to the
// active-learning loop.
package httpcontroller

import (
	"context"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/patchwork-go/internal/activelearning"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/logger"
	"github.com/tphakala/patchwork-go/internal/observability"
	"github.com/tphakala/patchwork-go/internal/observability/metrics"
)

const shutdownTimeout = 5 * time.Second

// errNoPendingBatch is returned when labels arrive while nothing is waiting.
var errNoPendingBatch = errors.Newf("no batch is waiting for labels").
	Component("http").
	Category(errors.CategoryState).
	Build()

// pendingBatch is a batch waiting for labels from the browser.
type pendingBatch struct {
	batch activelearning.Batch
	reply chan []int
}

// Server encapsulates the Echo server and the annotation hand-off.
type Server struct {
	Echo *echo.Echo

	listen    string
	sessionID string
	store     *labelstate.Store
	metrics   *observability.Metrics
	log       logger.Logger

	mu        sync.Mutex
	pending   *pendingBatch
	iteration int
	lastMode  activelearning.Mode
	accuracy  []float64
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m at /metrics and records request metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithSessionID sets the session id reported by the status endpoint.
func WithSessionID(id string) Option {
	return func(s *Server) { s.sessionID = id }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates the web annotator for the session whose labels live in store.
func New(listen string, store *labelstate.Store, opts ...Option) *Server {
	s := &Server{
		Echo:   echo.New(),
		listen: listen,
		store:  store,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.HTTPErrorHandler = s.errorHandler
	s.configureMiddleware()
	s.initRoutes()
	return s
}

// SetSession reports id and the iterations it already completed on the
// status endpoint. It is used when the session is opened after the server.
func (s *Server) SetSession(id string, completed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
	s.iteration = completed
}

func (s *Server) httpMetrics() *metrics.HTTPMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.HTTP
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return errors.New(err).
			Component("http").
			Category(errors.CategoryHTTP).
			Context("address", s.listen).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It shuts the server down gracefully
// once ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Echo.Listener = ln
	s.log.Info("web annotator listening", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Echo.Start("")
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(err).Component("http").Category(errors.CategoryHTTP).Build()
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		s.log.Error("web annotator shutdown failed", logger.Error(err))
		return err
	}
	<-errCh
	s.log.Info("web annotator stopped")
	return nil
}

// Annotate publishes b to the browser and blocks until its positives are
// submitted or ctx is done.
func (s *Server) Annotate(ctx context.Context, b activelearning.Batch) ([]int, error) {
	p := &pendingBatch{batch: b, reply: make(chan []int, 1)}

	s.mu.Lock()
	if s.pending != nil {
		iteration := s.pending.batch.Iteration
		s.mu.Unlock()
		return nil, errors.Newf("batch of iteration %d is still waiting for labels", iteration).
			Component("http").
			Category(errors.CategoryState).
			Build()
	}
	s.pending = p
	s.mu.Unlock()
	s.httpMetrics().SetPendingBatches(1)

	defer func() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		s.httpMetrics().SetPendingBatches(0)
	}()

	s.log.Info("batch ready for labeling",
		logger.Int("iteration", b.Iteration),
		logger.String("mode", string(b.Mode)),
		logger.Int("size", len(b.Indices)))

	select {
	case positives := <-p.reply:
		return positives, nil
	case <-ctx.Done():
		return nil, errors.New(ctx.Err()).
			Component("http").
			Category(errors.CategoryCancellation).
			Build()
	}
}

// OnIteration records progress for the status endpoint.
func (s *Server) OnIteration(_ context.Context, r activelearning.IterationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iteration = r.Iteration
	s.lastMode = r.Mode
	if r.TestAccuracy != nil {
		s.accuracy = append(s.accuracy, *r.TestAccuracy)
	}
	return nil
}

// submit hands zero-based positions to the waiting Annotate call.
// Duplicates are dropped; an out-of-range position rejects the whole list.
func (s *Server) submit(positives []int) (LabelsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return LabelsResponse{}, errNoPendingBatch
	}

	m := len(s.pending.batch.Indices)
	clean := make([]int, 0, len(positives))
	for _, p := range positives {
		if p < 0 || p >= m {
			return LabelsResponse{}, errors.Newf("position %d outside batch of %d", p, m).
				Component("http").
				Category(errors.CategoryValidation).
				Context("position", p).
				Build()
		}
		if !slices.Contains(clean, p) {
			clean = append(clean, p)
		}
	}

	select {
	case s.pending.reply <- clean:
		return LabelsResponse{Iteration: s.pending.batch.Iteration, Accepted: len(clean)}, nil
	default:
		return LabelsResponse{}, errors.Newf("labels for iteration %d were already submitted", s.pending.batch.Iteration).
			Component("http").
			Category(errors.CategoryState).
			Build()
	}
}

func (s *Server) currentBatch() (activelearning.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return activelearning.Batch{}, false
	}
	return s.pending.batch, true
}
