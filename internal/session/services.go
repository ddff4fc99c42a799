package session

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/patchwork-go/internal/conf"
	"github.com/tphakala/patchwork-go/internal/datastore"
	"github.com/tphakala/patchwork-go/internal/observability"
)

// Service is a background server that runs until its context is cancelled.
type Service func(ctx context.Context) error

// OpenDatastore opens the configured datastore. It returns a nil store when
// persistence is disabled. m may be nil.
func OpenDatastore(settings *conf.Settings, m *observability.Metrics) (*datastore.Store, error) {
	if !settings.Datastore.Enabled {
		return nil, nil
	}
	var opts []datastore.Option
	if m != nil {
		opts = append(opts, datastore.WithRecorder(m.Datastore))
	}
	return datastore.Open(settings.Datastore, opts...)
}

// RunWith runs the session while services serve, and stops them when the
// session ends. A failing service cancels the session.
func (s *Session) RunWith(ctx context.Context, services ...Service) (*Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, svc := range services {
		g.Go(func() error { return svc(gctx) })
	}

	var report *Report
	g.Go(func() error {
		defer cancel()
		var err error
		report, err = s.Run(gctx)
		return err
	})
	err := g.Wait()
	return report, err
}
