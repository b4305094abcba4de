package registry

import (
	"context"
	"sync"
	"time"

	"github.com/cuidalink/service-registry/internal/app/metrics"
	"github.com/cuidalink/service-registry/internal/app/system"
	"github.com/cuidalink/service-registry/pkg/logger"
)

var _ system.Service = (*StatsRefresher)(nil)

// StatsRefresher periodically recounts the token population per lifecycle
// state and publishes the result as gauges.
type StatsRefresher struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewStatsRefresher creates a lifecycle-managed stats publisher.
func NewStatsRefresher(service *Service, interval time.Duration, log *logger.Logger) *StatsRefresher {
	if log == nil {
		log = logger.NewDefault("registry-stats")
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &StatsRefresher{
		service:  service,
		log:      log,
		interval: interval,
	}
}

func (r *StatsRefresher) Name() string { return "registry-stats-refresher" }

func (r *StatsRefresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.tick(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("registry stats refresher started")
	return nil
}

func (r *StatsRefresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("registry stats refresher stopped")
	return nil
}

func (r *StatsRefresher) tick(ctx context.Context) {
	if r.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	counts, err := r.service.CountByState(ctx)
	if err != nil {
		r.log.WithError(err).Warn("registry stats tick failed")
		return
	}
	variant := r.service.Variant()
	for st, count := range counts {
		metrics.SetTokensByState(variant.Name(st), count)
	}
}
