// Package app wires the registry modules together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cuidalink/service-registry/internal/app/domain/token"
	"github.com/cuidalink/service-registry/internal/app/events"
	"github.com/cuidalink/service-registry/internal/app/ledger"
	"github.com/cuidalink/service-registry/internal/app/registry"
	"github.com/cuidalink/service-registry/internal/app/storage"
	"github.com/cuidalink/service-registry/internal/app/storage/memory"
	"github.com/cuidalink/service-registry/internal/app/system"
	"github.com/cuidalink/service-registry/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Tokens storage.TokenStore
	URIs   storage.URITableStore
}

// Options tunes application construction.
type Options struct {
	// Variant selects the lifecycle rule set. Defaults to the full variant.
	Variant token.Variant
	// Ledger is the external ownership ledger. Defaults to in-memory.
	Ledger ledger.Ledger
	// StatsInterval controls how often per-state gauges are recomputed.
	StatsInterval time.Duration
	// EventBufferSize bounds the in-memory event log.
	EventBufferSize int
}

// Application ties the registry modules together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Registry *registry.Service
	Events   events.Log
	Ledger   ledger.Ledger
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Tokens == nil || stores.URIs == nil {
		mem := memory.New()
		if stores.Tokens == nil {
			stores.Tokens = mem
		}
		if stores.URIs == nil {
			stores.URIs = mem
		}
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NewMemory()
	}

	eventLog := events.NewRingBuffer(opts.EventBufferSize)
	regService := registry.New(opts.Variant, stores.Tokens, stores.URIs, opts.Ledger, log)
	regService.WithEvents(eventLog)

	manager := system.NewManager()
	if err := manager.Register(system.NoopService{ServiceName: "registry"}); err != nil {
		return nil, fmt.Errorf("register registry service: %w", err)
	}
	refresher := registry.NewStatsRefresher(regService, opts.StatsInterval, log)
	if err := manager.Register(refresher); err != nil {
		return nil, fmt.Errorf("register stats refresher: %w", err)
	}

	return &Application{
		manager:  manager,
		log:      log,
		Registry: regService,
		Events:   eventLog,
		Ledger:   opts.Ledger,
	}, nil
}

// Start brings up all lifecycle-managed components.
func (a *Application) Start(ctx context.Context) error {
	if err := a.manager.StartAll(ctx); err != nil {
		return err
	}
	a.log.WithField("variant", string(a.Registry.Variant())).Info("application started")
	return nil
}

// Stop shuts components down in reverse start order.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.StopAll(ctx)
	if err == nil {
		a.log.Info("application stopped")
	}
	return err
}
