package main

import (
	"context"
	"errors"
	"fmt"

	"quoteflow/adapter"
	"quoteflow/adapter/binance"
	"quoteflow/adapter/bybit"
	"quoteflow/adapter/kucoin"
	"quoteflow/adapter/reference"
	"quoteflow/adapter/restapi"
	"quoteflow/config"
	"quoteflow/internal/failover"
	"quoteflow/internal/notify"
	"quoteflow/internal/orchestrator"
	"quoteflow/internal/ratelimit"
	"quoteflow/internal/router"
	"quoteflow/internal/saga"
	"quoteflow/logger"
	"quoteflow/models"
	"quoteflow/storage/relational"
	"quoteflow/storage/timeseries"
)

// app owns every long-lived component of one process.
type app struct {
	cfg         *config.Config
	router      *router.Router
	registry    *adapter.Registry
	executor    *failover.Executor
	coordinator *saga.Coordinator
	timeseries  timeseries.Store
	relational  relational.Store
	publisher   notify.Publisher
	observers   []func(*models.SyncJobStats)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.GetLogger().WithComponent("main")
	a := &app{cfg: cfg}
	fail := func(err error) (*app, error) {
		if cerr := a.Close(); cerr != nil {
			log.WithError(cerr).Warn("failed to release partially built components")
		}
		return nil, err
	}

	routing, err := config.LoadRouting(config.ResolveEnvPath(cfg.RoutingFile))
	if err != nil {
		return fail(err)
	}
	if a.router, err = router.New(routing); err != nil {
		return fail(err)
	}

	if a.registry, err = registerAdapters(cfg); err != nil {
		return fail(err)
	}
	a.executor = failover.New(a.registry)

	if a.timeseries, err = timeseries.Open(ctx, cfg.Storage.TimeSeries); err != nil {
		return fail(fmt.Errorf("open time-series store: %w", err))
	}
	if a.relational, err = relational.Open(ctx, cfg.Storage.Relational); err != nil {
		return fail(fmt.Errorf("open relational store: %w", err))
	}
	if gs, ok := a.relational.(*relational.GormStore); ok {
		if err := gs.EnsureSyncStatus(ctx, cfg.Storage.Relational.SyncStatusTable); err != nil {
			return fail(err)
		}
		if !cfg.Storage.Relational.SkipMigrate {
			if err := migrateRoutedTables(ctx, gs, a.router); err != nil {
				return fail(err)
			}
		}
	}
	a.coordinator = saga.New(a.timeseries, a.relational)

	if a.publisher, err = notify.New(cfg.Notify.Kafka); err != nil {
		return fail(err)
	}

	log.WithFields(logger.Fields{
		"providers":  a.registry.Names(),
		"timeseries": cfg.Storage.TimeSeries.Driver,
		"relational": cfg.Storage.Relational.Driver,
		"routing":    routing.Source,
	}).Info("components ready")
	return a, nil
}

// migrateRoutedTables prepares every table a relational route writes to.
func migrateRoutedTables(ctx context.Context, gs *relational.GormStore, rt *router.Router) error {
	for _, class := range rt.Classifications() {
		route, err := rt.ResolveStore(class)
		if err != nil {
			return err
		}
		if route.Backend != models.BackendRelational {
			continue
		}
		if err := gs.EnsureTable(ctx, route.Table, class, route.ConflictKeys); err != nil {
			return err
		}
	}
	return nil
}

// registerAdapters binds every enabled provider to its own invoker.
func registerAdapters(cfg *config.Config) (*adapter.Registry, error) {
	reg := adapter.NewRegistry()
	p := cfg.Providers

	var adapters []struct {
		a        adapter.Adapter
		override *config.InvokerConfig
	}
	add := func(a adapter.Adapter, override *config.InvokerConfig) {
		adapters = append(adapters, struct {
			a        adapter.Adapter
			override *config.InvokerConfig
		}{a, override})
	}

	if p.Binance.Enabled {
		add(binance.New(p.Binance), p.Binance.Invoker)
	}
	if p.Bybit.Enabled {
		add(bybit.New(p.Bybit), p.Bybit.Invoker)
	}
	if p.Kucoin.Enabled {
		add(kucoin.New(p.Kucoin), p.Kucoin.Invoker)
	}
	if p.RestAPI.Enabled {
		a, err := restapi.New(p.RestAPI)
		if err != nil {
			return nil, err
		}
		add(a, p.RestAPI.Invoker)
	}
	if p.Reference.Enabled {
		a, err := reference.New(p.Reference)
		if err != nil {
			return nil, err
		}
		add(a, p.Reference.Invoker)
	}

	for _, e := range adapters {
		policy := ratelimit.PolicyFromConfig(cfg.ProviderInvoker(e.override))
		if err := reg.Register(e.a, ratelimit.New(e.a.Name(), policy)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (a *app) observe(fn func(*models.SyncJobStats)) {
	a.observers = append(a.observers, fn)
}

func (a *app) orchestrator() *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithPublisher(a.publisher),
		orchestrator.WithUnitTimeout(a.cfg.Sync.UnitTimeout),
		orchestrator.WithSyncStatusTable(a.cfg.Storage.Relational.SyncStatusTable),
	}
	for _, fn := range a.observers {
		opts = append(opts, orchestrator.WithJobObserver(fn))
	}
	return orchestrator.New(a.router, a.executor, a.coordinator, a.timeseries, a.relational, opts...)
}

func (a *app) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.timeseries != nil {
		errs = append(errs, a.timeseries.Close())
	}
	if a.relational != nil {
		errs = append(errs, a.relational.Close())
	}
	return errors.Join(errs...)
}
