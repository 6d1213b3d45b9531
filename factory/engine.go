package factory

import (
	"context"
	"log/slog"
	"time"

	"github.com/MiltronBee/leave-engine/allocation"
	"github.com/MiltronBee/leave-engine/config"
	"github.com/MiltronBee/leave-engine/entitlement"
	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/notify"
	"github.com/MiltronBee/leave-engine/program"
	"github.com/MiltronBee/leave-engine/reservation"
	"github.com/MiltronBee/leave-engine/rotation"
)

// Backend is everything the engine reads and writes. *sqlite.Store and
// *store.Memory implement it.
type Backend interface {
	generic.TxStore
	generic.Directory
	generic.InadmissibleCalendar
	generic.LeaveSource
	DirectoryWriter
}

// Engine bundles the services built from one configuration.
type Engine struct {
	Catalog   *rotation.Catalog
	Table     *entitlement.Table
	Resolver  *rotation.Resolver
	Programs  *program.Service
	Planner   *allocation.Planner
	Scheduler *reservation.Scheduler
}

// EngineOptions are the process-level collaborators of an Engine.
type EngineOptions struct {
	Notifier notify.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewEngine builds the services over a backend. When cfg names a seed file
// its rules and bands replace the defaults and its directory records are
// written to the backend first.
func NewEngine(ctx context.Context, cfg *config.Config, backend Backend, opts EngineOptions) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{Logger: opts.Logger}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	seed := &Seed{Rules: rotation.ProductionRules(), Bands: entitlement.DefaultBands()}
	if cfg.Seed.File != "" {
		loaded, err := Load(cfg.Seed.File)
		if err != nil {
			return nil, err
		}
		if err := loaded.Apply(ctx, backend); err != nil {
			return nil, err
		}
		opts.Logger.Info("seed applied", "file", cfg.Seed.File,
			"groups", len(loaded.Groups), "employees", len(loaded.Employees))
		seed = loaded
	}

	catalog, err := seed.Catalog()
	if err != nil {
		return nil, err
	}
	table, err := seed.Table()
	if err != nil {
		return nil, err
	}
	resolver := rotation.NewResolver(catalog, backend, backend)

	return &Engine{
		Catalog:  catalog,
		Table:    table,
		Resolver: resolver,
		Programs: program.NewService(backend,
			program.WithLogger(opts.Logger),
			program.WithClock(opts.Now),
		),
		Planner: allocation.NewPlanner(backend, backend, resolver, table,
			allocation.WithExcludedWeeks(cfg.Allocation.ExcludedWeeks),
			allocation.WithWorkers(cfg.Allocation.Workers),
			allocation.WithAbsencePolicy(cfg.AbsencePolicy()),
			allocation.WithLogger(opts.Logger),
			allocation.WithClock(opts.Now),
		),
		Scheduler: reservation.NewScheduler(backend, backend, resolver, cfg.ReservationConfig(),
			reservation.WithNotifier(opts.Notifier),
			reservation.WithLogger(opts.Logger),
			reservation.WithClock(opts.Now),
		),
	}, nil
}
