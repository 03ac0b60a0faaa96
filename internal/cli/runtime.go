package cli

import (
	"context"
	"errors"
	"time"

	"reservoir/pkg/audit"
	"reservoir/pkg/backend"
	"reservoir/pkg/cache"
	"reservoir/pkg/config"
	"reservoir/pkg/database"
	"reservoir/pkg/events"
	"reservoir/pkg/jobs"
	"reservoir/pkg/logger"
	"reservoir/pkg/metrics"
	"reservoir/pkg/telemetry"
)

// shutdownTimeout время на остановку воркеров и сброс буферов
const shutdownTimeout = 30 * time.Second

// runtime собранный граф зависимостей для команд, исполняющих задачи
type runtime struct {
	cfg      *config.Config
	registry *backend.Registry
	orch     *jobs.Orchestrator
	archive  *jobs.PostgresArchive
	audit    audit.Logger

	closers []func(context.Context) error
}

// newRuntime поднимает реестр, оркестратор и включённые в конфигурации
// подсистемы: телеметрию, метрики, кэш, архив, события и аудит.
// Недоступность необязательной подсистемы логируется и не мешает запуску.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	// Телеметрия
	if cfg.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.ConfigFrom(cfg.Tracing, cfg.App))
		if err != nil {
			logger.Log.Warn("Failed to init telemetry", "error", err)
		} else {
			rt.closers = append(rt.closers, tp.Shutdown)
		}
	}

	m := metrics.Get()
	m.SetServiceInfo(cfg.App.Version, cfg.App.Environment)
	if cfg.Metrics.Enabled {
		srvCtx, cancel := context.WithCancel(context.Background())
		go func() {
			if err := metrics.Serve(srvCtx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				logger.Log.Warn("metrics server stopped", "error", err)
			}
		}()
		rt.closers = append(rt.closers, func(context.Context) error {
			cancel()
			return nil
		})
	}

	rt.registry = backend.NewRegistryFromConfig(cfg.Backends)
	opts := jobs.FromConfig(cfg.Jobs, cfg.Backends)
	opts = append(opts, jobs.WithMetrics(m))

	// Кэш результатов
	if cfg.Cache.Enabled {
		c, err := cache.New(cache.FromConfig(&cfg.Cache))
		if err != nil {
			logger.Log.Warn("Result cache unavailable, running without it", "driver", cfg.Cache.Driver, "error", err)
		} else {
			rc := cache.NewResultCache(c, cfg.Cache.DefaultTTL)
			opts = append(opts, jobs.WithResultCache(rc, cfg.Cache.DefaultTTL))
			rt.closers = append(rt.closers, func(context.Context) error { return rc.Close() })
		}
	}

	// Архив задач
	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			logger.Log.Warn("Database unavailable, job archive disabled", "error", err)
		} else {
			rt.closers = append(rt.closers, func(context.Context) error {
				db.Close()
				return nil
			})
			if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database); err != nil {
				rt.close()
				return nil, err
			}
			rt.archive = jobs.NewPostgresArchive(db)
			opts = append(opts, jobs.WithArchive(rt.archive))
		}
	}

	// События
	pub, err := events.New(cfg.Events, cfg.App.Name)
	if err != nil {
		logger.Log.Warn("NATS unavailable, job events disabled", "url", cfg.Events.URL, "error", err)
		pub = events.NoopPublisher{}
	}
	opts = append(opts, jobs.WithPublisher(pub))
	rt.closers = append(rt.closers, func(context.Context) error { return pub.Close() })

	// Аудит
	al, err := audit.New(audit.FromConfig(cfg.Audit, cfg.App.Name))
	if err != nil {
		logger.Log.Warn("Audit log unavailable", "error", err)
		al = audit.NoopLogger{}
	}
	audit.SetGlobal(al)
	rt.audit = al
	opts = append(opts, jobs.WithAudit(al))
	rt.closers = append(rt.closers, func(context.Context) error { return al.Close() })

	rt.orch = jobs.New(rt.registry, opts...)
	if cfg.Metrics.Enabled {
		if err := metrics.Register(metrics.NewJobTableCollector(cfg.Metrics.Namespace, cfg.Metrics.Subsystem, rt.orch)); err != nil {
			logger.Log.Warn("Job table collector not registered", "error", err)
		}
	}
	return rt, nil
}

// close останавливает оркестратор и подсистемы в обратном порядке
func (rt *runtime) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if rt.orch != nil {
		errs = append(errs, rt.orch.Shutdown(ctx))
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}
	audit.SetGlobal(audit.NoopLogger{})
	return errors.Join(errs...)
}
