package backend

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"reservoir/pkg/apperror"
	"reservoir/pkg/config"
	"reservoir/pkg/logger"
)

// =============================================================================
// Registry
// =============================================================================

// Registry реестр адаптеров по имени. После старта в основном читается,
// безопасен для конкурентного использования.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	health   map[string]error // результат первой проверки
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		health:   make(map[string]error),
	}
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register добавляет адаптер под его именем
func (r *Registry) Register(b Backend) error {
	name := key(b.Name())
	if name == "" {
		return apperror.New(apperror.CodeInvalidArgument, "backend name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[name]; exists {
		return apperror.Newf(apperror.CodeDuplicateBackend, "backend %q already registered", name)
	}
	r.backends[name] = b
	return nil
}

// Get возвращает адаптер по имени
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[key(name)]
	if !ok {
		return nil, apperror.Newf(apperror.CodeBackendNotFound, "backend %q is not registered", name).
			WithDetails("available", r.namesLocked())
	}
	return b, nil
}

// Names имена зарегистрированных адаптеров по алфавиту
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Health проверяет доступность каждого адаптера. Результат первой проверки
// запоминается; непроверенные адаптеры опрашиваются параллельно.
func (r *Registry) Health(ctx context.Context) map[string]bool {
	r.mu.RLock()
	pending := make(map[string]Backend)
	for name, b := range r.backends {
		if _, done := r.health[name]; !done {
			pending[name] = b
		}
	}
	r.mu.RUnlock()

	if len(pending) > 0 {
		var mu sync.Mutex
		probed := make(map[string]error, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		for name, b := range pending {
			g.Go(func() error {
				err := b.HealthCheck(gctx)
				if err != nil {
					logger.Log.Warn("backend health check failed", "backend", name, "error", err)
				}
				mu.Lock()
				probed[name] = err
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		r.mu.Lock()
		for name, err := range probed {
			if _, done := r.health[name]; !done {
				r.health[name] = err
			}
		}
		r.mu.Unlock()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.backends))
	for name := range r.backends {
		out[name] = r.health[name] == nil
	}
	return out
}

// ResetHealth сбрасывает запомненные проверки
func (r *Registry) ResetHealth() {
	r.mu.Lock()
	r.health = make(map[string]error)
	r.mu.Unlock()
}

// =============================================================================
// Factories
// =============================================================================

// ErrDisabled возвращается фабрикой выключенного в конфигурации адаптера
var ErrDisabled = errors.New("backend disabled")

// Factory создаёт адаптер из конфигурации
type Factory func(cfg config.BackendsConfig) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory регистрирует фабрику. Пакеты адаптеров вызывают её из
// init, так что адаптер доступен, если его пакет слинкован.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[key(name)] = f
}

// FactoryNames имена известных фабрик
func FactoryNames() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewRegistryFromConfig создаёт реестр из всех фабрик. Выключенные адаптеры
// пропускаются; адаптеры, которые не удалось создать, пропускаются с
// предупреждением, чтобы остальные остались доступны.
func NewRegistryFromConfig(cfg config.BackendsConfig) *Registry {
	reg := NewRegistry()
	for _, name := range FactoryNames() {
		factoriesMu.RLock()
		f := factories[name]
		factoriesMu.RUnlock()

		b, err := f(cfg)
		switch {
		case errors.Is(err, ErrDisabled):
			logger.Log.Debug("backend disabled", "backend", name)
			continue
		case err != nil:
			logger.Log.Warn("backend unavailable", "backend", name, "error", err)
			continue
		}
		if err := reg.Register(b); err != nil {
			logger.Log.Warn("backend not registered", "backend", name, "error", err)
			continue
		}
		logger.Log.Info("backend registered", "backend", name, "version", b.Version())
	}
	return reg
}
