package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"reservoir/pkg/domain"
	"reservoir/pkg/logger"
)

// ResultCache кэш UnifiedResult по запросу и бэкенду. Кэшируются только
// завершённые расчёты.
type ResultCache struct {
	cache      Cache
	defaultTTL time.Duration
}

type cachedResult struct {
	Result   *domain.UnifiedResult `json:"result"`
	CachedAt time.Time             `json:"cached_at"`
}

// NewResultCache оборачивает Cache
func NewResultCache(c Cache, defaultTTL time.Duration) *ResultCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultOptions().DefaultTTL
	}
	return &ResultCache{cache: c, defaultTTL: defaultTTL}
}

// Get возвращает кэшированный результат. Повреждённая запись удаляется и
// считается промахом.
func (rc *ResultCache) Get(ctx context.Context, req *domain.SimRequest, backend string) (*domain.UnifiedResult, bool, error) {
	key := ResultKey(req, backend)
	if key == "" {
		return nil, false, nil
	}

	data, err := rc.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var entry cachedResult
	if err := json.Unmarshal(data, &entry); err != nil || entry.Result == nil {
		logger.Log.Warn("dropping corrupt cache entry", "key", key, "error", err)
		_ = rc.cache.Delete(ctx, key) //nolint:errcheck // best effort cleanup
		return nil, false, nil
	}

	// запрос из кэша мог отличаться заголовком, возвращаем текущий
	entry.Result.Request = req
	return entry.Result, true, nil
}

// Set сохраняет результат. Незавершённые результаты пропускаются.
func (rc *ResultCache) Set(ctx context.Context, req *domain.SimRequest, backend string, res *domain.UnifiedResult, ttl time.Duration) error {
	if !res.Succeeded() {
		return nil
	}
	key := ResultKey(req, backend)
	if key == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = rc.defaultTTL
	}

	stored := *res
	stored.Request = nil
	data, err := json.Marshal(cachedResult{Result: &stored, CachedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return rc.cache.Set(ctx, key, data, ttl)
}

// Invalidate удаляет все результаты бэкенда
func (rc *ResultCache) Invalidate(ctx context.Context, backend string) (int64, error) {
	return rc.cache.DeleteByPattern(ctx, BackendPattern(backend))
}

// InvalidateAll удаляет все результаты
func (rc *ResultCache) InvalidateAll(ctx context.Context) (int64, error) {
	return rc.cache.DeleteByPattern(ctx, resultPrefix+":*")
}

// Stats статистика нижележащего кэша
func (rc *ResultCache) Stats(ctx context.Context) (*Stats, error) {
	return rc.cache.Stats(ctx)
}

// Close закрывает нижележащий кэш
func (rc *ResultCache) Close() error {
	return rc.cache.Close()
}
