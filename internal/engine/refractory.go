package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/miradorstack/mirador-anomaly/internal/cache"
	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// refractoryKeyPrefix namespaces refractory entries in the shared cache.
const refractoryKeyPrefix = "anomaly:refractory:"

// CacheRefractoryStore persists refractory window ends in a cache so
// suppression survives engine restarts. Every operation is best-effort:
// a failing cache degrades to in-memory refractory state.
type CacheRefractoryStore struct {
	provider cache.Provider
	logger   *slog.Logger
	timeout  time.Duration
}

// NewCacheRefractoryStore wraps a cache provider as a refractory store.
func NewCacheRefractoryStore(provider cache.Provider, logger *slog.Logger, timeout time.Duration) *CacheRefractoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &CacheRefractoryStore{provider: provider, logger: logger, timeout: timeout}
}

func refractoryKey(alertID string, key models.DimensionKey) string {
	return refractoryKeyPrefix + alertID + ":" + key.String()
}

// SaveRefractoryEnd writes the window end with a TTL that expires the
// entry when the window closes. Windows already in the past are skipped.
func (s *CacheRefractoryStore) SaveRefractoryEnd(alertID string, key models.DimensionKey, endSec int64) {
	if s.provider == nil {
		return
	}
	ttl := time.Until(time.Unix(endSec, 0))
	if ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	value := strconv.FormatInt(endSec, 10)
	if err := s.provider.Set(ctx, refractoryKey(alertID, key), []byte(value), ttl); err != nil {
		s.logger.Debug("refractory save failed",
			slog.String("alert", alertID), slog.String("dimension_key", key.String()), slog.Any("error", err))
	}
}

// LoadRefractoryEnd fetches a persisted window end. Misses, errors and
// unparsable payloads all read as "no window".
func (s *CacheRefractoryStore) LoadRefractoryEnd(alertID string, key models.DimensionKey) (int64, bool) {
	if s.provider == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	data, err := s.provider.Get(ctx, refractoryKey(alertID, key))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Debug("refractory load failed",
				slog.String("alert", alertID), slog.String("dimension_key", key.String()), slog.Any("error", err))
		}
		return 0, false
	}
	endSec, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, false
	}
	return endSec, true
}
