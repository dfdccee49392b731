package chartcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/waveline/internal/chart"
)

// Redis key layout. Generations are immutable payloads keyed by their ID;
// the pointer key names the scope's current generation. Publish writes the
// payload first and flips the pointer last, so a reader following the
// pointer always finds a complete generation.
const (
	generationKeyPrefix = "chart:gen:"     // chart:gen:{scopeKey}:{genID} -> JSON payload
	currentKeyPrefix    = "chart:current:" // chart:current:{scopeKey}    -> genID
	scopesSetKey        = "chart:scopes"   // set of scope keys with a published chart
)

// RedisStore implements Store on Redis with per-generation TTLs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore creates a new Redis-backed generation store.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultGenerationTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

func generationKey(scope chart.Scope, genID string) string {
	return generationKeyPrefix + scope.Key() + ":" + genID
}

func currentKey(scope chart.Scope) string {
	return currentKeyPrefix + scope.Key()
}

// Publish stores the generation payload, then atomically flips the
// current-generation pointer. The superseded payload is left to lapse via
// its own TTL; in-flight readers holding the old ID can still finish.
func (s *RedisStore) Publish(ctx context.Context, gen chart.Generation) error {
	payload, err := json.Marshal(gen)
	if err != nil {
		return fmt.Errorf("failed to encode generation: %w", err)
	}

	if err := s.client.Set(ctx, generationKey(gen.Scope, gen.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write generation: %w", err)
	}

	// Pointer flip is the single atomic publish step.
	if err := s.client.Set(ctx, currentKey(gen.Scope), gen.ID, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to flip current generation pointer: %w", err)
	}

	if err := s.client.SAdd(ctx, scopesSetKey, gen.Scope.Key()).Err(); err != nil {
		// Scope bookkeeping is advisory; the publish itself succeeded.
		s.logger.Warn("failed to record scope in scope set",
			slog.String("scope", gen.Scope.Key()),
			slog.String("error", err.Error()))
	}

	return nil
}

// Current returns the scope's current generation, or ErrNoChart.
func (s *RedisStore) Current(ctx context.Context, scope chart.Scope) (*chart.Generation, error) {
	genID, err := s.client.Get(ctx, currentKey(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoChart
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read current generation pointer: %w", err)
	}

	payload, err := s.client.Get(ctx, generationKey(scope, genID)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Pointer outlived its payload; treat as expired.
		return nil, ErrNoChart
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read generation: %w", err)
	}

	var gen chart.Generation
	if err := json.Unmarshal(payload, &gen); err != nil {
		return nil, fmt.Errorf("failed to decode generation: %w", err)
	}
	return &gen, nil
}

// Scopes lists every scope recorded as having a published chart, dropping
// entries whose generations have since expired.
func (s *RedisStore) Scopes(ctx context.Context) ([]chart.Scope, error) {
	keys, err := s.client.SMembers(ctx, scopesSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list chart scopes: %w", err)
	}

	scopes := make([]chart.Scope, 0, len(keys))
	for _, key := range keys {
		scope, err := chart.ParseScopeKey(key)
		if err != nil {
			s.logger.Warn("dropping malformed scope key from scope set", slog.String("key", key))
			continue
		}
		exists, err := s.client.Exists(ctx, currentKey(scope)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check scope %s: %w", key, err)
		}
		if exists == 0 {
			continue
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// Clear drops the current generation pointer for matching scopes.
func (s *RedisStore) Clear(ctx context.Context, filter Filter) (int, error) {
	keys, err := s.client.SMembers(ctx, scopesSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list chart scopes: %w", err)
	}

	var cleared int
	for _, key := range keys {
		scope, err := chart.ParseScopeKey(key)
		if err != nil || !filter.Matches(scope) {
			continue
		}
		deleted, err := s.client.Del(ctx, currentKey(scope)).Result()
		if err != nil {
			return cleared, fmt.Errorf("failed to clear scope %s: %w", key, err)
		}
		if err := s.client.SRem(ctx, scopesSetKey, key).Err(); err != nil {
			s.logger.Warn("failed to remove scope from scope set",
				slog.String("scope", key),
				slog.String("error", err.Error()))
		}
		if deleted > 0 {
			cleared++
		}
	}
	return cleared, nil
}
