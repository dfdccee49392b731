// Package health provides health check implementations for the chart
// engine's external dependencies.
package health

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Checker is a single named dependency check.
type Checker interface {
	// Name identifies the dependency in readiness responses.
	Name() string
	// HealthCheck probes the dependency; nil means healthy.
	HealthCheck(ctx context.Context) error
}

// DBChecker probes the Postgres connection backing events and stats.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

func (d *DBChecker) Name() string { return "postgres" }

// HealthCheck pings the database.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// RedisChecker probes the Redis instance holding published chart
// generations.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Name() string { return "redis" }

// HealthCheck sends a PING command.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Check runs every checker and returns per-dependency status strings
// ("ok" or the error text) plus whether all checks passed.
func Check(ctx context.Context, checkers ...Checker) (map[string]string, bool) {
	statuses := make(map[string]string, len(checkers))
	healthy := true
	for _, c := range checkers {
		if err := c.HealthCheck(ctx); err != nil {
			statuses[c.Name()] = fmt.Sprintf("unhealthy: %v", err)
			healthy = false
			continue
		}
		statuses[c.Name()] = "ok"
	}
	return statuses, healthy
}
