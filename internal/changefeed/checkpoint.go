package changefeed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// InMemoryCheckpointer keeps leases for the lifetime of the process.
type InMemoryCheckpointer struct {
	mu     sync.RWMutex
	leases map[string]int64
}

func NewInMemoryCheckpointer() *InMemoryCheckpointer {
	return &InMemoryCheckpointer{leases: make(map[string]int64)}
}

func (c *InMemoryCheckpointer) Load(_ context.Context, lease string) (int64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seq, ok := c.leases[lease]
	return seq, ok, nil
}

func (c *InMemoryCheckpointer) Save(_ context.Context, lease string, seq int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leases[lease] = seq
	return nil
}

const leaseKeyPrefix = "changefeed:lease:"

// RedisCheckpointer stores each lease as a plain integer key.
type RedisCheckpointer struct {
	client redis.UniversalClient
}

func NewRedisCheckpointer(client redis.UniversalClient) *RedisCheckpointer {
	return &RedisCheckpointer{client: client}
}

func leaseKey(lease string) string {
	return leaseKeyPrefix + lease
}

func (c *RedisCheckpointer) Load(ctx context.Context, lease string) (int64, bool, error) {
	raw, err := c.client.Get(ctx, leaseKey(lease)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load lease %s: %w", lease, err)
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse lease %s: %w", lease, err)
	}
	return seq, true, nil
}

func (c *RedisCheckpointer) Save(ctx context.Context, lease string, seq int64) error {
	if err := c.client.Set(ctx, leaseKey(lease), seq, 0).Err(); err != nil {
		return fmt.Errorf("save lease %s: %w", lease, err)
	}
	return nil
}

// PostgresCheckpointer keeps leases next to the document tables, so a
// Postgres-backed deployment resumes without Redis.
type PostgresCheckpointer struct {
	db *sql.DB
}

// NewPostgresCheckpointer constructs a checkpointer. Call Bootstrap before use.
func NewPostgresCheckpointer(db *sql.DB) *PostgresCheckpointer {
	return &PostgresCheckpointer{db: db}
}

// Bootstrap creates the lease table when absent.
func (c *PostgresCheckpointer) Bootstrap(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS changefeed_leases (
			name TEXT PRIMARY KEY,
			seq  BIGINT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("bootstrap lease table: %w", err)
	}
	return nil
}

func (c *PostgresCheckpointer) Load(ctx context.Context, lease string) (int64, bool, error) {
	var seq int64
	err := c.db.QueryRowContext(ctx, `SELECT seq FROM changefeed_leases WHERE name = $1`, lease).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load lease %s: %w", lease, err)
	}
	return seq, true, nil
}

func (c *PostgresCheckpointer) Save(ctx context.Context, lease string, seq int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO changefeed_leases (name, seq) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET seq = EXCLUDED.seq
	`, lease, seq)
	if err != nil {
		return fmt.Errorf("save lease %s: %w", lease, err)
	}
	return nil
}
