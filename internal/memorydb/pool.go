package memorydb

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/qdrant/go-client/qdrant"
)

// NewPgxPool creates a PostgreSQL connection pool configured for pgvector,
// ported directly from the teacher's internal/repository/db.go NewPool.
func NewPgxPool(ctx context.Context, databaseURL string, maxConns int) (*pgxpool.Pool, error) {
	const op = "memorydb.NewPgxPool"

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse config: %w", op, err)
	}

	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	cfg.MinConns = 2
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = 1 * time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute
	cfg.AfterConnect = pgxvector.RegisterTypes

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return pool, nil
}

// NewQdrantClient dials a Qdrant instance given a "host:port" address, in the
// shape Tangerg-lynx's vectorstores/qdrant package constructs qdrant.Config.
// apiKey and useTLS are both optional (apiKey == "" disables auth).
func NewQdrantClient(addr, apiKey string, useTLS bool) (*qdrant.Client, error) {
	const op = "memorydb.NewQdrantClient"

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%s: parse address %q: %w", op, addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("%s: parse port %q: %w", op, portStr, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return client, nil
}
