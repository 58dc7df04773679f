package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

type PoolConfig struct {
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetimeS int
	ConnMaxIdleTimeS int
}

const (
	connectAttempts = 30
	connectBackoff  = time.Second
)

// NewPostgresDB opens the pool and pings until the database accepts connections.
func NewPostgresDB(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresDB: open: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetimeS) * time.Second)
	db.SetConnMaxIdleTime(time.Duration(pool.ConnMaxIdleTimeS) * time.Second)

	for i := range connectAttempts {
		if err = db.PingContext(ctx); err == nil {
			return db, nil
		}
		slog.Info("waiting for database", "attempt", i+1)

		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("NewPostgresDB: %w", ctx.Err())
		case <-time.After(connectBackoff):
		}
	}

	db.Close()
	return nil, fmt.Errorf("NewPostgresDB: gave up after %d attempts: %w", connectAttempts, err)
}
