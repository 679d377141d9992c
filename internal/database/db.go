// Package database persists finished analyses to PostgreSQL. The engine
// runs fine without a database; persistence is a sink, never a
// dependency of the analysis path.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Config holds database connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewDB opens and pings a connection pool.
func NewDB(ctx context.Context, cfg Config, log zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &DB{Pool: pool, log: log.With().Str("component", "database").Logger()}, nil
}

// Migrate creates the analyses table when missing.
func (db *DB) Migrate(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS analyses (
		id                 BIGSERIAL PRIMARY KEY,
		stock_symbol       TEXT        NOT NULL,
		exchange           TEXT        NOT NULL,
		analysis_timestamp TIMESTAMPTZ NOT NULL,
		analysis_type      TEXT        NOT NULL,
		current_price      DOUBLE PRECISION NOT NULL,
		ai_analysis        JSONB       NOT NULL,
		signals            JSONB,
		sector_context     JSONB,
		mtf_context        JSONB,
		meta               JSONB,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_symbol_ts
		ON analyses (stock_symbol, analysis_timestamp DESC);
	`
	if _, err := db.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("analyses migration: %w", err)
	}
	db.log.Info().Msg("database migrated")
	return nil
}

// Close shuts the pool down.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}
