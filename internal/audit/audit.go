// Package audit provides a durable, append-only record of coordinator
// events backed by PostgreSQL. It implements coordinator.AuditSink; the
// coordinator writes to it and never reads it back to reconstruct state.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/opslane/workstream-coordinator/internal/common/config"
	"github.com/opslane/workstream-coordinator/internal/common/logger"
	"github.com/opslane/workstream-coordinator/internal/coordinator"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS workstream_events (
	id            BIGSERIAL PRIMARY KEY,
	workstream_id TEXT NOT NULL,
	kind          TEXT NOT NULL,
	occurred_at   TIMESTAMPTZ NOT NULL,
	payload       JSONB
)`

const insertSQL = `
INSERT INTO workstream_events (workstream_id, kind, occurred_at, payload)
VALUES ($1, $2, $3, $4)`

// Sink writes coordinator events to a workstream_events table.
type Sink struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewSink connects to PostgreSQL using cfg, ensures the events table exists,
// and returns a Sink ready to record events.
func NewSink(ctx context.Context, cfg config.AuditConfig, log *logger.Logger) (*Sink, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse audit dsn: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create audit pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	return &Sink{pool: pool, log: log.WithFields(zap.String("component", "audit"))}, nil
}

// Record persists a single coordinator event. Failures are logged, not
// returned: a degraded audit trail must never block the coordinator's
// hot path, which is why coordinator.emit calls Record from a goroutine.
func (s *Sink) Record(ctx context.Context, event coordinator.Event) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.Error(err))
		return
	}

	if _, err := s.pool.Exec(ctx, insertSQL, event.WorkstreamID, string(event.Kind), event.Timestamp, payload); err != nil {
		s.log.Warn("failed to record audit event",
			zap.String("workstream_id", event.WorkstreamID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

// Close releases the underlying connection pool.
func (s *Sink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
