package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/authcore"
)

// AuditSink appends engine audit events to authcore_audit_events.
type AuditSink struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	timeout time.Duration
}

// NewAuditSink writes each event with its own timeout so a slow database
// only stalls the audit dispatcher, never a request. logger may be nil.
func NewAuditSink(pool *pgxpool.Pool, logger *slog.Logger) *AuditSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AuditSink{pool: pool, logger: logger, timeout: 3 * time.Second}
}

func (s *AuditSink) Emit(ctx context.Context, ev authcore.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	var meta []byte
	if len(ev.Metadata) > 0 {
		meta, _ = json.Marshal(ev.Metadata)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO authcore_audit_events (occurred_at, action, user_id, session_id, success, description, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.Timestamp.UTC(), ev.Action, ev.UserID, ev.SessionID, ev.Success, ev.Description, ev.IPAddress, ev.UserAgent, meta,
	)
	if err != nil {
		s.logger.WarnContext(ctx, "audit insert failed", "action", ev.Action, "error", err)
	}
}

// ListByUser returns the newest events for userID first.
func (s *AuditSink) ListByUser(ctx context.Context, userID string, limit int) ([]authcore.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT occurred_at, action, user_id, session_id, success, description, ip_address, user_agent, metadata
		FROM authcore_audit_events WHERE user_id = $1
		ORDER BY occurred_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit events: %w", err)
	}
	defer rows.Close()

	var out []authcore.AuditEvent
	for rows.Next() {
		var (
			ev   authcore.AuditEvent
			meta []byte
		)
		if err := rows.Scan(&ev.Timestamp, &ev.Action, &ev.UserID, &ev.SessionID, &ev.Success, &ev.Description, &ev.IPAddress, &ev.UserAgent, &meta); err != nil {
			return nil, fmt.Errorf("postgres: scan audit event: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: decode audit metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
