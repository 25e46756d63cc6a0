package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Execer is the subset of *pgxpool.Pool and *pgx.Conn used by [PostgresSink].
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the audit_events table used by PostgresSink.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	user_id     TEXT,
	session_id  TEXT,
	ip          TEXT,
	user_agent  TEXT,
	success     BOOLEAN NOT NULL,
	error       TEXT,
	metadata    JSONB,
	occurred_at TIMESTAMPTZ NOT NULL
)`

const insertEvent = `
	INSERT INTO audit_events (id, kind, user_id, session_id, ip, user_agent, success, error, metadata, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO NOTHING
`

// PostgresSink persists events to Postgres. Write failures are logged and returned.
type PostgresSink struct {
	db      Execer
	logger  *zap.Logger
	timeout time.Duration
}

func NewPostgresSink(db Execer, logger *zap.Logger) *PostgresSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSink{db: db, logger: logger, timeout: 5 * time.Second}
}

// EnsureSchema creates the audit table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return err
}

func (s *PostgresSink) Emit(ctx context.Context, event Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var metadata []byte
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = b
	}

	_, err := s.db.Exec(ctx, insertEvent,
		event.ID,
		string(event.Kind),
		nullable(event.UserID),
		nullable(event.SessionID),
		nullable(event.IP),
		nullable(event.UserAgent),
		event.Success,
		nullable(event.Error),
		metadata,
		event.Timestamp,
	)
	if err != nil {
		s.logger.Warn("persist audit event", zap.String("event_id", event.ID), zap.Error(err))
		return fmt.Errorf("persist audit event %s: %w", event.ID, err)
	}
	return nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
