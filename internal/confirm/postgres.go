package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"cookclip/internal/logging"
)

const confirmTable = "pending_confirmations"

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps confirmations in Postgres so they survive restarts.
type PostgresStore struct {
	db       DB
	ttl      time.Duration
	onExpire ExpiryFunc
	logger   logging.Logger
	now      func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over db.
func NewPostgresStore(db DB, ttl time.Duration, onExpire ExpiryFunc, logger logging.Logger) *PostgresStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PostgresStore{
		db:       db,
		ttl:      ttl,
		onExpire: onExpire,
		logger:   logging.OrNop(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + confirmTable + ` (
    requester_id     TEXT PRIMARY KEY,
    chat_id          TEXT NOT NULL,
    source_url       TEXT NOT NULL,
    metadata         JSONB NOT NULL,
    progress_chat    TEXT NOT NULL DEFAULT '',
    progress_message TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    expires_at       TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_confirmations_expiry
    ON ` + confirmTable + ` (expires_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure confirmation schema: %w", err)
		}
	}
	return nil
}

const selectColumns = `requester_id, chat_id, source_url, metadata, progress_chat, progress_message, created_at`

func scanPending(row pgx.Row) (Pending, error) {
	var (
		p    Pending
		meta []byte
	)
	if err := row.Scan(&p.RequesterID, &p.ChatID, &p.SourceURL, &meta, &p.Progress.ChatID, &p.Progress.MessageID, &p.CreatedAt); err != nil {
		return Pending{}, err
	}
	if err := json.Unmarshal(meta, &p.Metadata); err != nil {
		return Pending{}, fmt.Errorf("decode metadata: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Put(ctx context.Context, p Pending) (*Pending, error) {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	prev, found, err := s.Peek(ctx, p.RequesterID)
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO `+confirmTable+` (requester_id, chat_id, source_url, metadata, progress_chat, progress_message, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (requester_id) DO UPDATE SET
		   chat_id = EXCLUDED.chat_id,
		   source_url = EXCLUDED.source_url,
		   metadata = EXCLUDED.metadata,
		   progress_chat = EXCLUDED.progress_chat,
		   progress_message = EXCLUDED.progress_message,
		   created_at = EXCLUDED.created_at,
		   expires_at = EXCLUDED.expires_at`,
		p.RequesterID, p.ChatID, p.SourceURL, meta, p.Progress.ChatID, p.Progress.MessageID, p.CreatedAt, now.Add(s.ttl),
	)
	if err != nil {
		return nil, fmt.Errorf("store confirmation %s: %w", p.RequesterID, err)
	}
	if !found {
		return nil, nil
	}
	return &prev, nil
}

func (s *PostgresStore) Take(ctx context.Context, requesterID string) (Pending, bool, error) {
	row := s.db.QueryRow(ctx,
		`DELETE FROM `+confirmTable+` WHERE requester_id = $1 AND expires_at > $2 RETURNING `+selectColumns,
		requesterID, s.now(),
	)
	p, err := scanPending(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Pending{}, false, nil
	}
	if err != nil {
		return Pending{}, false, fmt.Errorf("take confirmation %s: %w", requesterID, err)
	}
	return p, true, nil
}

func (s *PostgresStore) Peek(ctx context.Context, requesterID string) (Pending, bool, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM `+confirmTable+` WHERE requester_id = $1 AND expires_at > $2`,
		requesterID, s.now(),
	)
	p, err := scanPending(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Pending{}, false, nil
	}
	if err != nil {
		return Pending{}, false, fmt.Errorf("peek confirmation %s: %w", requesterID, err)
	}
	return p, true, nil
}

func (s *PostgresStore) Remove(ctx context.Context, requesterID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM `+confirmTable+` WHERE requester_id = $1`, requesterID); err != nil {
		return fmt.Errorf("remove confirmation %s: %w", requesterID, err)
	}
	return nil
}

// Expire deletes timed-out rows and reports each to the expiry callback.
func (s *PostgresStore) Expire(ctx context.Context) (int, error) {
	rows, err := s.db.Query(ctx,
		`DELETE FROM `+confirmTable+` WHERE expires_at <= $1 RETURNING `+selectColumns,
		s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("expire confirmations: %w", err)
	}
	defer rows.Close()

	var expired []Pending
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return 0, fmt.Errorf("scan expired confirmation: %w", err)
		}
		expired = append(expired, p)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("expire confirmations: %w", err)
	}
	for _, p := range expired {
		s.logger.Info("confirmation for %s expired", p.RequesterID)
		if s.onExpire != nil {
			s.onExpire(p)
		}
	}
	return len(expired), nil
}

// RunExpiry calls Expire every interval until ctx ends.
func (s *PostgresStore) RunExpiry(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Expire(ctx); err != nil {
				s.logger.Warn("confirmation expiry sweep failed: %v", err)
			}
		}
	}
}
