package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStore persists history in the tool_call_log table. The schema is
// owned by the store package migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_call_log
		 (id, session_id, user_id, call_id, tool_name, status, terminal, arguments, response, error_code, error_message, feedback, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID,
		entry.SessionID,
		entry.UserID,
		entry.CallID,
		entry.Tool,
		string(entry.Status),
		entry.Status.Terminal(),
		entry.Arguments,
		entry.Response,
		entry.ErrorCode,
		entry.ErrorMessage,
		entry.Feedback,
		entry.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateTerminal
		}
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, call_id, tool_name, status, arguments, response, error_code, error_message, feedback, created_at
		 FROM tool_call_log WHERE session_id=$1 ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var items []Entry
	for rows.Next() {
		var e Entry
		var status string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.CallID, &e.Tool, &status,
			&e.Arguments, &e.Response, &e.ErrorCode, &e.ErrorMessage, &e.Feedback, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Status = Status(status)
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return items, nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }
