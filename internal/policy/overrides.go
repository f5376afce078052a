package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OverrideStore keeps per-user tool mode overrides.
type OverrideStore interface {
	Overrides(ctx context.Context, userID string) (map[string]Mode, error)
	SetOverride(ctx context.Context, userID, tool string, mode Mode) error
	ClearOverride(ctx context.Context, userID, tool string) error
}

type InMemoryOverrides struct {
	mu    sync.RWMutex
	users map[string]map[string]Mode
}

func NewInMemoryOverrides() *InMemoryOverrides {
	return &InMemoryOverrides{users: make(map[string]map[string]Mode)}
}

func (s *InMemoryOverrides) Overrides(_ context.Context, userID string) (map[string]Mode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Mode, len(s.users[userID]))
	for k, v := range s.users[userID] {
		out[k] = v
	}
	return out, nil
}

func (s *InMemoryOverrides) SetOverride(_ context.Context, userID, tool string, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.users[userID]
	if m == nil {
		m = make(map[string]Mode)
		s.users[userID] = m
	}
	m[tool] = mode
	return nil
}

func (s *InMemoryOverrides) ClearOverride(_ context.Context, userID, tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users[userID], tool)
	return nil
}

// PostgresOverrides stores overrides in tool_policy_overrides.
type PostgresOverrides struct {
	pool *pgxpool.Pool
}

func NewPostgresOverrides(pool *pgxpool.Pool) *PostgresOverrides {
	return &PostgresOverrides{pool: pool}
}

func (s *PostgresOverrides) Overrides(ctx context.Context, userID string) (map[string]Mode, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tool_name, mode FROM tool_policy_overrides WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Mode)
	for rows.Next() {
		var tool, mode string
		if err := rows.Scan(&tool, &mode); err != nil {
			return nil, fmt.Errorf("scan override row: %w", err)
		}
		out[tool] = Mode(mode)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate override rows: %w", err)
	}
	return out, nil
}

func (s *PostgresOverrides) SetOverride(ctx context.Context, userID, tool string, mode Mode) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_policy_overrides (user_id, tool_name, mode, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, tool_name) DO UPDATE SET mode=EXCLUDED.mode, updated_at=EXCLUDED.updated_at`,
		userID, tool, string(mode), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	return nil
}

func (s *PostgresOverrides) ClearOverride(ctx context.Context, userID, tool string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM tool_policy_overrides WHERE user_id=$1 AND tool_name=$2`, userID, tool); err != nil {
		return fmt.Errorf("clear override: %w", err)
	}
	return nil
}

// NewOverrideStore returns a postgres-backed store when a pool is
// available, otherwise in-memory.
func NewOverrideStore(pool *pgxpool.Pool) OverrideStore {
	if pool == nil {
		return NewInMemoryOverrides()
	}
	return NewPostgresOverrides(pool)
}
