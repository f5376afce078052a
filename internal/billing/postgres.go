package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger stores balances in credit_accounts and every charge in
// usage_charges. Charges lock the account row.
type PostgresLedger struct {
	pool            *pgxpool.Pool
	startingCredits float64
	minuteCost      float64
}

func NewPostgresLedger(pool *pgxpool.Pool, startingCredits, minuteCost float64) *PostgresLedger {
	if minuteCost <= 0 {
		minuteCost = 1
	}
	return &PostgresLedger{pool: pool, startingCredits: startingCredits, minuteCost: minuteCost}
}

func (l *PostgresLedger) ChargeMinutes(ctx context.Context, userID string, minutes float64) (Balance, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return Balance{}, fmt.Errorf("begin charge: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := l.ensureAccount(ctx, tx, userID); err != nil {
		return Balance{}, err
	}
	var b Balance
	b.UserID = userID
	if err := tx.QueryRow(ctx,
		`SELECT total, spent FROM credit_accounts WHERE user_id=$1 FOR UPDATE`, userID,
	).Scan(&b.Total, &b.Spent); err != nil {
		return Balance{}, fmt.Errorf("lock account: %w", err)
	}

	cost := minutes * l.minuteCost
	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE credit_accounts SET spent = spent + $2, updated_at = $3 WHERE user_id=$1`,
		userID, cost, now,
	); err != nil {
		return Balance{}, fmt.Errorf("update account: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO usage_charges (id, user_id, minutes, cost, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), userID, minutes, cost, now,
	); err != nil {
		return Balance{}, fmt.Errorf("insert charge: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Balance{}, fmt.Errorf("commit charge: %w", err)
	}

	b.Spent += cost
	b.Remaining = b.Total - b.Spent
	return b, nil
}

func (l *PostgresLedger) Balance(ctx context.Context, userID string) (Balance, error) {
	b := Balance{UserID: userID}
	err := l.pool.QueryRow(ctx,
		`SELECT total, spent FROM credit_accounts WHERE user_id=$1`, userID,
	).Scan(&b.Total, &b.Spent)
	if errors.Is(err, pgx.ErrNoRows) {
		b.Total = l.startingCredits
		b.Remaining = l.startingCredits
		return b, nil
	}
	if err != nil {
		return Balance{}, fmt.Errorf("query balance: %w", err)
	}
	b.Remaining = b.Total - b.Spent
	return b, nil
}

func (l *PostgresLedger) ensureAccount(ctx context.Context, tx pgx.Tx, userID string) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_accounts (user_id, total, spent) VALUES ($1, $2, 0) ON CONFLICT (user_id) DO NOTHING`,
		userID, l.startingCredits,
	); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}
