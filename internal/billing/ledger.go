package billing

import (
	"context"
	"errors"
	"sync"
)

var ErrInsufficientCredits = errors.New("insufficient credits")

// Balance is a user's prepaid credit position.
type Balance struct {
	UserID    string  `json:"userId"`
	Spent     float64 `json:"spent"`
	Total     float64 `json:"total"`
	Remaining float64 `json:"remaining"`
}

// Ledger charges metered voice minutes against a balance. Implementations
// must not cache balances between calls.
type Ledger interface {
	ChargeMinutes(ctx context.Context, userID string, minutes float64) (Balance, error)
	Balance(ctx context.Context, userID string) (Balance, error)
}

// MemoryLedger keeps balances in process. New users start with
// StartingCredits.
type MemoryLedger struct {
	startingCredits float64
	minuteCost      float64

	mu       sync.Mutex
	accounts map[string]*Balance
}

func NewMemoryLedger(startingCredits, minuteCost float64) *MemoryLedger {
	if minuteCost <= 0 {
		minuteCost = 1
	}
	return &MemoryLedger{
		startingCredits: startingCredits,
		minuteCost:      minuteCost,
		accounts:        make(map[string]*Balance),
	}
}

func (l *MemoryLedger) ChargeMinutes(_ context.Context, userID string, minutes float64) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.account(userID)
	acct.Spent += minutes * l.minuteCost
	acct.Remaining = acct.Total - acct.Spent
	return *acct, nil
}

func (l *MemoryLedger) Balance(_ context.Context, userID string) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.account(userID), nil
}

// Grant adds credits to a user's total.
func (l *MemoryLedger) Grant(userID string, credits float64) Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.account(userID)
	acct.Total += credits
	acct.Remaining = acct.Total - acct.Spent
	return *acct
}

func (l *MemoryLedger) account(userID string) *Balance {
	acct, ok := l.accounts[userID]
	if !ok {
		acct = &Balance{UserID: userID, Total: l.startingCredits, Remaining: l.startingCredits}
		l.accounts[userID] = acct
	}
	return acct
}
