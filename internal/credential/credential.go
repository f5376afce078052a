package credential

import (
	"context"
	"errors"
	"time"
)

var ErrNoCredential = errors.New("no realtime credential configured")

// Token is a short-lived bearer credential for a realtime session.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token is unusable at now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

type Issuer interface {
	IssueEphemeralToken(ctx context.Context) (Token, error)
}

// StaticIssuer hands out a fixed API key. Used for local development and
// the dial command.
type StaticIssuer struct {
	Key string
}

func (s StaticIssuer) IssueEphemeralToken(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if s.Key == "" {
		return Token{}, ErrNoCredential
	}
	return Token{Value: s.Key}, nil
}
