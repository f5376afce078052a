package tools

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownCall = errors.New("unknown tool call")

// Confirmation is what the user is asked to approve.
type Confirmation struct {
	CallID      string         `json:"call_id"`
	Tool        string         `json:"tool"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Risk        string         `json:"risk,omitempty"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

// Confirmer asks the user and blocks until an answer or ctx ends.
type Confirmer interface {
	RequestConfirmation(ctx context.Context, c Confirmation) (bool, error)
}

type ConfirmerFunc func(ctx context.Context, c Confirmation) (bool, error)

func (f ConfirmerFunc) RequestConfirmation(ctx context.Context, c Confirmation) (bool, error) {
	return f(ctx, c)
}

// AsyncConfirmer publishes requests through notify and waits for the
// answer to arrive out of band, e.g. as a client message routed to
// Orchestrator.Resolve, which settles the call and cancels ctx.
type AsyncConfirmer struct {
	notify func(Confirmation)
}

func NewAsyncConfirmer(notify func(Confirmation)) *AsyncConfirmer {
	return &AsyncConfirmer{notify: notify}
}

func (c *AsyncConfirmer) RequestConfirmation(ctx context.Context, conf Confirmation) (bool, error) {
	if c.notify != nil {
		c.notify(conf)
	}
	<-ctx.Done()
	return false, ctx.Err()
}
