package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tweetyapp/voiced/internal/reliability"
)

// HTTPLedger talks to a remote credits service.
type HTTPLedger struct {
	baseURL   string
	appSecret string
	client    *http.Client
}

func NewHTTPLedger(baseURL, appSecret string) *HTTPLedger {
	return &HTTPLedger{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		appSecret: appSecret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// StatusError is a non-2xx answer from the credits service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("credits service status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether a later attempt may succeed.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.StatusCode)
}

type trackRequest struct {
	UserID  string  `json:"userId"`
	Minutes float64 `json:"minutes"`
	Service string  `json:"service"`
}

type trackResponse struct {
	Success   bool    `json:"success"`
	Cost      float64 `json:"cost"`
	Spent     float64 `json:"spent"`
	Total     float64 `json:"total"`
	Remaining float64 `json:"remaining"`
	Exceeded  bool    `json:"exceeded"`
}

func (l *HTTPLedger) ChargeMinutes(ctx context.Context, userID string, minutes float64) (Balance, error) {
	payload, err := json.Marshal(trackRequest{UserID: userID, Minutes: minutes, Service: "voice"})
	if err != nil {
		return Balance{}, fmt.Errorf("marshal usage: %w", err)
	}
	var out trackResponse
	if err := l.do(ctx, http.MethodPost, "/v1/usage/track", bytes.NewReader(payload), &out); err != nil {
		return Balance{}, err
	}
	b := Balance{UserID: userID, Spent: out.Spent, Total: out.Total, Remaining: out.Remaining}
	if !out.Success {
		if out.Exceeded {
			return b, ErrInsufficientCredits
		}
		return b, fmt.Errorf("credits service rejected usage")
	}
	return b, nil
}

func (l *HTTPLedger) Balance(ctx context.Context, userID string) (Balance, error) {
	var out Balance
	path := "/v1/credits/balance?userId=" + url.QueryEscape(userID)
	if err := l.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Balance{}, err
	}
	if out.UserID == "" {
		out.UserID = userID
	}
	return out, nil
}

func (l *HTTPLedger) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if l.appSecret != "" {
		req.Header.Set("X-App-Secret", l.appSecret)
	}

	res, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
