package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tweetyapp/voiced/internal/reliability"
)

const (
	DefaultTokenTTL    = 300 * time.Second
	defaultMaxAttempts = 3
)

// HTTPIssuer mints ephemeral tokens through a credential proxy that holds
// the long-lived provider key.
type HTTPIssuer struct {
	proxyURL    string
	appSecret   string
	ttl         time.Duration
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	client      *http.Client
}

type HTTPIssuerOptions struct {
	TTL         time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Client      *http.Client
}

func NewHTTPIssuer(proxyURL, appSecret string, opts HTTPIssuerOptions) *HTTPIssuer {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTokenTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 200 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 2 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 8 * time.Second}
	}
	return &HTTPIssuer{
		proxyURL:    strings.TrimRight(strings.TrimSpace(proxyURL), "/"),
		appSecret:   appSecret,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		client:      opts.Client,
	}
}

// StatusError is a non-2xx answer from the credential proxy.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("credential proxy status %d: %s", e.StatusCode, e.Body)
}

type clientSecretRequest struct {
	ExpiresAfter struct {
		Seconds int `json:"seconds"`
	} `json:"expires_after"`
}

type clientSecretResponse struct {
	Value        string `json:"value"`
	ExpiresAt    int64  `json:"expires_at"`
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret,omitempty"`
}

// IssueEphemeralToken retries transient proxy failures with capped
// exponential backoff.
func (i *HTTPIssuer) IssueEphemeralToken(ctx context.Context) (Token, error) {
	var lastErr error
	for attempt := 0; attempt < i.maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(reliability.ExponentialBackoff(attempt-1, i.backoffBase, i.backoffCap))
			select {
			case <-ctx.Done():
				timer.Stop()
				return Token{}, ctx.Err()
			case <-timer.C:
			}
		}
		tok, err := i.issueOnce(ctx)
		if err == nil {
			return tok, nil
		}
		lastErr = err
		var se *StatusError
		if ctx.Err() != nil || (errors.As(err, &se) && !reliability.IsRetryableHTTPStatus(se.StatusCode)) {
			break
		}
	}
	return Token{}, lastErr
}

func (i *HTTPIssuer) issueOnce(ctx context.Context) (Token, error) {
	var body clientSecretRequest
	body.ExpiresAfter.Seconds = int(i.ttl / time.Second)
	payload, err := json.Marshal(body)
	if err != nil {
		return Token{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.proxyURL+"/v1/realtime/client_secrets", bytes.NewReader(payload))
	if err != nil {
		return Token{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if i.appSecret != "" {
		req.Header.Set("X-App-Secret", i.appSecret)
	}

	res, err := i.client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Token{}, &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out clientSecretResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Token{}, fmt.Errorf("decode response: %w", err)
	}
	value, expires := out.Value, out.ExpiresAt
	if value == "" && out.ClientSecret != nil {
		value, expires = out.ClientSecret.Value, out.ClientSecret.ExpiresAt
	}
	if value == "" {
		return Token{}, fmt.Errorf("credential proxy returned an empty token")
	}
	tok := Token{Value: value}
	if expires > 0 {
		tok.ExpiresAt = time.Unix(expires, 0).UTC()
	}
	return tok, nil
}
