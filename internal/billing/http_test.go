package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPLedgerChargeAndBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s3cret", r.Header.Get("X-App-Secret"))
		switch r.URL.Path {
		case "/v1/usage/track":
			var req trackRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "u1", req.UserID)
			assert.Equal(t, 1.0, req.Minutes)
			_ = json.NewEncoder(w).Encode(trackResponse{Success: true, Cost: 1, Spent: 4, Total: 10, Remaining: 6})
		case "/v1/credits/balance":
			assert.Equal(t, "u1", r.URL.Query().Get("userId"))
			_ = json.NewEncoder(w).Encode(Balance{UserID: "u1", Spent: 4, Total: 10, Remaining: 6})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewHTTPLedger(srv.URL+"/", "s3cret")
	b, err := l.ChargeMinutes(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, 6.0, b.Remaining)

	b, err = l.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Balance{UserID: "u1", Spent: 4, Total: 10, Remaining: 6}, b)
}

func TestHTTPLedgerExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(trackResponse{Success: false, Exceeded: true, Total: 10, Spent: 10})
	}))
	defer srv.Close()

	_, err := NewHTTPLedger(srv.URL, "").ChargeMinutes(context.Background(), "u1", 1)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestHTTPLedgerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPLedger(srv.URL, "").ChargeMinutes(context.Background(), "u1", 1)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.True(t, se.Retryable())
}
