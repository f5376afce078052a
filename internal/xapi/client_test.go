package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tweetyapp/voiced/internal/realtime"
	"github.com/tweetyapp/voiced/internal/tools"
)

func testDefs() []realtime.ToolDefinition {
	return []realtime.ToolDefinition{
		{Name: "createTweet", Parameters: map[string]any{"required": []string{"text"}}},
		{Name: "getTweet", Parameters: map[string]any{"required": []any{"id"}}, ReadOnly: true},
	}
}

func TestExecutePostsParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tools/createTweet" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("Authorization = %q", got)
		}
		var params map[string]any
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if params["text"] != "hello" {
			t.Fatalf("params = %v", params)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"1","text":"hello"}}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "tok", testDefs()).Execute(context.Background(), "createTweet", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success || res.StatusCode != http.StatusCreated || res.Response != `{"data":{"id":"1","text":"hello"}}` {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteEnvelopeFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/tools/getTweet":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"title":"Not Found Error","detail":"Could not find tweet"}`))
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"detail":"forbidden"}`))
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "tok", testDefs())

	cases := []struct {
		name   string
		tool   string
		params map[string]any
		code   tools.ErrorCode
		msg    string
	}{
		{"missing param", "createTweet", map[string]any{"text": " "}, tools.CodeMissingParam, "missing required parameter text"},
		{"unknown tool", "launchRocket", nil, tools.CodeNotImplemented, "unknown tool launchRocket"},
		{"http error", "getTweet", map[string]any{"id": "9"}, tools.CodeHTTPError, "Could not find tweet"},
		{"unauthorized", "createTweet", map[string]any{"text": "x"}, tools.CodeUnauthorized, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := c.Execute(context.Background(), tc.tool, tc.params)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if res.Success || res.Error == nil || res.Error.Code != tc.code || res.Error.Message != tc.msg {
				t.Fatalf("result = %+v (error %+v)", res, res.Error)
			}
		})
	}
}

func TestExecuteRequiresTokenAndURL(t *testing.T) {
	res, _ := NewClient("http://example.test", "", testDefs()).Execute(context.Background(), "getTweet", map[string]any{"id": "1"})
	if res.Error == nil || res.Error.Code != tools.CodeAuthRequired {
		t.Fatalf("no token result = %+v", res)
	}
	res, _ = NewClient("not a url", "tok", testDefs()).Execute(context.Background(), "getTweet", map[string]any{"id": "1"})
	if res.Error == nil || res.Error.Code != tools.CodeInvalidURL {
		t.Fatalf("bad url result = %+v", res)
	}
}

func TestExecuteReturnsContextError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewClient(srv.URL, "tok", testDefs()).Execute(ctx, "getTweet", map[string]any{"id": "1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute() error = %v, want deadline exceeded", err)
	}
}
