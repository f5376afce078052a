package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tweetyapp/voiced/internal/realtime"
	"github.com/tweetyapp/voiced/internal/tools"
)

const maxResponseBytes = 1 << 20

// Client executes catalog tools through an HTTP tool gateway that fronts
// the social API. Each tool is a POST to {base}/v1/tools/{name} carrying
// the call parameters as a JSON object.
type Client struct {
	baseURL string
	token   string
	schemas map[string][]string
	client  *http.Client
}

func NewClient(baseURL, token string, defs []realtime.ToolDefinition) *Client {
	schemas := make(map[string][]string, len(defs))
	for _, d := range defs {
		schemas[d.Name] = requiredParams(d.Parameters)
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		schemas: schemas,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Execute never returns a Go error for an answered request; API failures
// travel in the envelope. Transport failures are returned as errors so the
// caller can classify timeouts and cancellation.
func (c *Client) Execute(ctx context.Context, name string, params map[string]any) (tools.Result, error) {
	required, known := c.schemas[name]
	if !known {
		return tools.Failure("", name, tools.CodeNotImplemented, "unknown tool "+name, 0), nil
	}
	if c.token == "" {
		return tools.Failure("", name, tools.CodeAuthRequired, "no API token configured", 0), nil
	}
	for _, key := range required {
		if missing(params[key]) {
			return tools.Failure("", name, tools.CodeMissingParam, "missing required parameter "+key, 0), nil
		}
	}

	endpoint, err := url.Parse(c.baseURL + "/v1/tools/" + url.PathEscape(name))
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return tools.Failure("", name, tools.CodeInvalidURL, "invalid API base url", 0), nil
	}
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return tools.Failure("", name, tools.CodeInvalidArguments, err.Error(), 0), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return tools.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return tools.Result{}, ctxErr
		}
		return tools.Result{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return tools.Result{}, fmt.Errorf("read response: %w", err)
	}
	text := strings.TrimSpace(string(body))

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return tools.Failure("", name, tools.CodeUnauthorized, apiMessage(text, res.Status), res.StatusCode), nil
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return tools.Failure("", name, tools.CodeHTTPError, apiMessage(text, res.Status), res.StatusCode), nil
	}
	if text != "" && !json.Valid([]byte(text)) {
		return tools.Failure("", name, tools.CodeInvalidResponse, "response is not JSON", res.StatusCode), nil
	}
	return tools.Success("", name, text, res.StatusCode), nil
}

func requiredParams(schema map[string]any) []string {
	var out []string
	switch req := schema["required"].(type) {
	case []string:
		out = append(out, req...)
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func missing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

// apiMessage pulls a readable message out of a JSON error body.
func apiMessage(body, fallback string) string {
	var doc struct {
		Detail  string `json:"detail"`
		Title   string `json:"title"`
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err == nil {
		for _, s := range []string{doc.Detail, doc.Message, doc.Title} {
			if s != "" {
				return s
			}
		}
		if len(doc.Errors) > 0 && doc.Errors[0].Message != "" {
			return doc.Errors[0].Message
		}
	}
	if body != "" && len(body) <= 200 {
		return body
	}
	return fallback
}
