package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode classifies a failed call in the result envelope.
type ErrorCode string

const (
	CodeMissingParam     ErrorCode = "MISSING_PARAM"
	CodeInvalidResponse  ErrorCode = "INVALID_RESPONSE"
	CodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	CodeAuthRequired     ErrorCode = "AUTH_REQUIRED"
	CodeHTTPError        ErrorCode = "HTTP_ERROR"
	CodeRequestFailed    ErrorCode = "REQUEST_FAILED"
	CodeInvalidURL       ErrorCode = "INVALID_URL"
	CodeNotImplemented   ErrorCode = "NOT_IMPLEMENTED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeCancelled        ErrorCode = "CANCELLED"
	CodeUserRejected     ErrorCode = "USER_REJECTED"
	CodePolicyBlocked    ErrorCode = "POLICY_BLOCKED"
	CodeInvalidArguments ErrorCode = "INVALID_ARGUMENTS"
	CodeUnknownCall      ErrorCode = "UNKNOWN_CALL"
)

type ResultError struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Result is the envelope returned to the model for every call.
type Result struct {
	ID         string       `json:"id,omitempty"`
	ToolName   string       `json:"toolName"`
	Success    bool         `json:"success"`
	Response   string       `json:"response,omitempty"`
	Error      *ResultError `json:"error,omitempty"`
	StatusCode int          `json:"statusCode,omitempty"`
}

func Success(id, tool, response string, status int) Result {
	return Result{ID: id, ToolName: tool, Success: true, Response: response, StatusCode: status}
}

func Failure(id, tool string, code ErrorCode, message string, status int) Result {
	return Result{ID: id, ToolName: tool, Error: &ResultError{Code: code, Message: message}, StatusCode: status}
}

// JSON renders the envelope as the tool output string.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"toolName":%q,"success":false}`, r.ToolName)
	}
	return string(b)
}

// Executor performs a side-effecting or read-only tool against the
// external API.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (Result, error)
}

type ExecutorFunc func(ctx context.Context, name string, params map[string]any) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, name string, params map[string]any) (Result, error) {
	return f(ctx, name, params)
}

// ExecutionError is a per-call failure. It never ends the session.
type ExecutionError struct {
	CallID string
	Tool   string
	Code   ErrorCode
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s (%s): %s: %v", e.Tool, e.CallID, e.Code, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// failureResult converts an executor error into the envelope.
func failureResult(callID, tool string, err error) (Result, *ExecutionError) {
	code := CodeRequestFailed
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	case errors.Is(err, context.Canceled):
		code = CodeCancelled
	}
	var ee *ExecutionError
	if errors.As(err, &ee) && ee.Code != "" {
		code = ee.Code
	}
	execErr := &ExecutionError{CallID: callID, Tool: tool, Code: code, Err: err}
	return Failure(callID, tool, code, err.Error(), 0), execErr
}
