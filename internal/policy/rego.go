package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// RegoEngine evaluates data.tool_policy.decision.
type RegoEngine struct {
	query rego.PreparedEvalQuery
}

// DefaultRules mirrors the built-in mode map; operators replace it with a
// file to add argument-aware rules.
const DefaultRules = `
package tool_policy

default decision = "require_approval"

decision = "allow" {
	input.mode == "auto"
}
`

func NewRegoEngine(ctx context.Context, module string) (*RegoEngine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", module),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego: %w", err)
	}
	return &RegoEngine{query: query}, nil
}

// LoadRegoEngine reads rules from path.
func LoadRegoEngine(ctx context.Context, path string) (*RegoEngine, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rego rules: %w", err)
	}
	return NewRegoEngine(ctx, string(body))
}

// RuleInput is the document rules see as input.
type RuleInput struct {
	ToolName string         `json:"tool_name"`
	UserID   string         `json:"user_id"`
	Mode     Mode           `json:"mode"`
	Risk     string         `json:"risk"`
	Args     map[string]any `json:"args"`
}

func (e *RegoEngine) Evaluate(ctx context.Context, in RuleInput) (Decision, error) {
	input := map[string]any{
		"tool_name": in.ToolName,
		"user_id":   in.UserID,
		"mode":      string(in.Mode),
		"risk":      in.Risk,
		"args":      in.Args,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("evaluate rego: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", fmt.Errorf("evaluate rego: no decision")
	}
	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("evaluate rego: decision is %T, want string", results[0].Expressions[0].Value)
	}
	switch d := Decision(s); d {
	case DecisionAllow, DecisionRequireApproval, DecisionBlock:
		return d, nil
	}
	return "", fmt.Errorf("evaluate rego: unknown decision %q", s)
}
