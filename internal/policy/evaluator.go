package policy

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Verdict is the result of gating one tool call.
type Verdict struct {
	Decision Decision
	Mode     Mode
	Risk     string
	Reason   string
}

// Evaluator combines the base mode map, user overrides, content screening
// and optional Rego rules into one decision.
type Evaluator struct {
	base      *Policy
	overrides OverrideStore
	rules     *RegoEngine
	logger    *slog.Logger
}

type EvaluatorOptions struct {
	Overrides OverrideStore
	Rules     *RegoEngine
	Logger    *slog.Logger
}

func NewEvaluator(base *Policy, opts EvaluatorOptions) *Evaluator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Evaluator{
		base:      base,
		overrides: opts.Overrides,
		rules:     opts.Rules,
		logger:    opts.Logger,
	}
}

// EffectiveMode resolves a tool's mode for userID. Override lookup
// failures fall back to the base map.
func (e *Evaluator) EffectiveMode(ctx context.Context, userID, tool string) Mode {
	mode := e.base.Mode(tool)
	if e.overrides == nil || userID == "" {
		return mode
	}
	ov, err := e.overrides.Overrides(ctx, userID)
	if err != nil {
		e.logger.Warn("policy override lookup failed", "user_id", userID, "error", err)
		return mode
	}
	if m, ok := ov[tool]; ok {
		return m
	}
	return mode
}

// Effective returns the full tool to mode map for userID.
func (e *Evaluator) Effective(ctx context.Context, userID string) map[string]Mode {
	out := make(map[string]Mode)
	for _, tool := range e.base.Tools() {
		out[tool] = e.base.Mode(tool)
	}
	if e.overrides == nil || userID == "" {
		return out
	}
	ov, err := e.overrides.Overrides(ctx, userID)
	if err != nil {
		e.logger.Warn("policy override lookup failed", "user_id", userID, "error", err)
		return out
	}
	for k, v := range ov {
		out[k] = v
	}
	return out
}

func (e *Evaluator) Overrides() OverrideStore {
	return e.overrides
}

// Decide gates one call. Rule evaluation errors fail closed to
// require_approval.
func (e *Evaluator) Decide(ctx context.Context, userID, tool, arguments string) Verdict {
	screen := Screen(tool, arguments)
	mode := e.EffectiveMode(ctx, userID, tool)
	if screen.Blocked {
		return Verdict{Decision: DecisionBlock, Mode: mode, Risk: screen.Risk, Reason: screen.Reason}
	}

	if e.rules == nil {
		d := DecisionRequireApproval
		if mode == ModeAuto {
			d = DecisionAllow
		}
		return Verdict{Decision: d, Mode: mode, Risk: screen.Risk}
	}

	var args map[string]any
	_ = json.Unmarshal([]byte(arguments), &args)
	d, err := e.rules.Evaluate(ctx, RuleInput{
		ToolName: tool,
		UserID:   userID,
		Mode:     mode,
		Risk:     screen.Risk,
		Args:     args,
	})
	if err != nil {
		e.logger.Warn("policy rules failed, requiring approval", "tool", tool, "error", err)
		return Verdict{Decision: DecisionRequireApproval, Mode: mode, Risk: screen.Risk, Reason: "rule evaluation failed"}
	}
	return Verdict{Decision: d, Mode: mode, Risk: screen.Risk}
}
