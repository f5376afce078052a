package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Mode is how a tool call is gated.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeConfirm Mode = "confirm"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeAuto:
		return ModeAuto, nil
	case ModeConfirm:
		return ModeConfirm, nil
	}
	return "", fmt.Errorf("unknown policy mode %q", raw)
}

// Decision is the outcome of evaluating one call.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRequireApproval Decision = "require_approval"
	DecisionBlock           Decision = "block"
)

// Policy maps tool names to modes. Tools without an entry require
// confirmation.
type Policy struct {
	modes map[string]Mode
}

func New(modes map[string]Mode) *Policy {
	cp := make(map[string]Mode, len(modes))
	for k, v := range modes {
		cp[k] = v
	}
	return &Policy{modes: cp}
}

func (p *Policy) Mode(tool string) Mode {
	if p == nil {
		return ModeConfirm
	}
	if m, ok := p.modes[tool]; ok {
		return m
	}
	return ModeConfirm
}

// Tools lists tools with an explicit mode, sorted.
func (p *Policy) Tools() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.modes))
	for k := range p.modes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
