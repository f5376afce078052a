package policy

import (
	"regexp"
	"strings"
)

// Screening is the content check run on a tool call before any mode lookup.
type Screening struct {
	Risk    string
	Blocked bool
	Reason  string
}

var (
	blockedArgumentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(api[_ -]?key|access[_ -]?token|bearer|password|secret)\s*[:=]\s*\S{8,}`),
		regexp.MustCompile(`(?i)-----BEGIN [A-Z ]*PRIVATE KEY-----`),
		regexp.MustCompile(`\b(?:sk|xai)-[A-Za-z0-9_\-]{16,}\b`),
	}
	highRiskToolWords = []string{
		"delete", "remove", "block", "unfollow", "mute", "edit",
	}
	mediumRiskToolWords = []string{
		"create", "reply", "quote", "send", "follow", "retweet", "like",
		"add", "pin", "update", "bookmark",
	}
)

// Screen rates a tool call by name and rejects arguments that carry
// credentials or key material.
func Screen(tool, arguments string) Screening {
	for _, re := range blockedArgumentPatterns {
		if re.MatchString(arguments) {
			return Screening{
				Risk:    "blocked",
				Blocked: true,
				Reason:  "arguments appear to contain credentials",
			}
		}
	}

	name := strings.ToLower(strings.TrimSpace(tool))
	for _, w := range highRiskToolWords {
		if strings.Contains(name, w) {
			return Screening{Risk: "high"}
		}
	}
	for _, w := range mediumRiskToolWords {
		if strings.Contains(name, w) {
			return Screening{Risk: "medium"}
		}
	}
	return Screening{Risk: "low"}
}
