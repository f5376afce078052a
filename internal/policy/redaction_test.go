package policy

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactTextMasksContactDetails(t *testing.T) {
	out, changed := RedactText("DM jo@example.org, ring +44 (20) 7946-0958, card 5555 5555 5555 4444")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing %q: %q", marker, out)
		}
	}
}

func TestRedactPIIKeepsTweetIDs(t *testing.T) {
	in := `{"tweet_id":"1789234567890123456","text":"call me on +1 (555) 123-9876"}`
	out, changed := RedactPII(in)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("redacted payload is not JSON: %v (%q)", err, out)
	}
	if got["tweet_id"] != "1789234567890123456" {
		t.Fatalf("tweet_id = %q, want it untouched", got["tweet_id"])
	}
	if !strings.Contains(got["text"], "[REDACTED_PHONE]") {
		t.Fatalf("text not redacted: %q", got["text"])
	}
}

func TestRedactPIILeavesResponseIdentifiersAlone(t *testing.T) {
	for _, in := range []string{
		`{"data":{"id":"1850000000000000001","text":"gm"}}`,
		`{"data":{"ids":["1850000000000000001","1850000000000000002"]}}`,
		`{"inReplyToTweetId":"1789234567890123456","count":1789234567890123456}`,
	} {
		out, changed := RedactPII(in)
		if changed || out != in {
			t.Fatalf("RedactPII(%s) = %s, changed=%v; want unchanged", in, out, changed)
		}
	}
}

func TestRedactPIIFallsBackToText(t *testing.T) {
	out, changed := RedactPII("reply to sam@example.com")
	if !changed || out != "reply to [REDACTED_EMAIL]" {
		t.Fatalf("RedactPII = %q, %v", out, changed)
	}
}
