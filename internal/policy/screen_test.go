package policy

import "testing"

func TestScreenBlocksCredentials(t *testing.T) {
	got := Screen("createTweet", `{"text":"my api_key=abcd1234efgh5678 lol"}`)
	if !got.Blocked {
		t.Fatalf("Blocked = false, want true")
	}
	if got.Risk != "blocked" {
		t.Fatalf("Risk = %q, want %q", got.Risk, "blocked")
	}
}

func TestScreenRatesByToolName(t *testing.T) {
	cases := map[string]string{
		"deleteTweet":         "high",
		"unfollowUser":        "high",
		"createTweet":         "medium",
		"sendDMToParticipant": "medium",
		"getTweet":            "low",
	}
	for tool, want := range cases {
		got := Screen(tool, `{"text":"hello"}`)
		if got.Blocked {
			t.Fatalf("Screen(%q) blocked unexpectedly", tool)
		}
		if got.Risk != want {
			t.Fatalf("Screen(%q).Risk = %q, want %q", tool, got.Risk, want)
		}
	}
}
