package history

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEnforcesMonotonicTransitions(t *testing.T) {
	ctx := context.Background()
	l := NewLog(nil, nil)

	_, err := l.Record(ctx, Entry{SessionID: "s1", CallID: "c1", Tool: "createTweet", Status: StatusApproved})
	require.ErrorIs(t, err, ErrInvalidTransition)

	for _, st := range []Status{StatusPending, StatusApproved, StatusSucceeded} {
		_, err := l.Record(ctx, Entry{SessionID: "s1", CallID: "c1", Tool: "createTweet", Status: st})
		require.NoError(t, err, st)
	}

	_, err = l.Record(ctx, Entry{SessionID: "s1", CallID: "c1", Tool: "createTweet", Status: StatusFailed})
	require.ErrorIs(t, err, ErrDuplicateTerminal)

	status, err := l.Status("s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)

	entries, err := l.Entries(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestLogRejectedCannotBeExecuted(t *testing.T) {
	ctx := context.Background()
	l := NewLog(NewInMemoryStore(), nil)
	_, err := l.Record(ctx, Entry{SessionID: "s", CallID: "c", Tool: "followUser", Status: StatusPending})
	require.NoError(t, err)
	_, err = l.Record(ctx, Entry{SessionID: "s", CallID: "c", Tool: "followUser", Status: StatusRejected})
	require.NoError(t, err)
	_, err = l.Record(ctx, Entry{SessionID: "s", CallID: "c", Tool: "followUser", Status: StatusApproved})
	assert.ErrorIs(t, err, ErrDuplicateTerminal)
}

func TestLogCallsReturnsLatestPerCall(t *testing.T) {
	ctx := context.Background()
	l := NewLog(nil, nil)
	record := func(call string, st Status) {
		_, err := l.Record(ctx, Entry{SessionID: "s", CallID: call, Tool: "likeTweet", Status: st})
		require.NoError(t, err)
	}
	record("a", StatusPending)
	record("b", StatusPending)
	record("a", StatusApproved)
	record("a", StatusFailed)

	calls, err := l.Calls(ctx, "s")
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].CallID)
	assert.Equal(t, StatusFailed, calls[0].Status)
	assert.Equal(t, StatusPending, calls[1].Status)
}

func TestLogFillsFeedbackOnTerminal(t *testing.T) {
	ctx := context.Background()
	l := NewLog(nil, nil)
	_, err := l.Record(ctx, Entry{SessionID: "s", CallID: "c", Tool: "createTweet", Status: StatusPending})
	require.NoError(t, err)
	e, err := l.Record(ctx, Entry{
		SessionID:    "s",
		CallID:       "c",
		Tool:         "createTweet",
		Status:       StatusFailed,
		ErrorCode:    "HTTP_ERROR",
		ErrorMessage: "status 503",
	})
	require.NoError(t, err)
	assert.Equal(t, "createTweet failed (HTTP_ERROR): status 503", e.Feedback)
}

func TestFeedbackTruncatesLongResponses(t *testing.T) {
	fb := Feedback(Entry{Tool: "getTweet", Status: StatusSucceeded, Response: strings.Repeat("x", 1000)})
	assert.Equal(t, feedbackLimit, len([]rune(fb)))
	assert.True(t, strings.HasSuffix(fb, "..."))
}

func TestInMemoryStoreRejectsSecondTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Append(ctx, Entry{SessionID: "s", CallID: "c", Status: StatusSucceeded}))
	assert.ErrorIs(t, s.Append(ctx, Entry{SessionID: "s", CallID: "c", Status: StatusFailed}), ErrDuplicateTerminal)
	require.NoError(t, s.Append(ctx, Entry{SessionID: "other", CallID: "c", Status: StatusFailed}))
}

func TestLogRequiresApprovalBeforeExecution(t *testing.T) {
	ctx := context.Background()
	l := NewLog(nil, nil)
	_, err := l.Record(ctx, Entry{SessionID: "s", CallID: "c", Tool: "createTweet", Status: StatusPending})
	require.NoError(t, err)

	for _, st := range []Status{StatusSucceeded, StatusFailed} {
		_, err = l.Record(ctx, Entry{SessionID: "s", CallID: "c", Tool: "createTweet", Status: st})
		assert.ErrorIs(t, err, ErrInvalidTransition, st)
	}
	status, err := l.Status("s", "c")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
}

func TestLogForgetDropsSessionIndex(t *testing.T) {
	ctx := context.Background()
	l := NewLog(nil, nil)
	for _, sess := range []string{"s1", "s2"} {
		_, err := l.Record(ctx, Entry{SessionID: sess, CallID: "c", Tool: "getTweet", Status: StatusPending})
		require.NoError(t, err)
	}

	l.Forget("s1")
	assert.Equal(t, 1, l.Tracked())
	_, err := l.Status("s1", "c")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := l.Entries(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
