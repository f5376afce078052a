package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tweetyapp/voiced/internal/policy"
)

func TestDefaultPolicyFromCatalog(t *testing.T) {
	defs := Catalog()
	p := DefaultPolicy(defs)

	for _, d := range defs {
		want := policy.ModeConfirm
		if d.ReadOnly || IsMetaTool(d.Name) {
			want = policy.ModeAuto
		}
		assert.Equal(t, want, p.Mode(d.Name), d.Name)
	}
	assert.Equal(t, policy.ModeConfirm, p.Mode("notInCatalog"))
	assert.ElementsMatch(t, Names(defs), p.Tools())
}

func TestCatalogNamesUnique(t *testing.T) {
	names := Names(Catalog())
	for i := 1; i < len(names); i++ {
		assert.NotEqual(t, names[i-1], names[i])
	}
	assert.Contains(t, names, ConfirmAction)
	assert.Contains(t, names, CancelAction)
}

func TestAsyncConfirmerPublishesAndWaitsForSettle(t *testing.T) {
	var seen []string
	c := NewAsyncConfirmer(func(conf Confirmation) { seen = append(seen, conf.CallID) })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	approved, err := c.RequestConfirmation(ctx, Confirmation{CallID: "c1", Tool: "likeTweet"})
	assert.False(t, approved)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"c1"}, seen)
}
