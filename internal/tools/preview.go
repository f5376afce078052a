package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	previewLookupTimeout = 3 * time.Second
	previewQuoteLimit    = 60
)

// Previewer builds confirmation titles and bodies. Lookups use read-only
// tools through the executor and are best effort.
type Previewer struct {
	exec Executor
}

func NewPreviewer(exec Executor) *Previewer {
	return &Previewer{exec: exec}
}

func (p *Previewer) Preview(ctx context.Context, tool string, args map[string]any) (title, content string) {
	if args == nil {
		return "Allow " + tool + "?", "Unable to parse parameters"
	}
	str := func(k string) string {
		s, _ := args[k].(string)
		return s
	}

	switch tool {
	case "createTweet":
		return "Post Tweet", quote(str("text"))
	case "replyToTweet":
		reply, _ := args["reply"].(map[string]any)
		id, _ := reply["in_reply_to_tweet_id"].(string)
		if orig, handle, ok := p.tweet(ctx, id); ok {
			return "Reply to @" + handle, fmt.Sprintf("Original: %s\n\nYour reply: %s", quote(clip(orig, previewQuoteLimit)), quote(str("text")))
		}
		return "Reply to Tweet", quote(str("text"))
	case "quoteTweet":
		if orig, handle, ok := p.tweet(ctx, str("quote_tweet_id")); ok {
			return "Quote @" + handle, fmt.Sprintf("Quoting: %s\n\nYour quote: %s", quote(clip(orig, previewQuoteLimit)), quote(str("text")))
		}
		return "Quote Tweet", quote(str("text"))
	case "createPollTweet":
		poll, _ := args["poll"].(map[string]any)
		opts, _ := poll["options"].([]any)
		if len(opts) == 0 {
			return "Create Poll", quote(str("text"))
		}
		var b strings.Builder
		b.WriteString(quote(str("text")))
		b.WriteString("\n\nPoll options:")
		for i, o := range opts {
			fmt.Fprintf(&b, "\n%d. %v", i+1, o)
		}
		if d, ok := poll["duration_minutes"].(float64); ok {
			fmt.Fprintf(&b, "\n\nDuration: %d minutes", int(d))
		}
		return "Create Poll", b.String()
	case "deleteTweet":
		if orig, _, ok := p.tweet(ctx, str("id")); ok {
			return "Delete Tweet", quote(orig)
		}
		return "Delete Tweet", "Delete this tweet?"
	case "editTweet":
		if orig, _, ok := p.tweet(ctx, str("previous_post_id")); ok {
			return "Edit Tweet", fmt.Sprintf("From: %s\nTo: %s", quote(clip(orig, 40)), quote(clip(str("text"), 40)))
		}
		return "Edit Tweet", quote(clip(str("text"), previewQuoteLimit))
	case "likeTweet", "unlikeTweet", "retweet", "addBookmark", "removeBookmark":
		title := map[string]string{
			"likeTweet":      "Like Tweet",
			"unlikeTweet":    "Unlike Tweet",
			"retweet":        "Retweet",
			"addBookmark":    "Bookmark Tweet",
			"removeBookmark": "Remove Bookmark",
		}[tool]
		if orig, handle, ok := p.tweet(ctx, str("tweet_id")); ok {
			return title, "@" + handle + ": " + quote(clip(orig, previewQuoteLimit))
		}
		return title, title + "?"
	case "unretweet":
		if orig, handle, ok := p.tweet(ctx, str("source_tweet_id")); ok {
			return "Undo Retweet", "@" + handle + ": " + quote(clip(orig, previewQuoteLimit))
		}
		return "Undo Retweet", "Undo this retweet?"
	case "followUser", "unfollowUser", "muteUser", "unmuteUser", "blockUserDMs", "unblockUserDMs":
		verb := map[string]string{
			"followUser":     "Follow",
			"unfollowUser":   "Unfollow",
			"muteUser":       "Mute",
			"unmuteUser":     "Unmute",
			"blockUserDMs":   "Block DMs from",
			"unblockUserDMs": "Unblock DMs from",
		}[tool]
		if handle, name, ok := p.user(ctx, str("target_user_id")); ok {
			return verb + " @" + handle, name
		}
		return verb + " User", verb + " this user?"
	case "sendDMToParticipant":
		if handle, _, ok := p.user(ctx, str("participant_id")); ok {
			return "Send DM to @" + handle, quote(str("text"))
		}
		return "Send Direct Message", quote(str("text"))
	case "createDMConversation":
		msg, _ := args["message"].(map[string]any)
		body, _ := msg["text"].(string)
		ids, _ := args["participant_ids"].([]any)
		if str("conversation_type") == "Group" {
			return "Create Group DM", fmt.Sprintf("%s\n\nWith %d participants", quote(body), len(ids))
		}
		if len(ids) > 0 {
			if id, _ := ids[0].(string); id != "" {
				if handle, _, ok := p.user(ctx, id); ok {
					return "New DM to @" + handle, quote(body)
				}
			}
		}
		return "Create DM Conversation", quote(body)
	case "createList":
		privacy := "Public"
		if b, _ := args["private"].(bool); b {
			privacy = "Private"
		}
		return "Create List", fmt.Sprintf("%s\n%s\n\n%s", str("name"), privacy, str("description"))
	case "deleteList":
		if name, ok := p.listName(ctx, str("id")); ok {
			return "Delete List", name
		}
		return "Delete List", "Delete this list?"
	case "addListMember", "removeListMember":
		title := "Add to List"
		if tool == "removeListMember" {
			title = "Remove from List"
		}
		handle, _, okUser := p.user(ctx, str("user_id"))
		name, okList := p.listName(ctx, str("id"))
		if okUser && okList {
			return title, fmt.Sprintf("@%s, %s", handle, name)
		}
		return title, title + "?"
	}
	return "Allow " + tool + "?", compactArgs(args)
}

func (p *Previewer) lookup(ctx context.Context, tool string, params map[string]any) (map[string]any, bool) {
	if p == nil || p.exec == nil {
		return nil, false
	}
	if id, _ := params["id"].(string); id == "" {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, previewLookupTimeout)
	defer cancel()
	res, err := p.exec.Execute(ctx, tool, params)
	if err != nil || !res.Success {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(res.Response), &doc); err != nil {
		return nil, false
	}
	return doc, true
}

func (p *Previewer) tweet(ctx context.Context, id string) (text, handle string, ok bool) {
	doc, ok := p.lookup(ctx, "getTweet", map[string]any{
		"id":           id,
		"tweet.fields": []string{"text", "author_id"},
		"expansions":   []string{"author_id"},
		"user.fields":  []string{"username"},
	})
	if !ok {
		return "", "", false
	}
	data, _ := doc["data"].(map[string]any)
	text, _ = data["text"].(string)
	if text == "" {
		return "", "", false
	}
	handle = "user"
	if inc, _ := doc["includes"].(map[string]any); inc != nil {
		if users, _ := inc["users"].([]any); len(users) > 0 {
			if u, _ := users[0].(map[string]any); u != nil {
				if h, _ := u["username"].(string); h != "" {
					handle = h
				}
			}
		}
	}
	return text, handle, true
}

func (p *Previewer) user(ctx context.Context, id string) (handle, name string, ok bool) {
	doc, ok := p.lookup(ctx, "getUserById", map[string]any{"id": id})
	if !ok {
		return "", "", false
	}
	data, _ := doc["data"].(map[string]any)
	handle, _ = data["username"].(string)
	name, _ = data["name"].(string)
	return handle, name, handle != ""
}

func (p *Previewer) listName(ctx context.Context, id string) (string, bool) {
	doc, ok := p.lookup(ctx, "getList", map[string]any{"id": id})
	if !ok {
		return "", false
	}
	data, _ := doc["data"].(map[string]any)
	name, _ := data["name"].(string)
	return name, name != ""
}

func quote(s string) string { return `"` + s + `"` }

func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

func compactArgs(args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return clip(string(b), 200)
}
