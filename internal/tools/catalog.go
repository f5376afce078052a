package tools

import (
	"sort"

	"github.com/tweetyapp/voiced/internal/policy"
	"github.com/tweetyapp/voiced/internal/realtime"
)

const (
	ConfirmAction = "confirm_action"
	CancelAction  = "cancel_action"
)

// IsMetaTool reports whether name resolves another pending call.
func IsMetaTool(name string) bool {
	return name == ConfirmAction || name == CancelAction
}

type param struct {
	name, typ, desc string
	required        bool
}

func schema(params ...param) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		props[p.name] = map[string]any{"type": p.typ, "description": p.desc}
		if p.required {
			required = append(required, p.name)
		}
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

func req(name, typ, desc string) param { return param{name: name, typ: typ, desc: desc, required: true} }
func opt(name, typ, desc string) param { return param{name: name, typ: typ, desc: desc} }

func read(name, desc string, params ...param) realtime.ToolDefinition {
	return realtime.ToolDefinition{Name: name, Description: desc, Parameters: schema(params...), ReadOnly: true}
}

func write(name, desc string, params ...param) realtime.ToolDefinition {
	return realtime.ToolDefinition{Name: name, Description: desc, Parameters: schema(params...)}
}

var (
	tweetID  = req("id", "string", "Tweet id")
	userID   = req("id", "string", "User id")
	targetID = req("target_user_id", "string", "User id to act on")
	listID   = req("id", "string", "List id")
	text     = req("text", "string", "Post text")
)

// Catalog returns every tool offered to the model.
func Catalog() []realtime.ToolDefinition {
	return []realtime.ToolDefinition{
		read("searchRecentTweets", "Search tweets from the last seven days", req("query", "string", "Search query"), opt("max_results", "integer", "10-100")),
		read("getTweet", "Fetch one tweet by id", tweetID),
		read("getUserById", "Fetch a user by id", userID),
		read("getUserByUsername", "Fetch a user by handle", req("username", "string", "Handle without @")),
		read("getHomeTimeline", "Fetch the signed-in user's home timeline", opt("max_results", "integer", "Page size")),
		read("getUserTweets", "Fetch recent tweets from a user", userID),
		read("getList", "Fetch a list by id", listID),
		read("getBookmarks", "Fetch the signed-in user's bookmarks"),

		write("createTweet", "Post a new tweet", text),
		write("replyToTweet", "Reply to a tweet", text, req("reply", "object", "{in_reply_to_tweet_id}")),
		write("quoteTweet", "Quote a tweet", text, req("quote_tweet_id", "string", "Tweet id to quote")),
		write("createPollTweet", "Post a poll", text, req("poll", "object", "{options, duration_minutes}")),
		write("deleteTweet", "Delete one of the user's tweets", tweetID),
		write("editTweet", "Edit a recent tweet", text, req("previous_post_id", "string", "Tweet id to edit")),
		write("likeTweet", "Like a tweet", req("tweet_id", "string", "Tweet id")),
		write("unlikeTweet", "Remove a like", req("tweet_id", "string", "Tweet id")),
		write("retweet", "Retweet a tweet", req("tweet_id", "string", "Tweet id")),
		write("unretweet", "Undo a retweet", req("source_tweet_id", "string", "Tweet id")),
		write("followUser", "Follow a user", targetID),
		write("unfollowUser", "Unfollow a user", targetID),
		write("muteUser", "Mute a user", targetID),
		write("unmuteUser", "Unmute a user", targetID),
		write("blockUserDMs", "Block direct messages from a user", targetID),
		write("unblockUserDMs", "Unblock direct messages from a user", targetID),
		write("createList", "Create a list", req("name", "string", "List name"), opt("description", "string", "List description"), opt("private", "boolean", "Private list")),
		write("deleteList", "Delete a list", listID),
		write("addListMember", "Add a user to a list", listID, req("user_id", "string", "User id")),
		write("removeListMember", "Remove a user from a list", listID, req("user_id", "string", "User id")),
		write("sendDMToParticipant", "Send a direct message to a user", text, req("participant_id", "string", "User id")),
		write("createDMConversation", "Start a DM conversation", req("participant_ids", "array", "User ids"), req("message", "object", "{text}"), opt("conversation_type", "string", "DirectMessage or Group")),
		write("addBookmark", "Bookmark a tweet", req("tweet_id", "string", "Tweet id")),
		write("removeBookmark", "Remove a bookmark", req("tweet_id", "string", "Tweet id")),

		write(ConfirmAction, "Confirms and executes the pending action when the user says yes, confirm, do it, or similar", req("tool_call_id", "string", "The id of the tool call being confirmed")),
		write(CancelAction, "Cancels the pending action when the user says no, cancel, don't, or similar", req("tool_call_id", "string", "The id of the tool call being cancelled")),
	}
}

// DefaultPolicy auto-runs read-only tools and the meta-tools; everything
// else requires confirmation.
func DefaultPolicy(defs []realtime.ToolDefinition) *policy.Policy {
	modes := map[string]policy.Mode{
		ConfirmAction: policy.ModeAuto,
		CancelAction:  policy.ModeAuto,
	}
	for _, d := range defs {
		if _, set := modes[d.Name]; set {
			continue
		}
		if d.ReadOnly {
			modes[d.Name] = policy.ModeAuto
		} else {
			modes[d.Name] = policy.ModeConfirm
		}
	}
	return policy.New(modes)
}

// Names lists tool names in sorted order.
func Names(defs []realtime.ToolDefinition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Name)
	}
	sort.Strings(out)
	return out
}
