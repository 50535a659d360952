package llm

import (
	"fmt"
	"strings"
)

const basePrompt = `You are a thoughtful relationship assistant. You help the user reflect on their relationship and communicate better with their partner.

When the user asks you to pass a message along to their partner, wrap the exact message text in a <partner_message> tag, for example:
<partner_message>I was thinking of you today.</partner_message>
Only use the tag when the user explicitly wants the message forwarded. Everything outside the tag is visible to the user alone.`

// PromptContext carries the per-request inputs for prompt assembly.
type PromptContext struct {
	// UserName and PartnerName are display names, possibly empty.
	UserName    string
	PartnerName string

	// Thread is the shared two-party history rendered into the
	// system prompt: messages the user sent to or received from the
	// partner, oldest first.
	Thread []ThreadEntry
}

// ThreadEntry is one line of the shared partner thread.
type ThreadEntry struct {
	FromUser bool
	Text     string
}

// BuildSystemPrompt renders the system prompt for a chat turn.
func BuildSystemPrompt(pc PromptContext) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	partner := pc.PartnerName
	if partner == "" {
		partner = "their partner"
	} else {
		fmt.Fprintf(&b, "\n\nThe user's partner is named %s.", partner)
	}

	if len(pc.Thread) > 0 {
		b.WriteString("\n\nMessages exchanged with the partner so far, oldest first:\n")
		for _, entry := range pc.Thread {
			who := partner
			if entry.FromUser {
				who = pc.UserName
				if who == "" {
					who = "User"
				}
			}
			fmt.Fprintf(&b, "%s: %s\n", who, entry.Text)
		}
	}
	return b.String()
}

// BuildMessages converts a stored conversation history plus the new
// user turn into provider chat messages.
func BuildMessages(history []ChatMessage, userContent string) []ChatMessage {
	out := make([]ChatMessage, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, ChatMessage{Role: "user", Content: userContent})
	return out
}
