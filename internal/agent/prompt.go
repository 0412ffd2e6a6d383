package agent

import (
	"fmt"
	"strings"

	hbctx "github.com/nidhogg/nuka-heartbeat/internal/context"
	"github.com/nidhogg/nuka-heartbeat/internal/provider"
)

const heartbeatRules = `You live in a small shared world with other characters and a public bulletin board.
You have just woken up for a short while. Act in character using the available actions:
browse and view to read the board, post and reply to talk, give to hand one of your items to someone,
remember to keep something in mind. Thread ids must be copied exactly as shown.
When you are done, call end. You have at most %d rounds before you fall asleep again.`

const nothingNew = "Nothing new has happened since you last checked. Look around, or do whatever feels right to you."

// systemPrompt frames the session: rules, optional profile files and the
// rendered world context.
func systemPrompt(maxRounds int, profile, worldContext string) string {
	parts := []string{fmt.Sprintf(heartbeatRules, maxRounds)}
	if profile != "" {
		parts = append(parts, profile)
	}
	if worldContext != "" {
		parts = append(parts, worldContext)
	}
	return strings.Join(parts, "\n\n")
}

// seedMessage is the first user turn: whatever is addressed to the agent,
// or a filler when nothing is.
func seedMessage(s *hbctx.Snapshot) string {
	if !s.HasNews() {
		return nothingNew
	}
	var b strings.Builder
	b.WriteString("You wake up. Since you last checked:")
	for _, n := range s.UnreadMentions {
		fmt.Fprintf(&b, "\n- %s mentioned you in %q (thread %s): %s", n.AuthorName, n.ThreadTitle, n.ThreadID, n.Content)
	}
	for _, g := range s.ReceivedGifts {
		fmt.Fprintf(&b, "\n- you received %s as a gift", g.Item.Name)
	}
	for _, n := range s.ReceivedReplies {
		fmt.Fprintf(&b, "\n- %s replied to %q (thread %s): %s", n.AuthorName, n.ThreadTitle, n.ThreadID, n.Content)
	}
	if s.LastChat != nil {
		fmt.Fprintf(&b, "\n- you last talked with %s, who said: %s", s.LastChat.UserName, s.LastChat.Content)
	}
	b.WriteString("\nWhat do you do?")
	return b.String()
}

// reminder nudges a decision service that answered without acting.
func reminder(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "You did not do anything. Call an action, or call end if you are done."
	}
	const max = 200
	if r := []rune(text); len(r) > max {
		text = string(r[:max]) + "..."
	}
	return fmt.Sprintf("You said: %q. Call an action to act on it, or call end if you are done.", text)
}

// initialHistory builds the history the first round starts from.
func initialHistory(system, seed string) []provider.Message {
	return []provider.Message{
		{Role: provider.RoleSystem, Content: system},
		{Role: provider.RoleUser, Content: seed},
	}
}
