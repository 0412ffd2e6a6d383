package context

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

// Render turns a snapshot into the world-context text for the system prompt,
// trimming low priority blocks to stay inside the token budget.
func (a *Assembler) Render(s *Snapshot) string {
	blocks := Blocks(s)
	total := totalTokens(blocks)
	if total > a.config.MaxTokens {
		a.logger.Info("context exceeds budget, trimming",
			zap.String("agent", s.Agent.ID),
			zap.Int("total", total),
			zap.Int("budget", a.config.MaxTokens))
		Fit(blocks, a.config.MaxTokens)
	}
	return flatten(blocks)
}

// Blocks splits a snapshot into prioritized blocks. Empty sections are
// left out.
func Blocks(s *Snapshot) []*Block {
	var blocks []*Block
	add := func(name string, p BlockPriority, fixed bool, lines []string) {
		if len(lines) == 0 {
			return
		}
		blocks = append(blocks, &Block{Name: name, Priority: p, Lines: lines, Tokens: estimateTokens(lines), Fixed: fixed})
	}

	profile := []string{fmt.Sprintf("You are %s.", s.Agent.Name)}
	if s.Agent.Description != "" {
		profile = append(profile, s.Agent.Description)
	}
	if s.Agent.Personality != "" {
		profile = append(profile, "Personality: "+s.Agent.Personality)
	}
	if len(s.Inventory) == 0 {
		profile = append(profile, "You own nothing right now.")
	} else {
		profile = append(profile, "You own:")
		for _, e := range s.Inventory {
			line := fmt.Sprintf("- %s (%s)", e.Item.Name, e.Item.Rarity)
			if e.Item.Effect != "" {
				line += ": " + e.Item.Effect
			}
			profile = append(profile, line)
		}
	}
	add("Who you are", PriorityProfile, true, profile)

	var inbox []string
	for _, n := range s.UnreadMentions {
		inbox = append(inbox, fmt.Sprintf("- %s mentioned you in %q [%s]: %s", n.AuthorName, n.ThreadTitle, n.ThreadID, n.Content))
	}
	for _, g := range s.ReceivedGifts {
		inbox = append(inbox, fmt.Sprintf("- you received %s (%s) as a gift", g.Item.Name, g.Item.Rarity))
	}
	for _, n := range s.ReceivedReplies {
		inbox = append(inbox, fmt.Sprintf("- %s replied to your thread %q [%s]: %s", n.AuthorName, n.ThreadTitle, n.ThreadID, n.Content))
	}
	if s.LastChat != nil {
		inbox = append(inbox, fmt.Sprintf("- %s talked with you: %s", s.LastChat.UserName, s.LastChat.Content))
	}
	add("Since you last checked", PriorityInbox, true, inbox)

	var rels []string
	for _, r := range s.Relationships {
		rels = append(rels, fmt.Sprintf("- %s: %s (%d)", r.Name, r.Label, r.Score))
	}
	add("People you know", PriorityRelation, false, rels)

	var mems []string
	for _, m := range byImportance(s.Memories, s.Recalled) {
		mems = append(mems, "- "+m.content)
	}
	add("What you remember", PriorityMemory, false, mems)

	var board []string
	for _, t := range s.OwnPosts {
		board = append(board, fmt.Sprintf("- you posted %q [%s] (%d replies)", t.Title, t.ID, t.ReplyCount))
	}
	for _, c := range s.OwnComments {
		board = append(board, fmt.Sprintf("- you replied in %q [%s]: %s", c.ThreadTitle, c.ThreadID, c.Content))
	}
	add("Your board activity", PriorityBoard, false, board)

	var events []string
	for _, e := range s.WorldEvents {
		events = append(events, fmt.Sprintf("- %s %s", e.CreatedAt.Format(time.Kitchen), e.Content))
	}
	add("Around the world", PriorityEvents, false, events)

	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Priority > blocks[j].Priority })
	return blocks
}

// Fit trims non-fixed blocks from the tail, lowest priority first, until
// the total fits the budget. Every block keeps at least one line.
func Fit(blocks []*Block, budget int) {
	total := totalTokens(blocks)
	order := make([]*Block, len(blocks))
	copy(order, blocks)
	sort.SliceStable(order, func(i, j int) bool { return order[i].Priority < order[j].Priority })

	for _, b := range order {
		if b.Fixed || total <= budget {
			continue
		}
		for total > budget && len(b.Lines) > 1 {
			last := b.Lines[len(b.Lines)-1]
			b.Lines = b.Lines[:len(b.Lines)-1]
			total -= estimateTokensStr(last)
		}
		b.Tokens = estimateTokens(b.Lines)
	}
}

func flatten(blocks []*Block) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## " + b.Name + "\n")
		sb.WriteString(strings.Join(b.Lines, "\n"))
	}
	return sb.String()
}

type memoryLine struct {
	content    string
	importance int
}

// byImportance merges recent and recalled memories, most important first.
func byImportance(recent, recalled []world.Memory) []memoryLine {
	var out []memoryLine
	for _, m := range recent {
		out = append(out, memoryLine{m.Content, m.Importance})
	}
	for _, m := range recalled {
		out = append(out, memoryLine{m.Content, m.Importance})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].importance > out[j].importance })
	return out
}

func totalTokens(blocks []*Block) int {
	total := 0
	for _, b := range blocks {
		total += b.Tokens
	}
	return total
}

// estimateTokens estimates total tokens for a slice of lines.
func estimateTokens(lines []string) int {
	total := 0
	for _, l := range lines {
		total += estimateTokensStr(l)
	}
	return total
}

// estimateTokensStr estimates tokens for a single string.
// Rough heuristic: ~4 chars per token for mixed CJK/English.
func estimateTokensStr(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
