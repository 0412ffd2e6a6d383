// Package resolve maps free-text names produced by a decision service onto
// persisted entities.
package resolve

import (
	"strings"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

// Resolver picks one entity for a free-text name, or reports no match.
type Resolver interface {
	Item(query string, inventory []world.InventoryEntry) (*world.InventoryEntry, bool)
	Agent(query string, agents []world.Agent) (*world.Agent, bool)
}

// SubstringResolver matches when either string contains the other,
// ignoring case and surrounding space. The first match in enumeration order
// wins; there is no ranking.
type SubstringResolver struct{}

// Item resolves an item name against an inventory.
func (SubstringResolver) Item(query string, inventory []world.InventoryEntry) (*world.InventoryEntry, bool) {
	for i := range inventory {
		if Match(query, inventory[i].Item.Name) {
			return &inventory[i], true
		}
	}
	return nil, false
}

// Agent resolves a character name against the agent list.
func (SubstringResolver) Agent(query string, agents []world.Agent) (*world.Agent, bool) {
	for i := range agents {
		if Match(query, agents[i].Name) {
			return &agents[i], true
		}
	}
	return nil, false
}

// Match reports whether query and name match leniently. Empty strings never
// match anything.
func Match(query, name string) bool {
	q := normalize(query)
	n := normalize(name)
	if q == "" || n == "" {
		return false
	}
	return strings.Contains(n, q) || strings.Contains(q, n)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
