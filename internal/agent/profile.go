package agent

import (
	"os"
	"path/filepath"
	"strings"
)

// profileFiles are read in order from <dir>/<agentID>/.
var profileFiles = []string{"SOUL.md", "Agent.md", "GOALS.md"}

// LoadProfile reads the optional profile files for an agent and returns
// their concatenated content for system prompt injection. Missing files are
// skipped; an empty dir disables profiles.
func LoadProfile(dir, agentID string) string {
	if dir == "" || agentID == "" || strings.ContainsAny(agentID, `/\`) {
		return ""
	}
	base := filepath.Join(dir, agentID)
	var parts []string
	for _, f := range profileFiles {
		data, err := os.ReadFile(filepath.Join(base, f))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n---\n\n")
}
