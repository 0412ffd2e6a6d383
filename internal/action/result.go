package action

import (
	"encoding/json"
	"fmt"
)

// Result is the fixed shape every action handler returns. Message is always
// human readable; it is what the agent reads back on its next round.
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Blocked bool        `json:"blocked,omitempty"`
}

func ok(data interface{}, format string, args ...interface{}) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...), Data: data}
}

func fail(format string, args ...interface{}) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Render serializes a result for the decision service's history.
func Render(r Result) string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":%t,"message":%q}`, r.Success, r.Message)
	}
	return string(b)
}
