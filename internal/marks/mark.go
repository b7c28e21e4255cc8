// Package marks implements the durable mark scheduler: future check-in
// actions with a timestamp, persisted to disk on every mutation so a crash
// or restart never loses a pending mark.
package marks

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is what a mark does when it fires.
type Action string

const (
	ActionCheckIn  Action = "entrada"
	ActionCheckOut Action = "salida"
)

// ParseAction normalizes user input into an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "entrada":
		return ActionCheckIn, nil
	case "salida":
		return ActionCheckOut, nil
	default:
		return "", fmt.Errorf("acción desconocida %q", s)
	}
}

// Mark is one scheduled check-in action. IDs are unique per mark and never
// reused, so a timer callback can tell whether its mark is still pending.
type Mark struct {
	ID     string
	Action Action
	When   time.Time
}

func newMark(action Action, when time.Time) Mark {
	return Mark{ID: uuid.NewString(), Action: action, When: when}
}
