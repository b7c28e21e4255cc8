// Package fichador defines the boundary to the check-in executor: the
// component that logs into the attendance portal and performs the actual
// entrada/salida click. The bot core only sees this interface; the browser
// automation itself lives in an external helper process.
package fichador

import "context"

// Result is the outcome of one check-in attempt. Message is user-facing and
// forwarded verbatim to the chat.
type Result struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

// Record is one entrada/salida pair from today's portal table. Missing cells
// come back as "-".
type Record struct {
	Entrada string `json:"entrada"`
	Salida  string `json:"salida"`
}

type Executor interface {
	// Perform executes the given action ("entrada" or "salida"). A non-nil
	// error means the executor itself failed (helper crashed, bad output);
	// a Result with Success=false means the portal refused the action.
	Perform(ctx context.Context, action string) (Result, error)

	// TodayRecords returns today's registered marks, read-only.
	TodayRecords(ctx context.Context) ([]Record, error)
}
