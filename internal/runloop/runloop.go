// Package runloop provides the single logical thread the bot core runs on.
//
// Every mutation of scheduler or conversation state happens inside a
// callback dispatched onto one Loop: timer callbacks, incoming messages and
// executor completions all funnel through Dispatch. Blocking work must run
// elsewhere and marshal its completion back via Dispatch.
package runloop

import (
	"context"
	"runtime/debug"

	logx "github.com/nonari/fichajes/pkg/logx"
)

type Loop struct {
	log logx.Logger
	ch  chan func()
}

func New(log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{log: log, ch: make(chan func(), 64)}
}

// Dispatch enqueues fn for execution on the loop. It blocks when the queue
// is full rather than dropping work.
func (l *Loop) Dispatch(fn func()) {
	if fn == nil {
		return
	}
	l.ch <- fn
}

// Run executes dispatched callbacks strictly one at a time until ctx is
// cancelled. A panicking callback is logged and the loop keeps running; the
// affected cycle is abandoned rather than crashing the process.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.ch:
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop callback panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}
