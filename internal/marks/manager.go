package marks

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/nonari/fichajes/internal/fichador"
	"github.com/nonari/fichajes/internal/storage"
	logx "github.com/nonari/fichajes/pkg/logx"
)

var (
	ErrPastTime             = errors.New("requested time is in the past")
	ErrAutoCheckoutDisabled = errors.New("auto checkout is disabled")
)

// Dispatcher marshals callbacks onto the bot's single logical thread.
type Dispatcher interface {
	Dispatch(fn func())
}

// Options wires a Manager. Now and Jitter exist so tests can inject a fixed
// clock and a deterministic offset; nil means real clock and math/rand.
type Options struct {
	Log      logx.Logger
	Store    *Store
	Loop     Dispatcher
	Executor fichador.Executor
	Audit    storage.Store // nil disables the execution journal
	Notify   func(text string)
	Location *time.Location

	AutoCheckoutDelay  time.Duration // 0 disables auto checkout
	AutoCheckoutOffset time.Duration // random spread around the delay

	Now    func() time.Time
	Jitter func(n int) int
}

// Manager owns the pending mark set and its timers. All exported methods
// and all internal state transitions run on the loop; the only work done
// off-loop is the executor call itself, whose completion is dispatched
// back.
//
// The disk snapshot is rewritten after every mutation, and a due mark is
// removed and persisted BEFORE its executor runs. A crash mid-execution
// therefore loses at most one attempt and never replays one.
type Manager struct {
	log    logx.Logger
	store  *Store
	loop   Dispatcher
	exec   fichador.Executor
	audit  storage.Store
	notify func(string)
	loc    *time.Location

	autoDelay  time.Duration
	autoOffset time.Duration

	now    func() time.Time
	jitter func(n int) int

	pending map[string]Mark
	timers  map[string]*time.Timer
}

func New(opts Options) *Manager {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	jitter := opts.Jitter
	if jitter == nil {
		jitter = rand.Intn
	}
	notify := opts.Notify
	if notify == nil {
		notify = func(string) {}
	}
	return &Manager{
		log:        log,
		store:      opts.Store,
		loop:       opts.Loop,
		exec:       opts.Executor,
		audit:      opts.Audit,
		notify:     notify,
		loc:        loc,
		autoDelay:  opts.AutoCheckoutDelay,
		autoOffset: opts.AutoCheckoutOffset,
		now:        now,
		jitter:     jitter,
		pending:    map[string]Mark{},
		timers:     map[string]*time.Timer{},
	}
}

// Schedule registers a mark for a future instant and persists the new
// schedule before returning.
func (m *Manager) Schedule(action Action, when time.Time) (Mark, error) {
	now := m.now()
	if !when.After(now) {
		return Mark{}, ErrPastTime
	}
	mark := newMark(action, when.In(m.loc))
	m.pending[mark.ID] = mark
	m.armTimer(mark, now)
	m.persist()
	m.log.Info("mark scheduled",
		logx.String("id", mark.ID),
		logx.String("action", string(mark.Action)),
		logx.Time("when", mark.When))
	return mark, nil
}

// ScheduleAutoCheckout schedules the paired salida after a confirmed
// entrada: the configured delay after from, spread by a random offset.
// If the computed instant is already too close it is clamped to one minute
// from now rather than rejected.
func (m *Manager) ScheduleAutoCheckout(from time.Time) (Mark, error) {
	if m.autoDelay <= 0 {
		return Mark{}, ErrAutoCheckoutDisabled
	}
	when := from.Add(m.autoDelay + m.randomOffset())
	if min := m.now().Add(time.Minute); when.Before(min) {
		when = min
	}
	return m.Schedule(ActionCheckOut, when)
}

// randomOffset picks a whole number of minutes in [-offset, +offset].
func (m *Manager) randomOffset() time.Duration {
	off := int(m.autoOffset.Minutes())
	if off <= 0 {
		return 0
	}
	return time.Duration(m.jitter(2*off+1)-off) * time.Minute
}

func (m *Manager) HasPending() bool { return len(m.pending) > 0 }

// ListPending returns the pending marks ordered by time, ties broken by ID.
func (m *Manager) ListPending() []Mark {
	out := make([]Mark, 0, len(m.pending))
	for _, mark := range m.pending {
		out = append(out, mark)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].When.Equal(out[j].When) {
			return out[i].ID < out[j].ID
		}
		return out[i].When.Before(out[j].When)
	})
	return out
}

// CancelAll drops every pending mark. It persists even when there was
// nothing pending so the snapshot always matches memory.
func (m *Manager) CancelAll() int {
	n := len(m.pending)
	for id := range m.pending {
		m.disarmTimer(id)
		delete(m.pending, id)
	}
	m.persist()
	if n > 0 {
		m.log.Info("all marks cancelled", logx.Int("count", n))
	}
	return n
}

// CancelByAction drops pending marks of one action, keeping the rest.
func (m *Manager) CancelByAction(action Action) int {
	n := 0
	for id, mark := range m.pending {
		if mark.Action != action {
			continue
		}
		m.disarmTimer(id)
		delete(m.pending, id)
		n++
	}
	if n > 0 {
		m.persist()
		m.log.Info("marks cancelled",
			logx.String("action", string(action)), logx.Int("count", n))
	}
	return n
}

// LoadFromDisk restores the schedule snapshot at startup. Marks whose time
// already passed are discarded (never executed late) and the snapshot is
// rewritten when anything was dropped. It returns the restored marks in
// ListPending order.
func (m *Manager) LoadFromDisk() []Mark {
	loaded := m.store.Load()
	now := m.now()
	discarded := 0
	for _, mark := range loaded {
		if !mark.When.After(now) {
			m.log.Warn("discarding expired mark",
				logx.String("id", mark.ID),
				logx.String("action", string(mark.Action)),
				logx.Time("when", mark.When))
			discarded++
			continue
		}
		m.pending[mark.ID] = mark
		m.armTimer(mark, now)
	}
	if discarded > 0 || len(loaded) != len(m.pending) {
		m.persist()
	}
	restored := m.ListPending()
	m.log.Info("schedule restored",
		logx.Int("restored", len(restored)), logx.Int("discarded", discarded))
	return restored
}

func (m *Manager) armTimer(mark Mark, now time.Time) {
	id := mark.ID
	d := mark.When.Sub(now)
	m.timers[id] = time.AfterFunc(d, func() {
		m.loop.Dispatch(func() { m.runDue(id) })
	})
}

func (m *Manager) disarmTimer(id string) {
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

// runDue fires when a mark's timer expires. The mark is removed and the
// snapshot rewritten before the executor is invoked; a cancelled or unknown
// ID is a logged no-op (the timer lost the race against a cancel).
func (m *Manager) runDue(id string) {
	mark, ok := m.pending[id]
	if !ok {
		m.log.Error("due mark no longer pending", logx.String("id", id))
		return
	}
	delete(m.pending, id)
	delete(m.timers, id)
	m.persist()

	m.log.Info("executing scheduled mark",
		logx.String("id", mark.ID), logx.String("action", string(mark.Action)))
	go func() {
		res, err := m.exec.Perform(context.Background(), string(mark.Action))
		m.loop.Dispatch(func() { m.finishScheduled(mark, res, err) })
	}()
}

func (m *Manager) finishScheduled(mark Mark, res fichador.Result, err error) {
	m.journal(storage.ExecutionEntry{
		At:           m.now(),
		Action:       string(mark.Action),
		ScheduledFor: mark.When,
		Success:      err == nil && res.Success,
		Message:      executionMessage(res, err),
		Manual:       false,
	})

	if err != nil {
		m.log.Error("scheduled mark failed",
			logx.String("id", mark.ID),
			logx.String("action", string(mark.Action)), logx.Err(err))
		m.notify(fmt.Sprintf("❌ Falló el marcaje programado de %s: %v", mark.Action, err))
		return
	}

	icon := "🚪"
	if mark.Action == ActionCheckOut {
		icon = "🏁"
	}
	text := fmt.Sprintf("%s Marcaje programado de %s ejecutado.", icon, mark.Action)
	if res.Message != "" {
		text += "\n" + res.Message
	}
	if !res.Success {
		text = fmt.Sprintf("⚠️ El marcaje programado de %s no se completó.", mark.Action)
		if res.Message != "" {
			text += "\n" + res.Message
		}
	}
	m.notify(text)

	if mark.Action == ActionCheckIn && res.Success {
		m.chainAutoCheckout()
	}
}

// chainAutoCheckout pairs a confirmed entrada with its salida.
func (m *Manager) chainAutoCheckout() {
	out, err := m.ScheduleAutoCheckout(m.now())
	switch {
	case errors.Is(err, ErrAutoCheckoutDisabled):
		return
	case err != nil:
		m.log.Error("auto checkout not scheduled", logx.Err(err))
		m.notify("⚠️ No se programó la salida porque la hora calculada ya no es válida.")
	default:
		m.notify(fmt.Sprintf("🕐 Salida automática programada para las %s.",
			out.When.In(m.loc).Format("15:04")))
	}
}

// PerformNow runs an action immediately on a worker goroutine and
// dispatches done back onto the loop with the outcome. The caller owns the
// user-facing messaging; the journal entry is written here.
func (m *Manager) PerformNow(action Action, done func(res fichador.Result, err error)) {
	go func() {
		res, err := m.exec.Perform(context.Background(), string(action))
		m.loop.Dispatch(func() {
			m.journal(storage.ExecutionEntry{
				At:      m.now(),
				Action:  string(action),
				Success: err == nil && res.Success,
				Message: executionMessage(res, err),
				Manual:  true,
			})
			if done != nil {
				done(res, err)
			}
		})
	}()
}

// persist rewrites the snapshot. Memory stays authoritative on failure;
// the error is logged and the next mutation retries the write.
func (m *Manager) persist() {
	if err := m.store.Save(m.ListPending()); err != nil {
		m.log.Error("could not persist schedule", logx.Err(err))
	}
}

func (m *Manager) journal(e storage.ExecutionEntry) {
	if m.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.audit.AppendExecution(ctx, e); err != nil {
		m.log.Warn("execution journal append failed", logx.Err(err))
	}
}

func executionMessage(res fichador.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	return res.Message
}
