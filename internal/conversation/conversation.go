// Package conversation runs the daily question cycle: ask whether to check
// in today, remind a bounded number of times, and act on the answer.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nonari/fichajes/internal/fichador"
	"github.com/nonari/fichajes/internal/marks"
	logx "github.com/nonari/fichajes/pkg/logx"
)

const (
	questionText    = "📅 Buenos días! ¿Quieres fichar hoy?"
	reminderText    = "⏰ Recordatorio: ¿Quieres fichar hoy? Responde 'Sí' o 'No'."
	clarifyText     = "Por favor responde 'Sí' o 'No'."
	declinedText    = "🚫 No se fichará hoy."
	gaveUpText      = "🔕 Sin respuesta. Hoy no se fichará automáticamente."
	busyText        = "⚠️ Ya existen marcajes programados. Cancélalos con /cancelar si deseas reiniciar."
	tryingText      = "🔄 Intentando fichaje de entrada..."
	noCheckoutText  = "🚫 No se programó la salida porque la entrada no se confirmó."
	checkoutOffText = "ℹ️ La salida automática está desactivada en la configuración."
	badCheckoutText = "⚠️ La hora calculada para la salida ya no es válida."
)

var yesNoKeyboard = [][]string{{"Sí", "No"}}

// Options wires a Machine. Send delivers a message to the user, with an
// optional one-time reply keyboard. NonWorking decides whether a civil date
// is skipped entirely.
type Options struct {
	Log   logx.Logger
	Marks *marks.Manager
	Loop  marks.Dispatcher
	Send  func(text string, keyboard [][]string)

	Location         *time.Location
	QuestionHour     int
	QuestionMinute   int
	MaxReminders     int
	ReminderInterval time.Duration
	NonWorking       func(t time.Time) bool

	Now func() time.Time
}

// Machine is the daily question state machine. Like the mark scheduler it
// runs entirely on the loop; the only async pieces are reminder timers and
// executor completions, both dispatched back.
//
// At most one cycle is open at a time and a cycle never opens while marks
// are pending, so the question and the schedule cannot contradict each
// other.
type Machine struct {
	log   logx.Logger
	marks *marks.Manager
	loop  marks.Dispatcher
	send  func(string, [][]string)

	loc        *time.Location
	hour, min  int
	maxRemind  int
	interval   time.Duration
	nonWorking func(time.Time) bool
	now        func() time.Time

	awaiting     bool
	questionDate string // civil date of the last asked question
	attempts     int
	timer        *time.Timer
	reminderGen  int
}

func New(opts Options) *Machine {
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
	nonWorking := opts.NonWorking
	if nonWorking == nil {
		nonWorking = func(time.Time) bool { return false }
	}
	send := opts.Send
	if send == nil {
		send = func(string, [][]string) {}
	}
	interval := opts.ReminderInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	maxRemind := opts.MaxReminders
	if maxRemind < 0 {
		maxRemind = 0
	}
	return &Machine{
		log:        log,
		marks:      opts.Marks,
		loop:       opts.Loop,
		send:       send,
		loc:        loc,
		hour:       opts.QuestionHour,
		min:        opts.QuestionMinute,
		maxRemind:  maxRemind,
		interval:   interval,
		nonWorking: nonWorking,
		now:        now,
	}
}

// AskDaily opens today's question cycle. It is a no-op on non-working days,
// when marks are already pending, or when today's question was already
// asked.
func (m *Machine) AskDaily() {
	today := m.now().In(m.loc)
	date := today.Format("2006-01-02")
	if m.nonWorking(today) {
		m.closeCycle()
		m.log.Info("skipping daily question on non-working day",
			logx.String("date", date))
		return
	}
	if m.marks.HasPending() {
		m.closeCycle()
		m.log.Info("skipping daily question, marks already pending",
			logx.String("date", date))
		return
	}
	if m.questionDate == date {
		m.log.Debug("daily question already asked", logx.String("date", date))
		return
	}

	m.closeCycle()
	m.awaiting = true
	m.questionDate = date
	m.attempts = 0
	m.send(questionText, yesNoKeyboard)
	m.armReminder()
	m.log.Info("daily question asked", logx.String("date", date))
}

// CatchUp asks the question at startup when the bot missed today's slot:
// the question time already passed, the day is workable and nothing is
// pending.
func (m *Machine) CatchUp() {
	now := m.now().In(m.loc)
	slot := time.Date(now.Year(), now.Month(), now.Day(), m.hour, m.min, 0, 0, m.loc)
	if now.Before(slot) {
		return
	}
	m.log.Info("question time already passed, catching up")
	m.AskDaily()
}

// HandleText processes one user message. It returns true when the message
// was consumed by the conversation; command-shaped messages are never
// consumed so the router can handle them.
func (m *Machine) HandleText(text string) bool {
	if !m.awaiting {
		return false
	}
	reply := strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(reply, "/") {
		return false
	}
	switch reply {
	case "sí", "si":
		m.accepted()
	case "no":
		m.closeCycle()
		m.send(declinedText, nil)
		m.log.Info("user declined today's check-in")
	default:
		m.send(clarifyText, nil)
	}
	return true
}

// accepted handles a yes: refuse when marks appeared since the question,
// otherwise fire the entrada right away and pair it with a salida.
func (m *Machine) accepted() {
	m.closeCycle()
	if m.marks.HasPending() {
		m.send(busyText, nil)
		m.log.Warn("yes received but marks already pending")
		return
	}
	m.send(tryingText, nil)
	m.marks.PerformNow(marks.ActionCheckIn, func(res fichador.Result, err error) {
		if err != nil {
			m.send(fmt.Sprintf("❌ Error al fichar entrada: %v", err), nil)
			return
		}
		if res.Message != "" {
			m.send(res.Message, nil)
		}
		if !res.Success {
			m.send(noCheckoutText, nil)
			return
		}
		out, err := m.marks.ScheduleAutoCheckout(m.now())
		switch {
		case errors.Is(err, marks.ErrAutoCheckoutDisabled):
			m.send(checkoutOffText, nil)
		case err != nil:
			m.log.Warn("auto checkout after confirmed entrada failed", logx.Err(err))
			m.send(badCheckoutText, nil)
		default:
			m.send(fmt.Sprintf("🕐 Salida programada para las %s.",
				out.When.In(m.loc).Format("15:04")), nil)
		}
	})
}

func (m *Machine) armReminder() {
	m.reminderGen++
	gen := m.reminderGen
	m.timer = time.AfterFunc(m.interval, func() {
		m.loop.Dispatch(func() { m.remind(gen) })
	})
}

// remind fires on the reminder timer. Stale generations are no-ops: the
// cycle that armed them already closed or re-armed.
func (m *Machine) remind(gen int) {
	if gen != m.reminderGen || !m.awaiting {
		return
	}
	m.attempts++
	if m.attempts > m.maxRemind {
		m.closeCycle()
		m.send(gaveUpText, nil)
		m.log.Info("daily question abandoned, no reply",
			logx.Int("reminders", m.maxRemind))
		return
	}
	m.send(reminderText, yesNoKeyboard)
	m.armReminder()
	m.log.Debug("reminder sent", logx.Int("attempt", m.attempts))
}

// closeCycle ends the open question cycle, invalidating any armed reminder.
func (m *Machine) closeCycle() {
	m.awaiting = false
	m.attempts = 0
	m.reminderGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
