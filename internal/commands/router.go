// Package commands routes Telegram messages: slash commands are parsed and
// executed here, everything else is offered to the conversation machine.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nonari/fichajes/internal/conversation"
	"github.com/nonari/fichajes/internal/fichador"
	"github.com/nonari/fichajes/internal/marks"
	kit "github.com/nonari/fichajes/internal/transport"
	logx "github.com/nonari/fichajes/pkg/logx"
)

const usageMarcar = "Uso: /marcar entrada|salida [HH:MM]"

// Options wires a Router. ChatID is the only chat the bot serves; updates
// from anywhere else are dropped.
type Options struct {
	Log          logx.Logger
	Marks        *marks.Manager
	Conversation *conversation.Machine
	Executor     fichador.Executor
	Loop         marks.Dispatcher
	Send         func(text string)

	ChatID       int64
	Location     *time.Location
	QuestionTime string // "HH:MM", shown in the help text

	Now func() time.Time
}

type Router struct {
	log  logx.Logger
	mks  *marks.Manager
	conv *conversation.Machine
	exec fichador.Executor
	loop marks.Dispatcher
	send func(string)

	chatID       int64
	loc          *time.Location
	questionTime string
	now          func() time.Time
}

func New(opts Options) *Router {
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
	send := opts.Send
	if send == nil {
		send = func(string) {}
	}
	return &Router{
		log:          log,
		mks:          opts.Marks,
		conv:         opts.Conversation,
		exec:         opts.Executor,
		loop:         opts.Loop,
		send:         send,
		chatID:       opts.ChatID,
		loc:          loc,
		questionTime: opts.QuestionTime,
		now:          now,
	}
}

// HandleUpdate processes one incoming update on the loop. Updates from
// other chats are logged and dropped before any parsing.
func (r *Router) HandleUpdate(u kit.Update) {
	if u.Message == nil {
		return
	}
	msg := u.Message
	if msg.ChatID != r.chatID {
		r.log.Warn("dropping update from foreign chat",
			logx.Int64("chat_id", msg.ChatID),
			logx.String("from", msg.FromUsername))
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		r.handleCommand(text)
		return
	}
	if r.conv.HandleText(text) {
		return
	}
	r.log.Debug("ignoring free text outside question cycle",
		logx.String("text", text))
}

func (r *Router) handleCommand(text string) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	// Strip the @botname suffix Telegram adds in some clients.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start", "/ayuda":
		r.sendHelp()
	case "/marcar":
		r.cmdMarcar(args)
	case "/cancelar":
		r.cmdCancelar()
	case "/pendientes":
		r.cmdPendientes()
	case "/marcajes":
		r.cmdMarcajes()
	default:
		r.send("Comando desconocido. Usa /ayuda.")
	}
}

func (r *Router) sendHelp() {
	r.send(fmt.Sprintf(`🤖 Asistente de fichaje.

Cada día laborable a las %s te preguntaré si quieres fichar.

Comandos:
/marcar entrada|salida [HH:MM] - ficha ahora o a una hora de hoy
/pendientes - lista los marcajes programados
/cancelar - cancela todos los marcajes programados
/marcajes - consulta los marcajes registrados hoy
/ayuda - muestra esta ayuda`, r.questionTime))
}

func (r *Router) cmdMarcar(args []string) {
	if len(args) == 0 || len(args) > 2 {
		r.send(usageMarcar)
		return
	}
	action, err := marks.ParseAction(args[0])
	if err != nil {
		r.send(usageMarcar)
		return
	}

	if len(args) == 2 {
		r.scheduleAt(action, args[1])
		return
	}
	r.performNow(action)
}

// scheduleAt schedules the action for today at HH:MM in the civil zone.
func (r *Router) scheduleAt(action marks.Action, clock string) {
	hour, min, err := parseClock(clock)
	if err != nil {
		r.send(usageMarcar)
		return
	}
	now := r.now().In(r.loc)
	when := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, r.loc)

	mark, err := r.mks.Schedule(action, when)
	if err != nil {
		if err == marks.ErrPastTime {
			r.send("La hora indicada ya ha pasado hoy. Indica una hora futura.")
			return
		}
		r.log.Error("could not schedule mark", logx.Err(err))
		r.send(fmt.Sprintf("❌ No se pudo programar el marcaje: %v", err))
		return
	}
	r.send(fmt.Sprintf("🗓️ Marcaje programado de %s para las %s.",
		mark.Action, mark.When.In(r.loc).Format("15:04")))
}

// performNow executes the action immediately. A confirmed manual entrada
// still gets its paired automatic salida; a confirmed manual salida makes
// any scheduled salidas redundant and cancels them.
func (r *Router) performNow(action marks.Action) {
	r.send(fmt.Sprintf("🔄 Ejecutando marcaje de %s...", action))
	r.mks.PerformNow(action, func(res fichador.Result, err error) {
		if err != nil {
			r.send(fmt.Sprintf("❌ Error al marcar %s: %v", action, err))
			return
		}
		if res.Message != "" {
			r.send(res.Message)
		}
		if !res.Success {
			return
		}
		switch action {
		case marks.ActionCheckIn:
			out, err := r.mks.ScheduleAutoCheckout(r.now())
			if err != nil {
				if err != marks.ErrAutoCheckoutDisabled {
					r.log.Warn("auto checkout after manual entrada failed", logx.Err(err))
				}
				return
			}
			r.send(fmt.Sprintf("🕐 Salida automática programada para las %s.",
				out.When.In(r.loc).Format("15:04")))
		case marks.ActionCheckOut:
			if n := r.mks.CancelByAction(marks.ActionCheckOut); n > 0 {
				r.send(fmt.Sprintf("🧹 Se cancelaron %d salidas programadas que ya no hacen falta.", n))
			}
		}
	})
}

func (r *Router) cmdCancelar() {
	n := r.mks.CancelAll()
	if n == 0 {
		r.send("No hay marcajes pendientes.")
		return
	}
	r.send(fmt.Sprintf("🗑️ Cancelados %d marcajes pendientes.", n))
}

func (r *Router) cmdPendientes() {
	pending := r.mks.ListPending()
	if len(pending) == 0 {
		r.send("No hay marcajes pendientes.")
		return
	}
	var b strings.Builder
	b.WriteString("Marcajes pendientes:")
	for _, m := range pending {
		fmt.Fprintf(&b, "\n• %s el %s", m.Action, m.When.In(r.loc).Format("02/01 a las 15:04"))
	}
	r.send(b.String())
}

// cmdMarcajes queries the portal on a worker goroutine and reports back on
// the loop.
func (r *Router) cmdMarcajes() {
	r.send("🔍 Consultando marcajes de hoy...")
	go func() {
		records, err := r.exec.TodayRecords(context.Background())
		r.loop.Dispatch(func() { r.reportRecords(records, err) })
	}()
}

func (r *Router) reportRecords(records []fichador.Record, err error) {
	if err != nil {
		r.log.Error("today records query failed", logx.Err(err))
		r.send(fmt.Sprintf("❌ No se pudieron consultar los marcajes: %v", err))
		return
	}
	if len(records) == 0 {
		r.send("ℹ️ No hay marcajes registrados hoy.")
		return
	}
	var b strings.Builder
	b.WriteString("Marcajes de hoy:")
	for _, rec := range records {
		fmt.Fprintf(&b, "\n• Entrada: %s | Salida: %s", rec.Entrada, rec.Salida)
	}
	r.send(b.String())
}

func parseClock(s string) (hour, min int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
