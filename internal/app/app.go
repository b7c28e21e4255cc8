// Package app is the composition root: it loads the config, builds every
// component and owns the process lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nonari/fichajes/internal/commands"
	"github.com/nonari/fichajes/internal/config"
	"github.com/nonari/fichajes/internal/conversation"
	"github.com/nonari/fichajes/internal/fichador"
	"github.com/nonari/fichajes/internal/holiday"
	"github.com/nonari/fichajes/internal/marks"
	"github.com/nonari/fichajes/internal/runloop"
	"github.com/nonari/fichajes/internal/storage"
	kit "github.com/nonari/fichajes/internal/transport"
	telegram "github.com/nonari/fichajes/internal/transport/telegram"
	logx "github.com/nonari/fichajes/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	adapter kit.Adapter
	store   storage.Store
	loc     *time.Location
	chatID  int64

	loop   *runloop.Loop
	exec   fichador.Executor
	mks    *marks.Manager
	conv   *conversation.Machine
	router *commands.Router
	cron   *cron.Cron

	updates chan kit.Update
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap logging with the Telegram sink disabled, set the target,
	// then apply the real config. Avoids a warning about a missing target
	// during the first Apply.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, adapter)
	logSvc.SetTelegramTarget(cfg.Telegram.ChatID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if store != nil {
			log.Info("execution journal enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	portalTimeout, err := config.ParseDurationField("portal.timeout", cfg.Portal.Timeout)
	if err != nil {
		return nil, err
	}
	exec, err := fichador.NewCommandExecutor(cfg.Portal.Command, portalTimeout,
		log.With(logx.String("comp", "fichador")))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: adapter,
		store:   store,
		loc:     loc,
		chatID:  cfg.Telegram.ChatID,
		exec:    exec,
		updates: make(chan kit.Update, 64),
	}

	a.loop = runloop.New(log.With(logx.String("comp", "loop")))

	a.mks = marks.New(marks.Options{
		Log:                log.With(logx.String("comp", "marks")),
		Store:              marks.NewStore(cfg.Scheduler.ScheduleFile, loc, log.With(logx.String("comp", "marks"))),
		Loop:               a.loop,
		Executor:           exec,
		Audit:              store,
		Notify:             func(text string) { a.sendText(text, nil) },
		Location:           loc,
		AutoCheckoutDelay:  time.Duration(cfg.Scheduler.AutoCheckoutDelayMinutes) * time.Minute,
		AutoCheckoutOffset: time.Duration(cfg.Scheduler.AutoCheckoutRandomOffsetMinutes) * time.Minute,
	})

	qHour, qMin := cfg.QuestionClock()
	a.conv = conversation.New(conversation.Options{
		Log:              log.With(logx.String("comp", "conversation")),
		Marks:            a.mks,
		Loop:             a.loop,
		Send:             a.sendText,
		Location:         loc,
		QuestionHour:     qHour,
		QuestionMinute:   qMin,
		MaxReminders:     cfg.Scheduler.MaxReminders,
		ReminderInterval: time.Duration(cfg.Scheduler.ReminderIntervalMinutes) * time.Minute,
		NonWorking:       holiday.IsNonWorkingDay,
	})

	a.router = commands.New(commands.Options{
		Log:          log.With(logx.String("comp", "commands")),
		Marks:        a.mks,
		Conversation: a.conv,
		Executor:     exec,
		Loop:         a.loop,
		Send:         func(text string) { a.sendText(text, nil) },
		ChatID:       cfg.Telegram.ChatID,
		Location:     loc,
		QuestionTime: cfg.Scheduler.QuestionTime,
	})

	a.cron = cron.New(cron.WithLocation(loc))
	if _, err := a.cron.AddFunc(fmt.Sprintf("%d %d * * *", qMin, qHour), func() {
		a.loop.Dispatch(a.conv.AskDaily)
	}); err != nil {
		return nil, err
	}

	return a, nil
}

// sendText delivers a message to the configured chat, optionally with a
// one-time reply keyboard. Failures are logged, never propagated: losing a
// chat message must not disturb the schedule.
func (a *App) sendText(text string, keyboard [][]string) {
	var opt *kit.SendOptions
	if len(keyboard) > 0 {
		opt = &kit.SendOptions{ReplyKeyboard: keyboard, OneTime: true}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := a.adapter.SendText(ctx, kit.ChatTarget{ChatID: a.chatID}, text, opt); err != nil {
		a.log.Error("could not send message", logx.Err(err))
	}
}

func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.cfgm.Watch(ctx)
	}()
	a.watchConfig(ctx)

	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop.Run(ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.pumpUpdates(ctx)
	}()

	a.cron.Start()

	a.loop.Dispatch(a.recover)
	a.log.Info("bot started")
	return nil
}

// pumpUpdates moves incoming updates onto the loop.
func (a *App) pumpUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-a.updates:
			a.loop.Dispatch(func() { a.router.HandleUpdate(u) })
		}
	}
}

// watchConfig applies hot-reloadable settings. Only logging is reloadable;
// everything else needs a restart and says so in the log.
func (a *App) watchConfig(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-ch:
				if !ok {
					return
				}
				a.logs.Apply(mapLogConfig(cfg))
				a.log.Info("logging config applied; other changes need a restart")
			}
		}
	}()
}

// recover runs once at startup on the loop: restore the schedule, catch up
// on a missed question and report today's portal records.
func (a *App) recover() {
	restored := a.mks.LoadFromDisk()
	if len(restored) > 0 {
		var b strings.Builder
		b.WriteString("♻️ Bot reiniciado. Marcajes restaurados:")
		for _, m := range restored {
			fmt.Fprintf(&b, "\n• %s el %s", m.Action, m.When.In(a.loc).Format("02/01 a las 15:04"))
		}
		a.sendText(b.String(), nil)
	}

	a.conv.CatchUp()

	go func() {
		records, err := a.exec.TodayRecords(context.Background())
		a.loop.Dispatch(func() { a.reportStartupRecords(records, err) })
	}()
}

func (a *App) reportStartupRecords(records []fichador.Record, err error) {
	if err != nil {
		a.log.Warn("startup records query failed", logx.Err(err))
		a.sendText(fmt.Sprintf("❌ No se pudieron consultar los marcajes actuales: %v", err), nil)
		return
	}
	if len(records) == 0 {
		a.sendText("ℹ️ No hay marcajes registrados hoy.", nil)
		return
	}
	var b strings.Builder
	b.WriteString("Marcajes de hoy:")
	for _, rec := range records {
		fmt.Fprintf(&b, "\n• Entrada: %s | Salida: %s", rec.Entrada, rec.Salida)
	}
	a.sendText(b.String(), nil)
}

func (a *App) Stop(ctx context.Context) error {
	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	_ = a.adapter.Stop(ctx)

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("bot stopped")
	return a.logs.Close()
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}
