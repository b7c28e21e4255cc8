package marks

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nonari/fichajes/internal/fichador"
	logx "github.com/nonari/fichajes/pkg/logx"
)

// inlineLoop runs dispatched callbacks immediately, serialized by a mutex
// so executor completion goroutines cannot race the test goroutine.
type inlineLoop struct{ mu sync.Mutex }

func (l *inlineLoop) Dispatch(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

type fakeExecutor struct {
	result  fichador.Result
	err     error
	started chan string
	release chan struct{}
}

func (f *fakeExecutor) Perform(ctx context.Context, action string) (fichador.Result, error) {
	if f.started != nil {
		f.started <- action
	}
	if f.release != nil {
		<-f.release
	}
	res := f.result
	if res.Action == "" {
		res.Action = action
	}
	return res, f.err
}

func (f *fakeExecutor) TodayRecords(ctx context.Context) ([]fichador.Record, error) {
	return nil, nil
}

type fixture struct {
	mgr      *Manager
	store    *Store
	loc      *time.Location
	now      time.Time
	messages chan string
}

func newFixture(t *testing.T, exec fichador.Executor, opt func(*Options)) *fixture {
	t.Helper()
	loc := testLocation(t)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, loc)
	store := NewStore(filepath.Join(t.TempDir(), "schedule.json"), loc, logx.Nop())
	messages := make(chan string, 16)

	opts := Options{
		Store:              store,
		Loop:               &inlineLoop{},
		Executor:           exec,
		Notify:             func(text string) { messages <- text },
		Location:           loc,
		AutoCheckoutDelay:  7 * time.Hour,
		AutoCheckoutOffset: 3 * time.Minute,
		Now:                func() time.Time { return now },
		Jitter:             func(n int) int { return 0 },
	}
	if opt != nil {
		opt(&opts)
	}
	return &fixture{
		mgr:      New(opts),
		store:    store,
		loc:      loc,
		now:      now,
		messages: messages,
	}
}

func (f *fixture) expectMessage(t *testing.T, substr string) string {
	t.Helper()
	select {
	case msg := <-f.messages:
		if !strings.Contains(msg, substr) {
			t.Fatalf("message %q does not contain %q", msg, substr)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message containing %q", substr)
		return ""
	}
}

func TestScheduleRejectsPast(t *testing.T) {
	f := newFixture(t, &fakeExecutor{}, nil)
	if _, err := f.mgr.Schedule(ActionCheckIn, f.now.Add(-time.Minute)); !errors.Is(err, ErrPastTime) {
		t.Fatalf("got %v, want ErrPastTime", err)
	}
	if _, err := f.mgr.Schedule(ActionCheckIn, f.now); !errors.Is(err, ErrPastTime) {
		t.Fatalf("exact now: got %v, want ErrPastTime", err)
	}
}

func TestSchedulePersistsImmediately(t *testing.T) {
	f := newFixture(t, &fakeExecutor{}, nil)
	mark, err := f.mgr.Schedule(ActionCheckIn, f.now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	saved := f.store.Load()
	if len(saved) != 1 || saved[0].ID != mark.ID {
		t.Fatalf("snapshot does not hold the mark: %+v", saved)
	}
}

func TestRestartRestoresPending(t *testing.T) {
	f := newFixture(t, &fakeExecutor{}, nil)
	m1, _ := f.mgr.Schedule(ActionCheckIn, f.now.Add(time.Hour))
	m2, _ := f.mgr.Schedule(ActionCheckOut, f.now.Add(8*time.Hour))

	restarted := New(Options{
		Store:    f.store,
		Loop:     &inlineLoop{},
		Executor: &fakeExecutor{},
		Location: f.loc,
		Now:      func() time.Time { return f.now },
	})
	restored := restarted.LoadFromDisk()
	if len(restored) != 2 {
		t.Fatalf("restored %d marks, want 2", len(restored))
	}
	if restored[0].ID != m1.ID || restored[1].ID != m2.ID {
		t.Fatalf("restored wrong marks: %+v", restored)
	}

	// Restart again: idempotent.
	again := New(Options{
		Store:    f.store,
		Loop:     &inlineLoop{},
		Executor: &fakeExecutor{},
		Location: f.loc,
		Now:      func() time.Time { return f.now },
	})
	if got := again.LoadFromDisk(); len(got) != 2 {
		t.Fatalf("second restart restored %d marks, want 2", len(got))
	}
}

func TestLoadFromDiskDiscardsExpired(t *testing.T) {
	f := newFixture(t, &fakeExecutor{}, nil)
	past := Mark{ID: "old", Action: ActionCheckIn, When: f.now.Add(-time.Hour)}
	future := Mark{ID: "new", Action: ActionCheckOut, When: f.now.Add(time.Hour)}
	if err := f.store.Save([]Mark{past, future}); err != nil {
		t.Fatal(err)
	}

	restored := f.mgr.LoadFromDisk()
	if len(restored) != 1 || restored[0].ID != "new" {
		t.Fatalf("expected only the future mark, got %+v", restored)
	}
	// Snapshot rewritten without the expired one.
	if saved := f.store.Load(); len(saved) != 1 || saved[0].ID != "new" {
		t.Fatalf("snapshot still holds expired marks: %+v", saved)
	}
}

func TestAutoCheckoutOffsetBounds(t *testing.T) {
	cases := []struct {
		name   string
		jitter func(n int) int
		want   time.Duration
	}{
		{"min", func(n int) int { return 0 }, 7*time.Hour - 3*time.Minute},
		{"mid", func(n int) int { return 3 }, 7 * time.Hour},
		{"max", func(n int) int { return 6 }, 7*time.Hour + 3*time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeExecutor{}, func(o *Options) { o.Jitter = tc.jitter })
			mark, err := f.mgr.ScheduleAutoCheckout(f.now)
			if err != nil {
				t.Fatal(err)
			}
			if got := mark.When.Sub(f.now); got != tc.want {
				t.Fatalf("delay %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAutoCheckoutClampsToNearFuture(t *testing.T) {
	f := newFixture(t, &fakeExecutor{}, func(o *Options) {
		o.AutoCheckoutDelay = time.Minute
		o.AutoCheckoutOffset = 10 * time.Minute
		o.Jitter = func(n int) int { return 0 } // offset -10m, lands in the past
	})
	mark, err := f.mgr.ScheduleAutoCheckout(f.now)
	if err != nil {
		t.Fatal(err)
	}
	if want := f.now.Add(time.Minute); !mark.When.Equal(want) {
		t.Fatalf("clamped to %v, want %v", mark.When, want)
	}
}

func TestAutoCheckoutDisabled(t *testing.T) {
	f := newFixture(t, &fakeExecutor{}, func(o *Options) { o.AutoCheckoutDelay = 0 })
	if _, err := f.mgr.ScheduleAutoCheckout(f.now); !errors.Is(err, ErrAutoCheckoutDisabled) {
		t.Fatalf("got %v, want ErrAutoCheckoutDisabled", err)
	}
}

func TestCancelByAction(t *testing.T) {
	f := newFixture(t, &fakeExecutor{}, nil)
	f.mgr.Schedule(ActionCheckIn, f.now.Add(time.Hour))
	f.mgr.Schedule(ActionCheckOut, f.now.Add(2*time.Hour))
	f.mgr.Schedule(ActionCheckOut, f.now.Add(3*time.Hour))

	if n := f.mgr.CancelByAction(ActionCheckOut); n != 2 {
		t.Fatalf("cancelled %d, want 2", n)
	}
	rest := f.mgr.ListPending()
	if len(rest) != 1 || rest[0].Action != ActionCheckIn {
		t.Fatalf("unexpected remaining marks: %+v", rest)
	}
	if saved := f.store.Load(); len(saved) != 1 {
		t.Fatalf("snapshot not rewritten after cancel: %+v", saved)
	}
}

func TestCancelAllPersistsEmptySnapshot(t *testing.T) {
	f := newFixture(t, &fakeExecutor{}, nil)
	f.mgr.Schedule(ActionCheckIn, f.now.Add(time.Hour))
	if n := f.mgr.CancelAll(); n != 1 {
		t.Fatalf("cancelled %d, want 1", n)
	}
	if f.mgr.HasPending() {
		t.Fatal("still pending after CancelAll")
	}
	if saved := f.store.Load(); len(saved) != 0 {
		t.Fatalf("snapshot not emptied: %+v", saved)
	}
}

func TestDueMarkRemovedBeforeExecutorRuns(t *testing.T) {
	exec := &fakeExecutor{
		result:  fichador.Result{Success: true, Message: "Entrada registrada a las 08:00"},
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	f := newFixture(t, exec, nil)
	mark, err := f.mgr.Schedule(ActionCheckIn, f.now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	f.mgr.runDue(mark.ID)

	select {
	case <-exec.started:
	case <-time.After(2 * time.Second):
		t.Fatal("executor never started")
	}
	// Removed and persisted while the executor is still running.
	if f.mgr.HasPending() {
		t.Fatal("mark still pending during execution")
	}
	if saved := f.store.Load(); len(saved) != 0 {
		t.Fatalf("snapshot still holds the mark: %+v", saved)
	}

	close(exec.release)
	f.expectMessage(t, "Marcaje programado de entrada ejecutado")
	f.expectMessage(t, "Salida automática programada")

	// The chained salida is pending and persisted.
	rest := f.mgr.ListPending()
	if len(rest) != 1 || rest[0].Action != ActionCheckOut {
		t.Fatalf("expected chained salida, got %+v", rest)
	}
}

func TestDueUnknownMarkIsNoOp(t *testing.T) {
	exec := &fakeExecutor{started: make(chan string, 1)}
	f := newFixture(t, exec, nil)
	f.mgr.runDue("never-scheduled")
	select {
	case a := <-exec.started:
		t.Fatalf("executor ran %q for unknown mark", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduledFailureDoesNotChainCheckout(t *testing.T) {
	exec := &fakeExecutor{result: fichador.Result{Success: false, Message: "Portal no disponible"}}
	f := newFixture(t, exec, nil)
	mark, _ := f.mgr.Schedule(ActionCheckIn, f.now.Add(time.Hour))

	f.mgr.runDue(mark.ID)
	f.expectMessage(t, "no se completó")
	if f.mgr.HasPending() {
		t.Fatal("unexpected chained mark after failed entrada")
	}
}

func TestPerformNowReportsOnLoop(t *testing.T) {
	exec := &fakeExecutor{result: fichador.Result{Success: true, Message: "Salida registrada"}}
	f := newFixture(t, exec, nil)

	done := make(chan fichador.Result, 1)
	f.mgr.PerformNow(ActionCheckOut, func(res fichador.Result, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- res
	})
	select {
	case res := <-done:
		if !res.Success || res.Message != "Salida registrada" {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("done callback never ran")
	}
}
