package fichador

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	logx "github.com/nonari/fichajes/pkg/logx"
)

func writeHelper(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("helper scripts are POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "helper.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPerformDecodesResult(t *testing.T) {
	helper := writeHelper(t, `echo '{"success":true,"action":"entrada","message":"ok a las 08:01"}'`)
	e, err := NewCommandExecutor(helper, time.Minute, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Perform(context.Background(), "entrada")
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if !res.Success || res.Action != "entrada" || res.Message != "ok a las 08:01" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPerformRejectsUnknownAction(t *testing.T) {
	e, err := NewCommandExecutor("/bin/true", time.Minute, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Perform(context.Background(), "pausa"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestPerformSurfacesHelperFailure(t *testing.T) {
	helper := writeHelper(t, `echo "login failed" >&2; exit 3`)
	e, err := NewCommandExecutor(helper, time.Minute, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Perform(context.Background(), "salida"); err == nil {
		t.Fatal("expected error from failing helper")
	}
}

func TestTodayRecordsDecodesList(t *testing.T) {
	helper := writeHelper(t, `echo '[{"entrada":"08:01","salida":"-"}]'`)
	e, err := NewCommandExecutor(helper, time.Minute, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	records, err := e.TodayRecords(context.Background())
	if err != nil {
		t.Fatalf("TodayRecords: %v", err)
	}
	if len(records) != 1 || records[0].Entrada != "08:01" || records[0].Salida != "-" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestNewCommandExecutorRequiresCommand(t *testing.T) {
	if _, err := NewCommandExecutor("  ", time.Minute, logx.Nop()); err == nil {
		t.Fatal("expected error for empty command")
	}
}
