package fichador

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	logx "github.com/nonari/fichajes/pkg/logx"
)

// CommandExecutor drives the portal through an external helper command:
//
//	<command> marcar <entrada|salida>   -> {"success":bool,"action":...,"message":...}
//	<command> marcajes                  -> [{"entrada":"08:01","salida":"-"}, ...]
//
// The helper owns the headless-browser session; a non-zero exit or
// undecodable output surfaces as an executor error.
type CommandExecutor struct {
	command string
	timeout time.Duration
	log     logx.Logger
}

func NewCommandExecutor(command string, timeout time.Duration, log logx.Logger) (*CommandExecutor, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("portal command is empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandExecutor{command: command, timeout: timeout, log: log}, nil
}

func (e *CommandExecutor) Perform(ctx context.Context, action string) (Result, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	if action != "entrada" && action != "salida" {
		return Result{}, fmt.Errorf("unknown check-in action %q", action)
	}

	e.log.Info("running portal helper", logx.String("action", action))
	out, err := e.run(ctx, "marcar", action)
	if err != nil {
		return Result{}, err
	}

	var res Result
	if err := json.Unmarshal(out, &res); err != nil {
		return Result{}, fmt.Errorf("portal helper output: %w", err)
	}
	if res.Action == "" {
		res.Action = action
	}
	e.log.Info("portal helper finished",
		logx.String("action", action), logx.Bool("success", res.Success))
	return res, nil
}

func (e *CommandExecutor) TodayRecords(ctx context.Context) ([]Record, error) {
	out, err := e.run(ctx, "marcajes")
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(out, &records); err != nil {
		return nil, fmt.Errorf("portal helper output: %w", err)
	}
	return records, nil
}

func (e *CommandExecutor) run(ctx context.Context, args ...string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("portal helper timed out after %s", e.timeout)
		}
		return nil, fmt.Errorf("portal helper: %s", msg)
	}
	return bytes.TrimSpace(stdout.Bytes()), nil
}
