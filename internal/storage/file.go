package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "github.com/nonari/fichajes/pkg/logx"
)

// fileStore is a dependency-free journal backend writing one JSON object
// per line to <prefix>.executions.jsonl.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	file *os.File
}

type executionRecord struct {
	At           string `json:"at"`
	Action       string `json:"action"`
	ScheduledFor string `json:"scheduled_for,omitempty"`
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Manual       bool   `json:"manual,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	journalPath := filepath.Join(dir, base) + ".executions.jsonl"
	f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, file: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) AppendExecution(ctx context.Context, e ExecutionEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("execution journal closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	rec := executionRecord{
		At:      e.At.Format(time.RFC3339),
		Action:  e.Action,
		Success: e.Success,
		Message: e.Message,
		Manual:  e.Manual,
	}
	if !e.ScheduledFor.IsZero() {
		rec.ScheduledFor = e.ScheduledFor.Format(time.RFC3339)
	}
	return json.NewEncoder(s.file).Encode(rec)
}
