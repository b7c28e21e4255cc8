package marks

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	logx "github.com/nonari/fichajes/pkg/logx"
)

var errEmptyID = errors.New("empty mark id")

// naiveLayout accepts timestamps written without a zone offset; they are
// interpreted in the configured civil zone.
const naiveLayout = "2006-01-02T15:04:05"

// Store persists the schedule snapshot as a JSON array. Every mutation of
// the in-memory schedule is followed by a full rewrite; the file is small
// (a handful of marks) so snapshots beat journaling here.
type Store struct {
	path string
	loc  *time.Location
	log  logx.Logger
}

type markRecord struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	When   string `json:"when"`
}

func NewStore(path string, loc *time.Location, log logx.Logger) *Store {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{path: path, loc: loc, log: log}
}

// Save writes the full schedule atomically (temp file + rename). Marks are
// written sorted by time so the file is stable and diffable.
func (s *Store) Save(marks []Mark) error {
	sorted := append([]Mark(nil), marks...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].When.Equal(sorted[j].When) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].When.Before(sorted[j].When)
	})

	records := make([]markRecord, 0, len(sorted))
	for _, m := range sorted {
		records = append(records, markRecord{
			ID: m.ID,
			Action:     string(m.Action),
			When:       m.When.In(s.loc).Format(time.RFC3339),
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return s.writeAtomic(data)
}

// Load reads the schedule snapshot. It never fails: a missing file yields
// an empty schedule, and a malformed file is logged, rewritten as an empty
// array and treated as empty. Individual bad entries are skipped.
func (s *Store) Load() []Mark {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("schedule file unreadable, starting empty",
				logx.String("path", s.path), logx.Err(err))
			s.reset()
		}
		return nil
	}

	var records []markRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.Warn("schedule file malformed, resetting",
			logx.String("path", s.path), logx.Err(err))
		s.reset()
		return nil
	}

	marks := make([]Mark, 0, len(records))
	for _, r := range records {
		m, err := s.decode(r)
		if err != nil {
			s.log.Warn("skipping bad schedule entry",
				logx.String("id", r.ID), logx.Err(err))
			continue
		}
		marks = append(marks, m)
	}
	return marks
}

func (s *Store) decode(r markRecord) (Mark, error) {
	action, err := ParseAction(r.Action)
	if err != nil {
		return Mark{}, err
	}
	when, err := s.parseWhen(r.When)
	if err != nil {
		return Mark{}, err
	}
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return Mark{}, errEmptyID
	}
	return Mark{ID: id, Action: action, When: when}, nil
}

func (s *Store) parseWhen(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(s.loc), nil
	}
	// Older snapshots carry naive timestamps.
	return time.ParseInLocation(naiveLayout, v, s.loc)
}

func (s *Store) reset() {
	if err := s.writeAtomic([]byte("[]")); err != nil {
		s.log.Error("could not reset schedule file",
			logx.String("path", s.path), logx.Err(err))
	}
}

func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
