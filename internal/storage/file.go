package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"deliveryd/internal/event"
	logx "deliveryd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.active.json                (rewritten on every save)
//   - <prefix>.schedules.snapshot.json    (periodic snapshot)
//   - <prefix>.schedules.journal.jsonl    (append-only journal)
//   - <prefix>.results.jsonl              (append-only JSON Lines)
//
// The schedule journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	activePath string

	resultsPath string
	resultsFile *os.File

	schedSnapshotPath string
	schedJournalFile  *os.File
	schedules         map[string]ScheduleRecord

	schedWrites int
	compactAt   int
}

type scheduleOp struct {
	Op     string          `json:"op"` // "put" or "del"
	ID     string          `json:"id"`
	Record *ScheduleRecord `json:"record,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	resultsPath := prefix + ".results.jsonl"
	snapPath := prefix + ".schedules.snapshot.json"
	journalPath := prefix + ".schedules.journal.jsonl"

	rf, err := os.OpenFile(resultsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	schedules := map[string]ScheduleRecord{}
	if err := loadScheduleSnapshot(snapPath, schedules); err != nil && !os.IsNotExist(err) {
		log.Warn("schedule snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := replayScheduleJournal(journalPath, schedules); err != nil && !os.IsNotExist(err) {
		log.Warn("schedule journal replay failed", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:               log,
		activePath:        prefix + ".active.json",
		resultsPath:       resultsPath,
		resultsFile:       rf,
		schedSnapshotPath: snapPath,
		schedJournalFile:  jf,
		schedules:         schedules,
		compactAt:         500,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.schedJournalFile != nil {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("schedule compact on close failed", logx.Err(err))
		}
		err1 = s.schedJournalFile.Close()
		s.schedJournalFile = nil
	}
	if s.resultsFile != nil {
		err2 = s.resultsFile.Close()
		s.resultsFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) SaveActiveEvents(ctx context.Context, events []event.Snapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultsFile == nil {
		return ErrClosed
	}
	if events == nil {
		events = []event.Snapshot{}
	}
	return writeJSONAtomic(s.activePath, events)
}

func (s *fileStore) LoadActiveEvents(ctx context.Context) ([]event.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.activePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []event.Snapshot
	if err := json.NewDecoder(f).Decode(&out); err != nil {
		return nil, err
	}
	sortSnapshots(out)
	return out, nil
}

func (s *fileStore) PutSchedule(ctx context.Context, rec ScheduleRecord) error {
	_ = ctx
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[rec.ID] = rec
	return s.journalLocked(scheduleOp{Op: "put", ID: rec.ID, Record: &rec})
}

func (s *fileStore) DeleteSchedule(ctx context.Context, id string) error {
	_ = ctx
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return nil
	}
	delete(s.schedules, id)
	return s.journalLocked(scheduleOp{Op: "del", ID: id})
}

func (s *fileStore) LoadSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleRecord, 0, len(s.schedules))
	for _, r := range s.schedules {
		out = append(out, r)
	}
	sortSchedules(out)
	return out, nil
}

func (s *fileStore) journalLocked(op scheduleOp) error {
	if s.schedJournalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.schedJournalFile).Encode(op); err != nil {
		return err
	}
	s.schedWrites++
	if s.schedWrites%s.compactAt == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("schedule compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	if err := writeJSONAtomic(s.schedSnapshotPath, s.schedules); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.schedJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.schedJournalFile.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) AppendResult(ctx context.Context, res event.Result) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultsFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.resultsFile).Encode(res)
}

func (s *fileStore) RecentResults(ctx context.Context, id string, limit int) ([]event.Result, error) {
	_ = ctx
	limit = normLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.resultsPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Keep the last `limit` matches in a ring, then reverse.
	ring := make([]event.Result, 0, limit)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r event.Result
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if id != "" && r.ID != id {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, r)
			continue
		}
		ring[next] = r
		next = (next + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]event.Result, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadScheduleSnapshot(path string, out map[string]ScheduleRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]ScheduleRecord
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayScheduleJournal(path string, out map[string]ScheduleRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var op scheduleOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			continue
		}
		switch {
		case op.ID == "":
		case op.Op == "del":
			delete(out, op.ID)
		case op.Op == "put" && op.Record != nil:
			out[op.ID] = *op.Record
		}
	}
	return sc.Err()
}
