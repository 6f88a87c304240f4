package refine

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/plan"
)

// LogFile is the backup log name inside plan.BackupDir.
const LogFile = "refinements.jsonl"

// Snapshot is one backup log line: the unit as it was before a refinement
// or rollback overwrote it.
type Snapshot struct {
	ID           string    `json:"id"`
	UnitIndex    int       `json:"unit_index"`
	Timestamp    time.Time `json:"timestamp"`
	Feedback     string    `json:"feedback"`
	PreviousUnit plan.Unit `json:"previous_unit"`
}

// BackupLog is the append-only snapshot history of one project directory.
type BackupLog struct {
	path string
	mu   sync.Mutex
}

// OpenBackupLog returns the log for a project directory. Nothing is created
// until the first Append.
func OpenBackupLog(dir string) *BackupLog {
	return &BackupLog{path: filepath.Join(dir, plan.BackupDir, LogFile)}
}

// Path returns the file backing this log.
func (l *BackupLog) Path() string { return l.path }

// Append writes one snapshot line and syncs it to disk before returning.
func (l *BackupLog) Append(s Snapshot) error {
	line, err := json.Marshal(s)
	if err != nil {
		return perrors.Persistence("encode snapshot", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return perrors.Persistence("create backup dir", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return perrors.Persistence("open backup log", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return perrors.Persistence("append snapshot", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return perrors.Persistence("sync backup log", err)
	}
	if err := f.Close(); err != nil {
		return perrors.Persistence("close backup log", err)
	}
	return nil
}

// Entries returns every snapshot in append order. A missing log is empty.
// Lines that fail to decode, such as a write torn by a crash, are skipped.
func (l *BackupLog) Entries() ([]Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, perrors.Persistence("open backup log", err)
	}
	defer f.Close()

	var out []Snapshot
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var s Snapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, perrors.Persistence("read backup log", fmt.Errorf("%s: %w", l.path, err))
	}
	return out, nil
}

// ForUnit returns the snapshots of one unit, oldest first.
func (l *BackupLog) ForUnit(index int) ([]Snapshot, error) {
	all, err := l.Entries()
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, s := range all {
		if s.UnitIndex == index {
			out = append(out, s)
		}
	}
	return out, nil
}
