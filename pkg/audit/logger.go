package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/newtron-network/nbseed/pkg/util"
)

// Logger receives one event per object a run touched.
type Logger interface {
	Log(event *Event) error
}

// RotationConfig bounds the size of the log.
type RotationConfig struct {
	MaxSize    int64 // bytes before the file is rotated; 0 never rotates
	MaxBackups int   // rotated files kept; 0 keeps all
}

// backupSuffix sorts lexically in time order.
const backupSuffix = "20060102-150405.000000000"

// FileLogger appends events as JSON lines. Rotated files sit next to the
// live one as <path>.<timestamp> and are still read by Query.
type FileLogger struct {
	path     string
	rotation RotationConfig

	mu   sync.Mutex
	file *os.File
	size int64
}

// DefaultPath returns ~/.nbseed/audit.jsonl.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "nbseed_audit.jsonl"
	}
	return filepath.Join(home, ".nbseed", "audit.jsonl")
}

// NewFileLogger opens path for appending, creating it and its directory.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	l := &FileLogger{path: path, rotation: rotation}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("opening audit log: %w", err)
	}
	l.file, l.size = f, info.Size()
	return nil
}

// Log appends event, rotating first once the file has reached MaxSize. A
// failed rotation is logged and the event still written.
func (l *FileLogger) Log(event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("audit log is closed")
	}
	if l.rotation.MaxSize > 0 && l.size >= l.rotation.MaxSize {
		if err := l.rotate(); err != nil {
			util.Warnf("audit: rotating %s: %v", l.path, err)
		}
	}
	n, err := l.file.Write(line)
	l.size += int64(n)
	return err
}

func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// rename is swapped out by tests.
var rename = os.Rename

// rotate moves the live file aside and opens a fresh one at path. The old
// handle is only dropped once the new one is open, so a failed rotation
// leaves the logger writing where it was.
func (l *FileLogger) rotate() error {
	if err := rename(l.path, l.path+"."+time.Now().Format(backupSuffix)); err != nil {
		return err
	}
	old, oldSize := l.file, l.size
	if err := l.open(); err != nil {
		l.file, l.size = old, oldSize
		return err
	}
	if err := old.Close(); err != nil {
		util.Warnf("audit: closing rotated log: %v", err)
	}
	if l.rotation.MaxBackups > 0 {
		backups, _ := l.backups()
		for len(backups) > l.rotation.MaxBackups {
			if err := os.Remove(backups[0]); err != nil {
				util.Warnf("audit: removing old log %s: %v", backups[0], err)
			}
			backups = backups[1:]
		}
	}
	return nil
}

// backups lists rotated files oldest first.
func (l *FileLogger) backups() ([]string, error) {
	matches, err := filepath.Glob(l.path + ".*")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Query returns the events matching filter in write order, reading rotated
// files before the live one. Malformed lines are skipped with a warning.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := l.backups()
	if err != nil {
		return nil, err
	}
	files = append(files, l.path)

	events := []*Event{}
	for _, path := range files {
		err := scanFile(path, func(e *Event) {
			if filter.matches(e) {
				events = append(events, e)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return page(events, filter.Offset, filter.Limit), nil
}

func scanFile(path string, fn func(*Event)) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			util.Warnf("audit: %s:%d: skipping malformed entry: %v", filepath.Base(path), n, err)
			continue
		}
		fn(&e)
	}
	return sc.Err()
}

func (f Filter) matches(e *Event) bool {
	switch {
	case f.RunID != "" && e.RunID != f.RunID,
		f.NetBox != "" && e.NetBox != f.NetBox,
		f.Step != "" && e.Step != f.Step,
		f.Kind != "" && e.Kind != f.Kind,
		f.Key != "" && e.Key != f.Key,
		f.State != "" && e.State != f.State:
		return false
	case !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime),
		!f.EndTime.IsZero() && e.Timestamp.After(f.EndTime):
		return false
	case f.SuccessOnly && !e.Success,
		f.FailureOnly && e.Success:
		return false
	}
	return true
}

func page(events []*Event, offset, limit int) []*Event {
	if offset >= len(events) {
		return []*Event{}
	}
	events = events[offset:]
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}
