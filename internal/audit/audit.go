// Package audit writes the append-only transaction log. Each line is a
// timestamp, an event keyword and space-separated key=value fields.
package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	EventBegin    = "BEGIN"
	EventStep     = "STEP"
	EventCommand  = "CMD"
	EventUndo     = "UNDO"
	EventCommit   = "COMMIT"
	EventRollback = "ROLLBACK"
	EventBackup   = "BACKUP"
)

// Recorder is implemented by anything that accepts audit events.
type Recorder interface {
	Record(event string, fields ...Field)
}

type Field struct {
	Key   string
	Value string
}

func F(key string, value interface{}) Field {
	return Field{Key: key, Value: fmt.Sprint(value)}
}

type Log struct {
	mu    sync.Mutex
	w     io.Writer
	close func() error
	now   func() time.Time
}

// Open opens path for appending, creating parent directories as needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	l := New(f)
	l.close = f.Close
	return l, nil
}

func New(w io.Writer) *Log {
	return &Log{w: w, now: time.Now}
}

// WithClock replaces the timestamp source; used by tests.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

func (l *Log) Record(event string, fields ...Field) {
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString(l.now().UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(event)
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(quote(f.Value))
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, b.String())
}

func (l *Log) Close() error {
	if l == nil || l.close == nil {
		return nil
	}
	return l.close()
}

func quote(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		return strconv.Quote(v)
	}
	return v
}

// Discard drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(string, ...Field) {}
