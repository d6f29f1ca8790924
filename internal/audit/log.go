// Package audit implements the append-only JSON Lines audit trail.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/metrics"
	"github.com/clawbridge/clawbridge/internal/models"
)

const (
	// MaxQueryEntries caps how many entries a single query returns.
	MaxQueryEntries = 500

	// MaxEntrySize caps one serialized entry. Larger entries lose their
	// parameters and keep a truncation marker instead.
	MaxEntrySize = 16 << 10

	defaultQueryLimit = 200
	maxLineSize       = 1 << 20
	maxErrorLen       = 1024
)

// Log is a single-file audit trail. Every read and write holds mu for its
// whole duration so writers never interleave and readers see whole lines.
type Log struct {
	mu      sync.Mutex
	path    string
	log     *logrus.Logger
	now     func() time.Time
	enabled func() bool
	last    time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithEnabled makes recording conditional on the returned flag.
func WithEnabled(enabled func() bool) Option {
	return func(l *Log) { l.enabled = enabled }
}

// New creates a Log writing to path. The parent directory is created if missing.
func New(path string, log *logrus.Logger, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	l := &Log{
		path:    path,
		log:     log,
		now:     time.Now,
		enabled: func() bool { return true },
	}
	for _, opt := range opts {
		opt(l)
	}

	// Resume the monotonic clock from an existing trail.
	err := l.scan(func(_ []byte, e *models.AuditEntry) {
		if e.Timestamp.After(l.last) {
			l.last = e.Timestamp
		}
	})
	if err != nil {
		return nil, err
	}

	return l, nil
}

// Record appends one entry. It never fails the caller: I/O errors are logged
// and counted. The timestamp is assigned here and never goes backwards.
func (l *Log) Record(_ context.Context, entry models.AuditEntry) {
	if !l.enabled() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC()
	if ts.Before(l.last) {
		ts = l.last
	}
	entry.Timestamp = ts

	line, err := marshalEntry(entry)
	if err != nil {
		l.writeFailed(err, entry)
		return
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		l.writeFailed(err, entry)
		return
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		l.writeFailed(err, entry)
		return
	}

	l.last = ts
}

// marshalEntry serializes entry as one newline-terminated line no larger
// than MaxEntrySize.
func marshalEntry(entry models.AuditEntry) ([]byte, error) {
	line, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	if len(line) > MaxEntrySize {
		entry.Parameters = map[string]any{"truncated": true, "original_size": len(line)}
		if len(entry.Error) > maxErrorLen {
			entry.Error = entry.Error[:maxErrorLen]
		}

		if line, err = json.Marshal(entry); err != nil {
			return nil, err
		}
	}

	return append(line, '\n'), nil
}

func (l *Log) writeFailed(err error, entry models.AuditEntry) {
	metrics.AuditWriteFailures.Inc()
	l.log.WithError(err).WithFields(logrus.Fields{
		"event_type": entry.EventType,
		"entity_id":  entry.EntityID,
	}).Error("audit write failed")
}

// Query returns entries matching filter, newest first. The result never
// exceeds MaxQueryEntries regardless of the requested limit.
func (l *Log) Query(_ context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > MaxQueryEntries {
		limit = MaxQueryEntries
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []models.AuditEntry
	err := l.scan(func(_ []byte, e *models.AuditEntry) {
		if matches(e, &filter) {
			matched = append(matched, *e)
		}
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.AuditEntry, 0, min(limit, len(matched)))
	for i := len(matched) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, matched[i])
	}

	return out, nil
}

func matches(e *models.AuditEntry, f *models.AuditFilter) bool {
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}

	if f.Result != "" && e.Result != f.Result {
		return false
	}

	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}

	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}

	return true
}

// Clear removes every entry.
func (l *Log) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing audit log: %w", err)
	}

	return nil
}

// eachLine calls fn with every non-empty line in file order, without its
// trailing newline. Must be called with mu held.
func (l *Log) eachLine(fn func(raw []byte)) error {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if raw := bytes.TrimSuffix(line, []byte("\n")); len(bytes.TrimSpace(raw)) > 0 {
			fn(raw)
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading audit log: %w", err)
		}
	}
}

// scan calls fn for every parseable line in file order. Malformed and
// oversized lines are skipped. Must be called with mu held.
func (l *Log) scan(fn func(raw []byte, e *models.AuditEntry)) error {
	return l.eachLine(func(raw []byte) {
		if len(raw) > maxLineSize {
			return
		}

		var e models.AuditEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return
		}

		fn(raw, &e)
	})
}
