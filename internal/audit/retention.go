package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/clawbridge/clawbridge/internal/models"
)

const retentionInterval = 24 * time.Hour

// Retain drops entries older than days and returns how many lines were
// removed. Surviving lines keep their exact bytes and order, including lines
// that cannot be parsed. The file is replaced atomically.
func (l *Log) Retain(_ context.Context, days int) (int, error) {
	if days < 1 {
		return 0, fmt.Errorf("%w: retention days must be at least 1", models.ErrInvalidRequest)
	}

	cutoff := l.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.path); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	var (
		kept  [][]byte
		total int
	)
	err := l.eachLine(func(raw []byte) {
		total++

		var e struct {
			Timestamp time.Time `json:"timestamp"`
		}
		if len(raw) <= maxLineSize && json.Unmarshal(raw, &e) == nil && e.Timestamp.Before(cutoff) {
			return
		}

		kept = append(kept, append([]byte(nil), raw...))
	})
	if err != nil {
		return 0, err
	}

	removed := total - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if err := l.rewrite(kept); err != nil {
		return 0, err
	}

	return removed, nil
}

// rewrite replaces the trail with lines. Must be called with mu held.
func (l *Log) rewrite(lines [][]byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".audit-*.jsonl")
	if err != nil {
		return fmt.Errorf("creating temp audit file: %w", err)
	}
	tmpName := tmp.Name()

	for _, line := range lines {
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpName)

			return fmt.Errorf("writing temp audit file: %w", err)
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp audit file: %w", err)
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing audit file: %w", err)
	}

	return nil
}

// RunRetention applies the retention window once at start and then daily
// until ctx is cancelled. days is re-read on every pass.
func (l *Log) RunRetention(ctx context.Context, days func() int) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		removed, err := l.Retain(ctx, days())
		if err != nil {
			l.log.WithError(err).Warn("audit retention failed")
		} else if removed > 0 {
			l.log.WithField("removed", removed).Info("audit retention applied")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
