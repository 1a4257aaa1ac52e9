package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackupStrategy is the last line of defense when both the primary send
// and the dead-letter send failed.
type BackupStrategy interface {
	Store(ctx context.Context, p DeadLetterPayload) error
}

// FileBackup appends dead-letter payloads as JSON lines to a daily file.
// Local disk is the one dependency still standing when both the broker and
// the DLQ are down.
type FileBackup struct {
	dir    string
	logger *zap.SugaredLogger

	mu sync.Mutex
}

func NewFileBackup(dir string, logger *zap.SugaredLogger) (*FileBackup, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackup{dir: dir, logger: logger}, nil
}

func (b *FileBackup) Store(ctx context.Context, p DeadLetterPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal backup payload: %w", err)
	}
	line = append(line, '\n')

	name := filepath.Join(b.dir, time.Now().UTC().Format("2006-01-02")+".jsonl")

	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync backup: %w", err)
	}

	b.logger.Warnw("event stored in local backup", "event", p.EventID, "file", name)
	return nil
}
