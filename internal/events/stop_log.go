package events

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StopLog is the append-only station record file. Each record is one line;
// once the file would exceed maxBytes it is renamed to <path>.1 and restarted.
type StopLog struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	size     int64
}

func NewStopLog(path string, maxBytes int64) (*StopLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create stop log directory: %w", err)
	}
	l := &StopLog{path: path, maxBytes: maxBytes}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *StopLog) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open stop log: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat stop log: %w", err)
	}
	l.file = f
	l.size = stat.Size()
	return nil
}

// Append writes one record line.
func (l *StopLog) Append(record string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("stop log is closed")
	}
	line := record + "\n"
	if l.maxBytes > 0 && l.size > 0 && l.size+int64(len(line)) > l.maxBytes {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	n, err := l.file.WriteString(line)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("write stop log: %w", err)
	}
	return nil
}

func (l *StopLog) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close stop log: %w", err)
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return fmt.Errorf("rotate stop log: %w", err)
	}
	return l.open()
}

func (l *StopLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
