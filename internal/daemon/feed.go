package daemon

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/msageha/railscript/internal/replay"
)

// feedTail reads frames appended to a JSONL telemetry feed since the last read.
type feedTail struct {
	path    string
	offset  int64
	partial []byte
}

func newFeedTail(path string) *feedTail {
	return &feedTail{path: path}
}

// badLine is a feed line that could not be decoded.
type badLine struct {
	offset int64
	err    error
}

// readNew returns the complete lines appended since the previous call, decoded
// as frames. A trailing line without a newline is kept for the next call. A
// feed that shrank is treated as truncated and read again from the start.
func (t *feedTail) readNew() ([]replay.Frame, []badLine, error) {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("stat feed: %w", err)
	}
	if info.Size() < t.offset {
		t.offset = 0
		t.partial = nil
	}
	if info.Size() == t.offset {
		return nil, nil, nil
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("seek feed: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(f, info.Size()-t.offset))
	if err != nil {
		return nil, nil, fmt.Errorf("read feed: %w", err)
	}

	lineStart := t.offset - int64(len(t.partial))
	t.offset += int64(len(data))
	buf := append(t.partial, data...)
	t.partial = nil

	var frames []replay.Frame
	var bad []badLine
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := buf[:i]
		buf = buf[i+1:]
		if len(bytes.TrimSpace(line)) > 0 {
			frame, err := replay.ParseFrame(line)
			if err != nil {
				bad = append(bad, badLine{offset: lineStart, err: err})
			} else {
				frames = append(frames, frame)
			}
		}
		lineStart += int64(i + 1)
	}
	if len(buf) > 0 {
		t.partial = append([]byte(nil), buf...)
	}
	return frames, bad, nil
}
