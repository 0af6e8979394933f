package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// DecodeFrames reads a JSONL stream of frames. Frames must be in clock order.
func DecodeFrames(r io.Reader) ([]Frame, error) {
	decoder := json.NewDecoder(r)
	var frames []Frame
	for decoder.More() {
		var f Frame
		if err := decoder.Decode(&f); err != nil {
			return nil, fmt.Errorf("frame %d: %w", len(frames), err)
		}
		if n := len(frames); n > 0 && f.Clock < frames[n-1].Clock {
			return nil, fmt.Errorf("frame %d: clock %.3f goes backwards from %.3f", n, f.Clock, frames[n-1].Clock)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// LoadFrames reads a JSONL telemetry recording from path.
func LoadFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry %s: %w", path, err)
	}
	defer file.Close()

	frames, err := DecodeFrames(file)
	if err != nil {
		return nil, fmt.Errorf("decode telemetry %s: %w", path, err)
	}
	return frames, nil
}

// ParseFrame decodes a single JSONL line.
func ParseFrame(line []byte) (Frame, error) {
	var f Frame
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return f, fmt.Errorf("empty frame")
	}
	if err := json.Unmarshal(line, &f); err != nil {
		return f, fmt.Errorf("parse frame: %w", err)
	}
	return f, nil
}
