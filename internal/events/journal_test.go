package events

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestJournal(t *testing.T, maxSize int64) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "journal.jsonl")
	j, err := NewJournal(path, maxSize)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j, path
}

func TestNewJournal_CreatesDirectory(t *testing.T) {
	_, path := newTestJournal(t, 0)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("journal file was not created: %v", err)
	}
}

func TestJournal_RecordLiftsKnownKeys(t *testing.T) {
	j, path := newTestJournal(t, 0)

	err := j.Record(Event{
		Type:      EventStationArrived,
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"run_id":   "run_1771722000_a3f2b7c1",
			"event_id": 4,
			"station":  "Hilltop",
			"clock_s":  28800.5,
			"task":     2,
		},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := ReadJournal(path)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.EventType != string(EventStationArrived) {
		t.Errorf("event_type: got %s", e.EventType)
	}
	if e.RunID != "run_1771722000_a3f2b7c1" || e.Station != "Hilltop" {
		t.Errorf("lifted fields: got %+v", e)
	}
	if e.EventID == nil || *e.EventID != 4 {
		t.Errorf("event_id: got %v", e.EventID)
	}
	if e.ClockS == nil || *e.ClockS != 28800.5 {
		t.Errorf("clock_s: got %v", e.ClockS)
	}
	if len(e.Details) != 1 || e.Details["task"] != float64(2) {
		t.Errorf("details: got %v", e.Details)
	}
}

func TestJournal_ConcurrentWrites(t *testing.T) {
	j, path := newTestJournal(t, 0)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := j.Record(Event{Type: EventConditionFired, Data: map[string]interface{}{"event_id": g*10 + i}}); err != nil {
					t.Errorf("Record: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	entries, err := ReadJournal(path)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(entries) != 80 {
		t.Errorf("expected 80 entries, got %d", len(entries))
	}
}

func TestJournal_Rotation(t *testing.T) {
	j, path := newTestJournal(t, 512)

	for i := 0; i < 50; i++ {
		err := j.Record(Event{Type: EventStationDeparted, Data: map[string]interface{}{
			"station": fmt.Sprintf("Station %d with a fairly long name", i),
		}})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	files, err := os.ReadDir(filepath.Join(filepath.Dir(path), ArchiveDir))
	if err != nil || len(files) == 0 {
		t.Fatal("journal was not rotated")
	}
	for _, f := range files {
		if !strings.HasPrefix(f.Name(), "journal.") || !strings.HasSuffix(f.Name(), JournalFileExtension) {
			t.Errorf("unexpected archive name %s", f.Name())
		}
	}
	if j.Size() > 512 {
		t.Errorf("current journal exceeds max size: %d", j.Size())
	}
}

func TestJournal_Checksum(t *testing.T) {
	j, path := newTestJournal(t, 0)
	j.EnableChecksum(true)

	for i := 0; i < 3; i++ {
		if err := j.Record(Event{Type: EventAcknowledged, Data: map[string]interface{}{"event_id": i}}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	total, valid, err := VerifyJournal(path)
	if err != nil {
		t.Fatalf("VerifyJournal: %v", err)
	}
	if total != 3 || valid != 3 {
		t.Errorf("expected 3/3 valid entries, got %d/%d", valid, total)
	}

	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), `"event_acknowledged"`, `"event_tampered"`, 1)
	os.WriteFile(path, []byte(tampered), 0644)

	total, valid, err = VerifyJournal(path)
	if err != nil {
		t.Fatalf("VerifyJournal: %v", err)
	}
	if total != 3 || valid != 2 {
		t.Errorf("expected 2/3 valid entries after tampering, got %d/%d", valid, total)
	}
}

func TestJournal_ReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	first, err := NewJournal(path, 0)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	for i := 0; i < 3; i++ {
		first.Record(Event{Type: EventConditionFired, Data: map[string]interface{}{"event_id": i}})
	}
	first.Close()

	second, err := NewJournal(path, 0)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer second.Close()
	if second.Size() == 0 {
		t.Error("reopened journal should report the existing size")
	}
	second.Record(Event{Type: EventActivityCompleted, Data: map[string]interface{}{"success": true}})

	entries, err := ReadJournal(path)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[3].Details["success"] != true {
		t.Errorf("last entry details: %v", entries[3].Details)
	}
}

func TestJournal_WriteAfterClose(t *testing.T) {
	j, _ := newTestJournal(t, 0)
	j.Close()
	if err := j.Record(Event{Type: EventConditionFired}); err == nil {
		t.Error("expected error writing to a closed journal")
	}
}
