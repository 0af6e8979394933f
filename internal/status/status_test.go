package status

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/msageha/railscript/internal/daemon"
	"github.com/msageha/railscript/internal/model"
	"github.com/msageha/railscript/internal/snapshot"
)

func saveSnapshot(t *testing.T, dir, runID string, completed bool) {
	t.Helper()
	store := snapshot.NewFileStore(filepath.Join(dir, "snapshots"), nil)
	err := store.Save(&model.ActivitySnapshot{
		SchemaVersion: model.SnapshotSchemaVersion,
		FileType:      model.SnapshotFileType,
		RunID:         runID,
		Mission:       "Local service",
		SavedAt:       "2026-01-01T10:00:00Z",
		Completed:     completed,
	})
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
}

func TestListSnapshots(t *testing.T) {
	dir := t.TempDir()
	saveSnapshot(t, dir, "run_1700000000_0a1b2c3d", false)
	saveSnapshot(t, dir, "run_1700000100_deadbeef", true)

	cfg := model.Config{}
	cfg.ApplyDefaults()
	infos, err := listSnapshots(dir, cfg.Snapshot)
	if err != nil {
		t.Fatalf("listSnapshots: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(infos))
	}
	for _, info := range infos {
		if info.Mission != "Local service" {
			t.Errorf("mission: got %q", info.Mission)
		}
	}
}

func TestListSnapshots_NoDir(t *testing.T) {
	cfg := model.Config{}
	cfg.ApplyDefaults()
	infos, err := listSnapshots(t.TempDir(), cfg.Snapshot)
	if err != nil {
		t.Fatalf("listSnapshots: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected no snapshots, got %v", infos)
	}
}

func TestCheckDaemon_NotRunning(t *testing.T) {
	st, live := checkDaemon("/tmp/nonexistent-railscript-test.sock")
	if st.Running {
		t.Error("expected daemon not running")
	}
	if live != nil {
		t.Error("expected no live run")
	}
}

func TestRun_JSONWithoutDaemon(t *testing.T) {
	dir := t.TempDir()
	saveSnapshot(t, dir, "run_1700000000_0a1b2c3d", false)

	var buf bytes.Buffer
	if err := Run(dir, model.Config{}, &buf, true); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var ov Overview
	if err := json.Unmarshal(buf.Bytes(), &ov); err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if ov.Daemon.Running || ov.Live != nil {
		t.Errorf("expected stopped daemon, got %+v", ov.Daemon)
	}
	if len(ov.Snapshots) != 1 || ov.Snapshots[0].RunID != "run_1700000000_0a1b2c3d" {
		t.Errorf("snapshots: got %+v", ov.Snapshots)
	}
}

func TestRun_BadBackendWarns(t *testing.T) {
	var buf bytes.Buffer
	cfg := model.Config{Snapshot: model.SnapshotConfig{Backend: "redis"}}
	if err := Run(t.TempDir(), cfg, &buf, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "warning: open snapshot store") {
		t.Errorf("expected a warning, got %q", buf.String())
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, Overview{Daemon: DaemonStatus{Running: false}})
	if !strings.Contains(buf.String(), "Daemon: stopped") || !strings.Contains(buf.String(), "Snapshots: none") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}

	buf.Reset()
	printStatus(&buf, Overview{
		Daemon: DaemonStatus{Running: true, Pid: os.Getpid()},
		Live: &daemon.StatusResult{
			RunID:        "run_1700000000_0a1b2c3d",
			Mission:      "Local service",
			Status:       "running",
			PendingEvent: &daemon.EventView{ID: 3, Header: "Arrived"},
			CurrentTask:  1,
			Tasks: []daemon.TaskView{
				{Station: "Alpha", Status: "completed"},
				{Station: "Bravo", Status: "arrived", Message: "Passenger boarding completes in 20 s"},
			},
		},
		Snapshots: []snapshot.Info{{RunID: "run_1700000000_0a1b2c3d", Mission: "Local service"}},
	})
	out := buf.String()
	for _, want := range []string{
		"Daemon: running (pid ",
		"Pending event: 3 \"Arrived\" (acknowledge with: railscript ack 3)",
		">  Bravo",
		"Passenger boarding completes in 20 s",
		"Snapshots:\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
