package setup

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/msageha/railscript/internal/model"
)

func TestRun_CreatesDirectoryStructure(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "myroute")
	if err := os.Mkdir(projectDir, 0755); err != nil {
		t.Fatalf("create project dir: %v", err)
	}

	base, err := Run(projectDir, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if base != filepath.Join(projectDir, StateDirName) {
		t.Errorf("base: got %q", base)
	}

	for _, d := range []string{"feed", "snapshots", "locks", "logs", "quarantine"} {
		info, err := os.Stat(filepath.Join(base, d))
		if err != nil {
			t.Errorf("directory %s does not exist: %v", d, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}

func TestRun_WritesConfig(t *testing.T) {
	tests := []struct {
		name        string
		projectName string
		want        string
	}{
		{"basename", "", "myroute"},
		{"override", "Riverside Line", "Riverside Line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			projectDir := filepath.Join(t.TempDir(), "myroute")
			if err := os.Mkdir(projectDir, 0755); err != nil {
				t.Fatalf("create project dir: %v", err)
			}
			base, err := Run(projectDir, tt.projectName)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			data, err := os.ReadFile(filepath.Join(base, "config.yaml"))
			if err != nil {
				t.Fatalf("read config: %v", err)
			}
			var cfg model.Config
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				t.Fatalf("parse config: %v", err)
			}

			if cfg.Project.Name != tt.want {
				t.Errorf("project.name: got %q, want %q", cfg.Project.Name, tt.want)
			}
			if cfg.Snapshot.Backend != model.SnapshotBackendYAML {
				t.Errorf("snapshot.backend: got %q", cfg.Snapshot.Backend)
			}
			if cfg.Daemon.SocketName != "railscript.sock" {
				t.Errorf("daemon.socket_name: got %q", cfg.Daemon.SocketName)
			}
			if cfg.StopLog.Separator != "\t" {
				t.Errorf("stop_log.separator: got %q", cfg.StopLog.Separator)
			}
			if cfg.Engine.StopSpeedMps != model.DefaultStopSpeedMps {
				t.Errorf("engine.stop_speed_mps: got %v", cfg.Engine.StopSpeedMps)
			}
		})
	}
}

func TestRun_AlreadyExists(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, StateDirName), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := Run(dir, ""); err == nil {
		t.Fatal("expected error for existing state dir")
	}
}
