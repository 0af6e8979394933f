package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testSnapshot struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
	RunID         string `yaml:"run_id"`
	CurrentTask   int    `yaml:"current_task"`
}

func snapshotDoc(current int) *testSnapshot {
	return &testSnapshot{
		SchemaVersion: CurrentSchemaVersion,
		FileType:      FileTypeActivitySnapshot,
		RunID:         "run_1700000000_0a1b2c3d",
		CurrentTask:   current,
	}
}

func TestWriteDocument_ReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")

	if err := WriteDocument(path, FileTypeActivitySnapshot, snapshotDoc(2)); err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}

	var got testSnapshot
	if err := ReadDocument(path, FileTypeActivitySnapshot, &got); err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if got != *snapshotDoc(2) {
		t.Errorf("got %+v, want %+v", got, *snapshotDoc(2))
	}
}

func TestWriteDocument_KeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")

	for current := 0; current < 2; current++ {
		if err := WriteDocument(path, FileTypeActivitySnapshot, snapshotDoc(current)); err != nil {
			t.Fatalf("write %d: %v", current, err)
		}
	}

	var bak, cur testSnapshot
	if err := ReadDocument(path+".bak", FileTypeActivitySnapshot, &bak); err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if err := ReadDocument(path, FileTypeActivitySnapshot, &cur); err != nil {
		t.Fatalf("read current: %v", err)
	}
	if bak.CurrentTask != 0 || cur.CurrentTask != 1 {
		t.Errorf("backup current_task = %d, current = %d; want 0 and 1", bak.CurrentTask, cur.CurrentTask)
	}
}

func TestWriteDocument_RefusesBadHeader(t *testing.T) {
	tests := []struct {
		name string
		doc  any
	}{
		{"no header", map[string]int{"current_task": 1}},
		{"other file type", &testSnapshot{SchemaVersion: 1, FileType: FileTypeMission}},
		{"future schema", &testSnapshot{SchemaVersion: CurrentSchemaVersion + 1, FileType: FileTypeActivitySnapshot}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "run.yaml")
			if err := WriteDocument(path, FileTypeActivitySnapshot, snapshotDoc(0)); err != nil {
				t.Fatalf("first write: %v", err)
			}

			err := WriteDocument(path, FileTypeActivitySnapshot, tt.doc)
			if err == nil || !strings.Contains(err.Error(), "refusing to write run.yaml") {
				t.Fatalf("expected refusal, got %v", err)
			}

			var got testSnapshot
			if err := ReadDocument(path, FileTypeActivitySnapshot, &got); err != nil {
				t.Fatalf("previous document should stay readable: %v", err)
			}
			if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
				t.Error("a refused write must not rotate the backup")
			}
			assertNoTempFiles(t, dir)
		})
	}
}

func TestWriteDocument_Headerless(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := map[string]map[string]string{"logging": {"level": "debug"}}
	if err := WriteDocument(path, "", cfg); err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	var got map[string]map[string]string
	if err := ReadDocument(path, "", &got); err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if got["logging"]["level"] != "debug" {
		t.Errorf("got %v", got)
	}

	if err := WriteRaw(filepath.Join(dir, "broken.yaml"), "", []byte(":\n  broken: [\n")); err == nil {
		t.Error("expected error for invalid YAML")
	}
	if _, err := os.Stat(filepath.Join(dir, "broken.yaml")); !os.IsNotExist(err) {
		t.Error("file should not exist after failed write")
	}
	assertNoTempFiles(t, dir)
}

func TestReadDocument_Errors(t *testing.T) {
	dir := t.TempDir()

	var got testSnapshot
	err := ReadDocument(filepath.Join(dir, "missing.yaml"), FileTypeActivitySnapshot, &got)
	if !os.IsNotExist(err) {
		t.Errorf("missing file: got %v, want not-exist", err)
	}

	mission := filepath.Join(dir, "mission.yaml")
	os.WriteFile(mission, []byte("schema_version: 1\nfile_type: mission\nname: Demo\n"), 0644)
	if err := ReadDocument(mission, FileTypeActivitySnapshot, &got); err == nil {
		t.Error("expected file_type mismatch")
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
