package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"
)

const snapshotHeader = "schema_version: 1\nfile_type: activity_snapshot\ntasks: []\n"

func TestQuarantine(t *testing.T) {
	dataDir := t.TempDir()
	filePath := filepath.Join(dataDir, "corrupted.yaml")

	os.WriteFile(filePath, []byte("corrupted: [\n"), 0644)

	quarantined, err := Quarantine(dataDir, filePath)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}

	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("original file should be removed after quarantine")
	}
	if _, err := os.Stat(quarantined); err != nil {
		t.Errorf("quarantined file missing: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dataDir, "quarantine"))
	if err != nil {
		t.Fatalf("ReadDir quarantine failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 quarantined file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "corrupted.yaml.") || !strings.HasSuffix(entries[0].Name(), ".corrupt") {
		t.Errorf("unexpected quarantine filename: %s", entries[0].Name())
	}
}

func TestRestoreFromBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "test.yaml")

	os.WriteFile(filePath+".bak", []byte(snapshotHeader), 0644)

	if err := RestoreFromBackup(filePath, FileTypeActivitySnapshot); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if header.FileType != FileTypeActivitySnapshot {
		t.Errorf("file_type: got %q", header.FileType)
	}
}

func TestRestoreFromBackup_NoBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "test.yaml")

	if err := RestoreFromBackup(filePath, FileTypeActivitySnapshot); err == nil {
		t.Error("expected error when no backup exists")
	}
}

func TestRestoreFromBackup_CorruptBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "test.yaml")

	os.WriteFile(filePath+".bak", []byte(":\n  broken: [\n"), 0644)

	if err := RestoreFromBackup(filePath, FileTypeActivitySnapshot); err == nil {
		t.Error("expected error when backup is also corrupted")
	}
}

func TestRestoreFromBackup_WrongFileType(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "run.yaml")

	os.WriteFile(filePath+".bak", []byte("schema_version: 1\nfile_type: mission\n"), 0644)

	if err := RestoreFromBackup(filePath, FileTypeActivitySnapshot); err == nil {
		t.Error("expected error for a backup of another file type")
	}
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("nothing should be restored")
	}
}

func TestRecoverCorruptedFile_WithBackup(t *testing.T) {
	dataDir := t.TempDir()
	filePath := filepath.Join(dataDir, "run.yaml")

	os.WriteFile(filePath, []byte("corrupted: [\n"), 0644)
	os.WriteFile(filePath+".bak", []byte(snapshotHeader), 0644)

	if _, err := RecoverCorruptedFile(dataDir, filePath, FileTypeActivitySnapshot); err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}

	if err := ValidateSchemaHeader(filePath, FileTypeActivitySnapshot); err != nil {
		t.Errorf("restored file invalid: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(dataDir, "quarantine"))
	if len(entries) != 1 {
		t.Errorf("expected 1 quarantined file, got %d", len(entries))
	}
}

func TestRecoverCorruptedFile_WithoutBackup(t *testing.T) {
	dataDir := t.TempDir()
	filePath := filepath.Join(dataDir, "run.yaml")

	os.WriteFile(filePath, []byte("corrupted: [\n"), 0644)

	quarantined, err := RecoverCorruptedFile(dataDir, filePath, FileTypeActivitySnapshot)
	if err == nil {
		t.Fatal("expected error without backup")
	}
	if quarantined == "" {
		t.Error("quarantine path should be reported")
	}
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("corrupted file should not stay in place")
	}
}
