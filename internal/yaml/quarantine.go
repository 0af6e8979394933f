package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Quarantine moves a corrupted file into <dataDir>/quarantine and returns its new path.
func Quarantine(dataDir, filePath string) (string, error) {
	quarantineDir := filepath.Join(dataDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().Format("20060102T150405")
	quarantinePath := filepath.Join(quarantineDir, fmt.Sprintf("%s.%s.corrupt", baseName, timestamp))

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return quarantinePath, nil
}

// RestoreFromBackup puts the .bak copy kept by WriteDocument back in place of
// filePath. The backup must pass the same header check as a fresh write.
func RestoreFromBackup(filePath, fileType string) error {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := checkDocument(content, fileType); err != nil {
		return fmt.Errorf("backup is also unusable: %w", err)
	}
	if err := replace(filePath, content); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

// RecoverCorruptedFile quarantines filePath and puts its backup in place.
// The quarantine path is returned even when no usable backup exists.
func RecoverCorruptedFile(dataDir, filePath, fileType string) (string, error) {
	quarantined, err := Quarantine(dataDir, filePath)
	if err != nil {
		return "", fmt.Errorf("quarantine failed: %w", err)
	}
	if err := RestoreFromBackup(filePath, fileType); err != nil {
		return quarantined, err
	}
	return quarantined, nil
}
