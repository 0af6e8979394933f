// Package yaml reads and writes the schema-headed YAML documents of a state
// directory: missions, snapshots and the config file.
package yaml

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// WriteDocument renders doc and replaces path with it atomically. With a
// fileType the rendered document must carry a matching schema header, so a
// document that would not load back never reaches disk. The replaced version
// is kept as path.bak.
func WriteDocument(path, fileType string, doc any) error {
	content, err := yamlv3.Marshal(doc)
	if err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}
	return WriteRaw(path, fileType, content)
}

// WriteRaw is WriteDocument for content that is already rendered.
func WriteRaw(path, fileType string, content []byte) error {
	if err := checkDocument(content, fileType); err != nil {
		return fmt.Errorf("refusing to write %s: %w", filepath.Base(path), err)
	}
	if err := keepBackup(path); err != nil {
		return fmt.Errorf("backup %s: %w", filepath.Base(path), err)
	}
	return replace(path, content)
}

// ReadDocument loads path into out after checking its schema header. A missing
// file yields an error satisfying os.IsNotExist.
func ReadDocument(path, fileType string, out any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := checkDocument(content, fileType); err != nil {
		return err
	}
	if err := yamlv3.Unmarshal(content, out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// checkDocument validates the schema header, or only the YAML syntax for
// headerless files such as config.yaml.
func checkDocument(content []byte, fileType string) error {
	if fileType != "" {
		return ValidateSchemaHeaderFromBytes(content, fileType)
	}
	var v any
	if err := yamlv3.Unmarshal(content, &v); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// keepBackup copies the current content of path to path.bak, itself replaced
// atomically.
func keepBackup(path string) error {
	current, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return replace(path+".bak", current)
}

// replace writes content to a synced temp file next to path and renames it
// over path.
func replace(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	committed = true
	return nil
}
