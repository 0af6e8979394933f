// Package setup handles railscript state directory initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/railscript/internal/model"
	atomicyaml "github.com/msageha/railscript/internal/yaml"
	"github.com/msageha/railscript/templates"
)

// StateDirName is the directory created under the project root.
const StateDirName = ".railscript"

// Run initializes the .railscript/ directory structure in projectDir and
// returns its path. projectName overrides the name written to config.yaml
// (defaults to the directory basename if empty).
func Run(projectDir, projectName string) (string, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, StateDirName)
	if _, err := os.Stat(base); err == nil {
		return "", fmt.Errorf("%s already exists", base)
	}

	dirs := []string{
		"feed",
		"snapshots",
		"locks",
		"logs",
		"quarantine",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg, err := generateConfig(absDir, projectName)
	if err != nil {
		return "", fmt.Errorf("generate config: %w", err)
	}
	if err := atomicyaml.WriteDocument(filepath.Join(base, "config.yaml"), "", cfg); err != nil {
		return "", fmt.Errorf("write config.yaml: %w", err)
	}
	return base, nil
}

func generateConfig(projectDir, projectName string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}
