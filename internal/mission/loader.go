package mission

import (
	"bytes"
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/railscript/internal/model"
	yamlutil "github.com/msageha/railscript/internal/yaml"
)

// Load reads and converts the mission file at path.
func Load(path string) (*model.Mission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mission %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("mission %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a mission document. Malformed conditions are reported together
// as *ValidationErrors.
func Parse(data []byte) (*model.Mission, error) {
	if err := yamlutil.ValidateSchemaHeaderFromBytes(data, yamlutil.FileTypeMission); err != nil {
		return nil, err
	}

	var f File
	dec := yamlv3.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	errs := &ValidationErrors{}
	m := f.Mission
	m.Conditions = make([]model.Condition, 0, len(f.Conditions))
	for i, doc := range f.Conditions {
		cond, ok := doc.toCondition(fmt.Sprintf("conditions[%d]", i), errs)
		if ok {
			m.Conditions = append(m.Conditions, cond)
		}
	}
	if errs.HasErrors() {
		return nil, errs
	}
	return &m, nil
}
