// Package snapshot persists activity snapshots so a run can be resumed.
package snapshot

import (
	"errors"
	"fmt"

	"github.com/msageha/railscript/internal/lock"
	"github.com/msageha/railscript/internal/model"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// Info describes a stored snapshot without decoding it.
type Info struct {
	RunID     string `db:"run_id" json:"run_id"`
	Mission   string `db:"mission" json:"mission"`
	SavedAt   string `db:"saved_at" json:"saved_at"`
	Completed bool   `db:"completed" json:"completed"`
}

// Store keeps the latest snapshot of each run.
type Store interface {
	Save(snap *model.ActivitySnapshot) error
	Load(runID string) (*model.ActivitySnapshot, error)
	List() ([]Info, error)
	Delete(runID string) error
	Close() error
}

// Open returns the store selected by cfg.Backend.
func Open(cfg model.SnapshotConfig, lockMap *lock.MutexMap) (Store, error) {
	switch cfg.Backend {
	case "", model.SnapshotBackendYAML:
		return NewFileStore(cfg.Dir, lockMap), nil
	case model.SnapshotBackendSQLite:
		return OpenSQLite(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

func validate(snap *model.ActivitySnapshot, runID string) error {
	if snap.SchemaVersion != model.SnapshotSchemaVersion {
		return fmt.Errorf("unsupported schema_version %d for snapshot %s (expected %d)",
			snap.SchemaVersion, runID, model.SnapshotSchemaVersion)
	}
	if snap.FileType != model.SnapshotFileType {
		return fmt.Errorf("unexpected file_type %q for snapshot %s (expected %s)",
			snap.FileType, runID, model.SnapshotFileType)
	}
	return nil
}
