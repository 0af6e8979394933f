package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/msageha/railscript/internal/lock"
	"github.com/msageha/railscript/internal/model"
	yamlutil "github.com/msageha/railscript/internal/yaml"
)

// FileStore keeps one YAML file per run under dir.
type FileStore struct {
	dir     string
	lockMap *lock.MutexMap
}

func NewFileStore(dir string, lockMap *lock.MutexMap) *FileStore {
	if lockMap == nil {
		lockMap = lock.NewMutexMap()
	}
	return &FileStore{dir: dir, lockMap: lockMap}
}

func (s *FileStore) Path(runID string) string {
	return filepath.Join(s.dir, runID+".yaml")
}

func (s *FileStore) Save(snap *model.ActivitySnapshot) error {
	if !model.ValidateID(snap.RunID) {
		return fmt.Errorf("save snapshot: invalid run id %q", snap.RunID)
	}
	s.lockMap.Lock("snapshot:" + snap.RunID)
	defer s.lockMap.Unlock("snapshot:" + snap.RunID)

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	return yamlutil.WriteDocument(s.Path(snap.RunID), yamlutil.FileTypeActivitySnapshot, snap)
}

// Load reads the snapshot of runID. A file that no longer parses is
// quarantined and its backup is used instead.
func (s *FileStore) Load(runID string) (*model.ActivitySnapshot, error) {
	s.lockMap.Lock("snapshot:" + runID)
	defer s.lockMap.Unlock("snapshot:" + runID)

	path := s.Path(runID)
	snap, err := s.read(path, runID)
	if err == nil || errors.Is(err, ErrSnapshotNotFound) {
		return snap, err
	}

	quarantined, recoverErr := yamlutil.RecoverCorruptedFile(s.dir, path, yamlutil.FileTypeActivitySnapshot)
	if recoverErr != nil {
		return nil, fmt.Errorf("%w (moved to %s, no usable backup: %v)", err, quarantined, recoverErr)
	}
	return s.read(path, runID)
}

func (s *FileStore) read(path, runID string) (*model.ActivitySnapshot, error) {
	var snap model.ActivitySnapshot
	if err := yamlutil.ReadDocument(path, yamlutil.FileTypeActivitySnapshot, &snap); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, runID)
		}
		return nil, fmt.Errorf("snapshot %s: %w", runID, err)
	}
	if err := validate(&snap, runID); err != nil {
		return nil, err
	}
	return &snap, nil
}

// List returns every stored run, newest first.
func (s *FileStore) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		runID := strings.TrimSuffix(name, ".yaml")
		if !model.ValidateID(runID) {
			continue
		}
		snap, err := s.read(filepath.Join(s.dir, name), runID)
		if err != nil {
			continue
		}
		out = append(out, Info{RunID: runID, Mission: snap.Mission, SavedAt: snap.SavedAt, Completed: snap.Completed})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt > out[j].SavedAt })
	return out, nil
}

func (s *FileStore) Delete(runID string) error {
	s.lockMap.Lock("snapshot:" + runID)
	defer s.lockMap.Unlock("snapshot:" + runID)

	if err := os.Remove(s.Path(runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot %s: %w", runID, err)
	}
	_ = os.Remove(s.Path(runID) + ".bak")
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
