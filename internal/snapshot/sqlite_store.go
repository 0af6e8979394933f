package snapshot

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	yamlv3 "gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/msageha/railscript/internal/model"
)

// SQLiteStore keeps every saved snapshot of a run; Load returns the latest.
type SQLiteStore struct {
	conn *sqlx.DB
}

// OpenSQLite opens or creates the snapshot database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot_id TEXT NOT NULL UNIQUE,
		run_id TEXT NOT NULL,
		mission TEXT NOT NULL,
		saved_at TEXT NOT NULL,
		completed INTEGER NOT NULL,
		current_task INTEGER NOT NULL,
		body TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots(run_id, seq);
	`
	_, err := s.conn.Exec(schema)
	return err
}

func (s *SQLiteStore) Save(snap *model.ActivitySnapshot) error {
	if !model.ValidateID(snap.RunID) {
		return fmt.Errorf("save snapshot: invalid run id %q", snap.RunID)
	}
	body, err := yamlv3.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	snapshotID, err := model.GenerateID(model.IDTypeSnapshot)
	if err != nil {
		return err
	}

	_, err = s.conn.Exec(
		`INSERT INTO snapshots (snapshot_id, run_id, mission, saved_at, completed, current_task, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snapshotID, snap.RunID, snap.Mission, snap.SavedAt, snap.Completed, snap.CurrentTask, string(body),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.RunID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(runID string) (*model.ActivitySnapshot, error) {
	var body string
	err := s.conn.Get(&body, "SELECT body FROM snapshots WHERE run_id = ? ORDER BY seq DESC LIMIT 1", runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, runID)
		}
		return nil, fmt.Errorf("load snapshot %s: %w", runID, err)
	}

	var snap model.ActivitySnapshot
	if err := yamlv3.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", runID, err)
	}
	if err := validate(&snap, runID); err != nil {
		return nil, err
	}
	return &snap, nil
}

// List returns the latest snapshot of every run, newest first.
func (s *SQLiteStore) List() ([]Info, error) {
	var out []Info
	err := s.conn.Select(&out, `
		SELECT run_id, mission, saved_at, completed FROM snapshots
		WHERE seq IN (SELECT MAX(seq) FROM snapshots GROUP BY run_id)
		ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// History returns how many snapshots were saved for runID.
func (s *SQLiteStore) History(runID string) (int, error) {
	var n int
	err := s.conn.Get(&n, "SELECT COUNT(*) FROM snapshots WHERE run_id = ?", runID)
	return n, err
}

func (s *SQLiteStore) Delete(runID string) error {
	if _, err := s.conn.Exec("DELETE FROM snapshots WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", runID, err)
	}
	return nil
}
