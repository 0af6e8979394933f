// Package status renders the state of a railscript state directory: whether a
// daemon is serving it, the live run it hosts and the stored snapshots.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/msageha/railscript/internal/daemon"
	"github.com/msageha/railscript/internal/lock"
	"github.com/msageha/railscript/internal/model"
	"github.com/msageha/railscript/internal/snapshot"
	"github.com/msageha/railscript/internal/uds"
)

type Overview struct {
	Daemon    DaemonStatus         `json:"daemon"`
	Live      *daemon.StatusResult `json:"live,omitempty"`
	Snapshots []snapshot.Info      `json:"snapshots,omitempty"`
}

type DaemonStatus struct {
	Running bool `json:"running"`
	Pid     int  `json:"pid,omitempty"`
}

// Run collects the overview of stateDir and prints it to w.
func Run(stateDir string, cfg model.Config, w io.Writer, jsonOutput bool) error {
	cfg.ApplyDefaults()
	var ov Overview

	sockPath := filepath.Join(stateDir, cfg.Daemon.SocketName)
	ov.Daemon, ov.Live = checkDaemon(sockPath)
	if ov.Daemon.Running {
		if pid, err := lock.HolderPID(filepath.Join(stateDir, "locks", "daemon.lock")); err == nil {
			ov.Daemon.Pid = pid
		}
	}

	snaps, err := listSnapshots(stateDir, cfg.Snapshot)
	if err != nil {
		fmt.Fprintf(w, "warning: %v\n", err)
	}
	ov.Snapshots = snaps

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ov)
	}

	printStatus(w, ov)
	return nil
}

func checkDaemon(sockPath string) (DaemonStatus, *daemon.StatusResult) {
	var live daemon.StatusResult
	err := uds.NewClient(sockPath).Call(uds.CmdStatus, nil, &live)
	switch {
	case errors.Is(err, uds.ErrDaemonNotRunning):
		return DaemonStatus{Running: false}, nil
	case err != nil:
		return DaemonStatus{Running: true}, nil
	}
	return DaemonStatus{Running: true}, &live
}

func listSnapshots(stateDir string, cfg model.SnapshotConfig) ([]snapshot.Info, error) {
	if !filepath.IsAbs(cfg.Dir) {
		cfg.Dir = filepath.Join(stateDir, cfg.Dir)
	}
	if !filepath.IsAbs(cfg.DBPath) {
		cfg.DBPath = filepath.Join(stateDir, cfg.DBPath)
	}
	store, err := snapshot.Open(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	defer store.Close()

	infos, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return infos, nil
}

func printStatus(w io.Writer, s Overview) {
	// Daemon
	switch {
	case s.Daemon.Running && s.Daemon.Pid > 0:
		fmt.Fprintf(w, "Daemon: running (pid %d)\n", s.Daemon.Pid)
	case s.Daemon.Running:
		fmt.Fprintln(w, "Daemon: running")
	default:
		fmt.Fprintln(w, "Daemon: stopped")
	}

	// Live run
	if s.Live != nil {
		fmt.Fprintf(w, "\nRun: %s  mission=%q  status=%s  frames=%d  clock=%.1fs\n",
			s.Live.RunID, s.Live.Mission, s.Live.Status, s.Live.Frames, s.Live.ClockS)
		if ev := s.Live.PendingEvent; ev != nil {
			fmt.Fprintf(w, "Pending event: %d %q (acknowledge with: railscript ack %d)\n", ev.ID, ev.Header, ev.ID)
		}
		if len(s.Live.Tasks) > 0 {
			fmt.Fprintln(w, "\nStops:")
			fmt.Fprintf(w, "  %-2s %-20s  %-15s  %s\n", "", "STATION", "STATUS", "MESSAGE")
			for i, t := range s.Live.Tasks {
				marker := ""
				if i == s.Live.CurrentTask {
					marker = ">"
				}
				fmt.Fprintf(w, "  %-2s %-20s  %-15s  %s\n", marker, t.Station, t.Status, t.Message)
			}
		}
	}

	// Snapshots
	if len(s.Snapshots) > 0 {
		fmt.Fprintln(w, "\nSnapshots:")
		fmt.Fprintf(w, "  %-26s  %-24s  %-20s  %s\n", "RUN", "MISSION", "SAVED_AT", "COMPLETED")
		for _, info := range s.Snapshots {
			fmt.Fprintf(w, "  %-26s  %-24s  %-20s  %t\n", info.RunID, info.Mission, info.SavedAt, info.Completed)
		}
	} else {
		fmt.Fprintln(w, "\nSnapshots: none")
	}
}
