// Package model defines the data structures for railscript's configuration, mission definitions, and snapshots.
package model

type Config struct {
	Project  ProjectConfig  `yaml:"project"`
	Engine   EngineConfig   `yaml:"engine"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	StopLog  StopLogConfig  `yaml:"stop_log"`
	Journal  JournalConfig  `yaml:"journal"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// EngineConfig holds the thresholds used by the activity controller, the task
// chain and the evaluation accumulator.
type EngineConfig struct {
	StopSpeedMps         float64 `yaml:"stop_speed_mps"`          // TrainStop/TrainStart hysteresis threshold
	MissedCheckIntervalS float64 `yaml:"missed_check_interval_s"` // clock seconds between missed-station polls
	MissedDistanceM      float64 `yaml:"missed_distance_m"`       // distance past the platform before a stop counts as missed
	SignalLookaheadM     float64 `yaml:"signal_lookahead_m"`      // signals farther than this never hold a departure
	OverspeedMarginMps   float64 `yaml:"overspeed_margin_mps"`
	SlowBrakeSpeedMps    float64 `yaml:"slow_brake_speed_mps"`
}

type SnapshotConfig struct {
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	DBPath      string `yaml:"db_path"`
	IntervalSec int    `yaml:"interval_sec"`
}

const (
	SnapshotBackendYAML   = "yaml"
	SnapshotBackendSQLite = "sqlite"
)

type StopLogConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Separator string `yaml:"separator"`
	MaxBytes  int64  `yaml:"max_bytes"`
}

type JournalConfig struct {
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type DaemonConfig struct {
	SocketName         string `yaml:"socket_name"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
	AutoAcknowledge    bool   `yaml:"auto_acknowledge"`
	Notify             bool   `yaml:"notify"` // desktop notification when an event awaits acknowledgement
}

type WatcherConfig struct {
	DebounceSec     float64 `yaml:"debounce_sec"`
	ScanIntervalSec int     `yaml:"scan_interval_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	DefaultStopSpeedMps         = 0.2
	DefaultMissedCheckIntervalS = 10
	DefaultMissedDistanceM      = 200
	DefaultSignalLookaheadM     = 300
	DefaultOverspeedMarginMps   = 1.67
	DefaultSlowBrakeSpeedMps    = 8 / 3.6
)

// DefaultEngineConfig returns the thresholds used when no config file is present.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StopSpeedMps:         DefaultStopSpeedMps,
		MissedCheckIntervalS: DefaultMissedCheckIntervalS,
		MissedDistanceM:      DefaultMissedDistanceM,
		SignalLookaheadM:     DefaultSignalLookaheadM,
		OverspeedMarginMps:   DefaultOverspeedMarginMps,
		SlowBrakeSpeedMps:    DefaultSlowBrakeSpeedMps,
	}
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	def := DefaultEngineConfig()
	if c.Engine.StopSpeedMps <= 0 {
		c.Engine.StopSpeedMps = def.StopSpeedMps
	}
	if c.Engine.MissedCheckIntervalS <= 0 {
		c.Engine.MissedCheckIntervalS = def.MissedCheckIntervalS
	}
	if c.Engine.MissedDistanceM <= 0 {
		c.Engine.MissedDistanceM = def.MissedDistanceM
	}
	if c.Engine.SignalLookaheadM <= 0 {
		c.Engine.SignalLookaheadM = def.SignalLookaheadM
	}
	if c.Engine.OverspeedMarginMps <= 0 {
		c.Engine.OverspeedMarginMps = def.OverspeedMarginMps
	}
	if c.Engine.SlowBrakeSpeedMps <= 0 {
		c.Engine.SlowBrakeSpeedMps = def.SlowBrakeSpeedMps
	}

	if c.Snapshot.Backend == "" {
		c.Snapshot.Backend = SnapshotBackendYAML
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = "snapshots"
	}
	if c.Snapshot.DBPath == "" {
		c.Snapshot.DBPath = "snapshots.db"
	}
	if c.Snapshot.IntervalSec <= 0 {
		c.Snapshot.IntervalSec = 60
	}

	if c.StopLog.Separator == "" {
		c.StopLog.Separator = "\t"
	}
	if c.StopLog.Path == "" {
		c.StopLog.Path = "logs/stops.txt"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "logs/journal.jsonl"
	}

	if c.Daemon.SocketName == "" {
		c.Daemon.SocketName = "railscript.sock"
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 10
	}
	if c.Watcher.ScanIntervalSec <= 0 {
		c.Watcher.ScanIntervalSec = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
