package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/railscript/internal/model"
	"github.com/msageha/railscript/internal/replay"
)

func TestParseArgs(t *testing.T) {
	opts := parseArgs("test", []string{
		"mission.yaml", "--dir", "/tmp/state", "--json", "--resume", "run_1700000000_0a1b2c3d",
		"feed.jsonl", "--no-auto-ack", "--name", "Riverside",
	})
	assert.Equal(t, "/tmp/state", opts.stateDir)
	assert.True(t, opts.jsonOutput)
	assert.True(t, opts.noAutoAck)
	assert.False(t, opts.save)
	assert.Equal(t, "run_1700000000_0a1b2c3d", opts.resume)
	assert.Equal(t, "Riverside", opts.name)
	assert.Equal(t, []string{"mission.yaml", "feed.jsonl"}, opts.positional)
}

func TestFramesAfter(t *testing.T) {
	frames := []replay.Frame{{Clock: 0}, {Clock: 5}, {Clock: 10}}

	tests := []struct {
		name   string
		clockS float64
		want   int
	}{
		{"before first", -1, 3},
		{"at a frame", 5, 1},
		{"between frames", 7, 1},
		{"after last", 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, framesAfter(frames, tt.clockS), tt.want)
		})
	}
}

func TestDescribeEffect(t *testing.T) {
	tests := []struct {
		effect model.Effect
		want   string
	}{
		{
			model.Effect{Kind: model.EffectSound, ConditionID: 4, Sound: &model.SoundCue{File: "horn.wav", Mode: "once"}},
			"effect sound: horn.wav (once) from condition 4",
		},
		{
			model.Effect{Kind: model.EffectWeather, ConditionID: 2, Weather: &model.WeatherChange{Kind: "rain", Intensity: 0.5, TransitionS: 30}},
			"effect weather: rain intensity=0.50 over 30s from condition 2",
		},
		{
			model.Effect{Kind: model.EffectDepartureCue, Station: "Bravo"},
			"effect departure_cue: Bravo",
		},
		{
			model.Effect{Kind: model.EffectDepartureCue},
			"effect departure_cue",
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, describeEffect(tt.effect))
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing default file means defaults", func(t *testing.T) {
		cfg, err := loadConfig(t.TempDir(), "")
		require.NoError(t, err)
		assert.Equal(t, model.SnapshotBackendYAML, cfg.Snapshot.Backend)
		assert.Equal(t, model.DefaultStopSpeedMps, cfg.Engine.StopSpeedMps)
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := loadConfig(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("values override defaults", func(t *testing.T) {
		dir := t.TempDir()
		content := "snapshot:\n  backend: sqlite\ndaemon:\n  auto_acknowledge: true\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))

		cfg, err := loadConfig(dir, "")
		require.NoError(t, err)
		assert.Equal(t, model.SnapshotBackendSQLite, cfg.Snapshot.Backend)
		assert.True(t, cfg.Daemon.AutoAcknowledge)
		assert.Equal(t, "railscript.sock", cfg.Daemon.SocketName)
	})

	t.Run("malformed file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("snapshot: [\n"), 0644))
		_, err := loadConfig(dir, "")
		assert.Error(t, err)
	})
}

func TestInStateDir(t *testing.T) {
	assert.Equal(t, "/state/snapshots", inStateDir("/state", "snapshots"))
	assert.Equal(t, "/abs/snapshots", inStateDir("/state", "/abs/snapshots"))
}
