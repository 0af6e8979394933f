package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/msageha/railscript/internal/activity"
	"github.com/msageha/railscript/internal/daemon"
	"github.com/msageha/railscript/internal/events"
	"github.com/msageha/railscript/internal/logging"
	"github.com/msageha/railscript/internal/mission"
	"github.com/msageha/railscript/internal/model"
	"github.com/msageha/railscript/internal/replay"
	"github.com/msageha/railscript/internal/setup"
	"github.com/msageha/railscript/internal/snapshot"
	"github.com/msageha/railscript/internal/status"
	"github.com/msageha/railscript/internal/uds"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "run":
		runReplay(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "ack":
		runAck(os.Args[2:])
	case "message":
		runMessage(os.Args[2:])
	case "snapshot":
		runSnapshot(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	case "shutdown":
		runShutdown(os.Args[2:])
	case "version":
		fmt.Printf("railscript %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// cliOptions holds the flags shared by every subcommand.
type cliOptions struct {
	stateDir   string
	configPath string
	jsonOutput bool
	resume     string
	noAutoAck  bool
	save       bool
	runID      string
	missionArg string
	name       string
	positional []string
}

func parseArgs(usage string, args []string) cliOptions {
	var opts cliOptions
	value := func(i *int, name string) string {
		if *i+1 >= len(args) {
			fmt.Fprintf(os.Stderr, "%s requires a value\nusage: %s\n", name, usage)
			os.Exit(1)
		}
		*i++
		return args[*i]
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dir":
			opts.stateDir = value(&i, "--dir")
		case "--config":
			opts.configPath = value(&i, "--config")
		case "--json":
			opts.jsonOutput = true
		case "--resume":
			opts.resume = value(&i, "--resume")
		case "--no-auto-ack":
			opts.noAutoAck = true
		case "--save":
			opts.save = true
		case "--run":
			opts.runID = value(&i, "--run")
		case "--mission":
			opts.missionArg = value(&i, "--mission")
		case "--name":
			opts.name = value(&i, "--name")
		default:
			if len(args[i]) > 1 && args[i][0] == '-' {
				fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: %s\n", args[i], usage)
				os.Exit(1)
			}
			opts.positional = append(opts.positional, args[i])
		}
	}
	return opts
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runInit(args []string) {
	const usage = "railscript init [project-dir] [--name <name>]"
	opts := parseArgs(usage, args)
	if len(opts.positional) > 1 {
		fatalf("usage: %s", usage)
	}
	projectDir := "."
	if len(opts.positional) == 1 {
		projectDir = opts.positional[0]
	}

	base, err := setup.Run(projectDir, opts.name)
	if err != nil {
		fatalf("init: %v", err)
	}
	fmt.Printf("Initialized %s\n", base)
}

func runValidate(args []string) {
	const usage = "railscript validate <mission.yaml> [--json]"
	opts := parseArgs(usage, args)
	if len(opts.positional) != 1 {
		fatalf("usage: %s", usage)
	}

	m, err := mission.Load(opts.positional[0])
	if err != nil {
		var verrs *mission.ValidationErrors
		if errors.As(err, &verrs) {
			fmt.Fprint(os.Stderr, verrs.FormatStderr("error"))
			os.Exit(1)
		}
		fatalf("validate: %v", err)
	}

	res := mission.Validate(m)
	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(res)
	} else {
		fmt.Fprint(os.Stderr, res.Errors.FormatStderr("error"))
		fmt.Fprint(os.Stderr, res.Warnings.FormatStderr("warning"))
		if res.OK() {
			fmt.Printf("%s: ok (%d conditions, %d stops, %d warnings)\n",
				opts.positional[0], len(m.Conditions), len(m.Stops), len(res.Warnings.Errors))
		}
	}
	if !res.OK() {
		os.Exit(1)
	}
}

func runReplay(args []string) {
	const usage = "railscript run <mission.yaml> <telemetry.jsonl> [--dir <state>] [--config <file>] [--no-auto-ack] [--resume <run_id>] [--save]"
	opts := parseArgs(usage, args)
	if len(opts.positional) != 2 {
		fatalf("usage: %s", usage)
	}

	stateDir := resolveStateDir(opts, false)
	cfg, err := loadConfig(stateDir, opts.configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	logger := logging.New(os.Stderr, logging.ParseLogLevel(cfg.Logging.Level), "run")

	m, err := mission.Load(opts.positional[0])
	if err != nil {
		fatalf("load mission: %v", err)
	}
	frames, err := replay.LoadFrames(opts.positional[1])
	if err != nil {
		fatalf("load telemetry: %v", err)
	}

	world := replay.NewWorld()
	ctrl, _ := activity.NewController(m, cfg.Engine, world, logger.With("activity"))
	runID, err := model.GenerateID(model.IDTypeRun)
	if err != nil {
		fatalf("run id: %v", err)
	}
	ctrl.SetRunID(runID)

	if cfg.StopLog.Enabled {
		stopLog, err := events.NewStopLog(inStateDir(stateDir, cfg.StopLog.Path), cfg.StopLog.MaxBytes)
		if err != nil {
			fatalf("open stop log: %v", err)
		}
		defer stopLog.Close()
		ctrl.SetLogSink(stopLog, cfg.StopLog.Separator)
	}

	var store snapshot.Store
	if opts.resume != "" || opts.save {
		store, err = openStore(stateDir, cfg)
		if err != nil {
			fatalf("open snapshot store: %v", err)
		}
		defer store.Close()
	}
	if opts.resume != "" {
		snap, err := store.Load(opts.resume)
		if err != nil {
			fatalf("load snapshot: %v", err)
		}
		if err := ctrl.Restore(snap); err != nil {
			fatalf("restore: %v", err)
		}
		if snap.Evaluation.HasSample {
			frames = framesAfter(frames, snap.Evaluation.LastSampleS)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := replay.NewRunner(ctrl, world, replay.Options{AutoAcknowledge: !opts.noAutoAck}, logger.With("replay"))
	res, err := runner.Run(ctx, frames)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run interrupted: %v\n", err)
	}

	for _, ev := range res.Events {
		fmt.Printf("event %d: %s\n", ev.ID, ev.Header)
		if ev.Text != "" {
			fmt.Printf("    %s\n", ev.Text)
		}
	}
	for _, eff := range res.Effects {
		fmt.Println(describeEffect(eff))
	}
	if res.Paused {
		if ev := ctrl.PendingEvent(); ev != nil {
			fmt.Printf("paused at event %d after %d frames\n", ev.ID, res.Ticks)
		}
	}

	text, err := ctrl.Report().Render()
	if err != nil {
		fatalf("render report: %v", err)
	}
	fmt.Println()
	fmt.Print(text)

	if opts.save {
		snap := ctrl.Snapshot()
		if err := store.Save(snap); err != nil {
			fatalf("save snapshot: %v", err)
		}
		fmt.Printf("\nsnapshot saved: %s\n", snap.RunID)
	}
}

func framesAfter(frames []replay.Frame, clockS float64) []replay.Frame {
	for i := range frames {
		if frames[i].Clock > clockS {
			return frames[i:]
		}
	}
	return nil
}

func describeEffect(e model.Effect) string {
	switch {
	case e.Sound != nil:
		return fmt.Sprintf("effect %s: %s (%s) from condition %d", e.Kind, e.Sound.File, e.Sound.Mode, e.ConditionID)
	case e.Weather != nil:
		return fmt.Sprintf("effect %s: %s intensity=%.2f over %.0fs from condition %d",
			e.Kind, e.Weather.Kind, e.Weather.Intensity, e.Weather.TransitionS, e.ConditionID)
	case e.Station != "":
		return fmt.Sprintf("effect %s: %s", e.Kind, e.Station)
	default:
		return fmt.Sprintf("effect %s", e.Kind)
	}
}

func runDaemon(args []string) {
	const usage = "railscript daemon <mission.yaml> <feed.jsonl> [--dir <state>] [--config <file>] [--resume <run_id>]"
	opts := parseArgs(usage, args)
	if len(opts.positional) != 2 {
		fatalf("usage: %s", usage)
	}

	stateDir := resolveStateDir(opts, true)
	cfg, err := loadConfig(stateDir, opts.configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	m, err := mission.Load(opts.positional[0])
	if err != nil {
		fatalf("load mission: %v", err)
	}
	feed, err := filepath.Abs(opts.positional[1])
	if err != nil {
		fatalf("feed path: %v", err)
	}

	d, err := daemon.New(stateDir, feed, cfg, m)
	if err != nil {
		fatalf("create daemon: %v", err)
	}
	if opts.resume != "" {
		d.SetResume(opts.resume)
	}
	fmt.Fprintf(os.Stderr, "railscript daemon run_id=%s socket=%s\n", d.RunID(), d.SocketPath())

	if err := d.Run(); err != nil {
		fatalf("daemon: %v", err)
	}
}

func runStatus(args []string) {
	const usage = "railscript status [--json] [--dir <state>]"
	opts := parseArgs(usage, args)
	stateDir := resolveStateDir(opts, false)
	cfg, err := loadConfig(stateDir, opts.configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if err := status.Run(stateDir, cfg, os.Stdout, opts.jsonOutput); err != nil {
		fatalf("status: %v", err)
	}
}

func runAck(args []string) {
	const usage = "railscript ack <event_id> [--run <run_id>] [--dir <state>]"
	opts := parseArgs(usage, args)
	if len(opts.positional) != 1 {
		fatalf("usage: %s", usage)
	}
	id, err := strconv.Atoi(opts.positional[0])
	if err != nil {
		fatalf("invalid event id %q", opts.positional[0])
	}

	sendCommand(opts, uds.CmdAck, uds.AckParams{EventID: id})
	fmt.Printf("event %d acknowledged\n", id)
}

func runMessage(args []string) {
	const usage = "railscript message <header> [body] [--run <run_id>] [--dir <state>]"
	opts := parseArgs(usage, args)
	if len(opts.positional) < 1 || len(opts.positional) > 2 {
		fatalf("usage: %s", usage)
	}
	params := uds.MessageParams{Header: opts.positional[0]}
	if len(opts.positional) == 2 {
		params.Body = opts.positional[1]
	}

	resp := sendCommand(opts, uds.CmdMessage, params)
	var out uds.MessageResult
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		fatalf("decode response: %v", err)
	}
	fmt.Printf("message queued as event %d\n", out.EventID)
}

func runSnapshot(args []string) {
	const usage = "railscript snapshot <save|list|delete <run_id>> [--dir <state>] [--json]"
	if len(args) < 1 {
		fatalf("usage: %s", usage)
	}
	opts := parseArgs(usage, args[1:])

	switch args[0] {
	case "save":
		resp := sendCommand(opts, uds.CmdSnapshot, nil)
		var out daemon.SnapshotResult
		if err := json.Unmarshal(resp.Data, &out); err != nil {
			fatalf("decode response: %v", err)
		}
		fmt.Printf("snapshot saved: %s at %s (%s)\n", out.RunID, out.SavedAt, out.Backend)
	case "list":
		store := mustOpenStore(opts)
		defer store.Close()
		infos, err := store.List()
		if err != nil {
			fatalf("list snapshots: %v", err)
		}
		if opts.jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(infos)
			return
		}
		for _, info := range infos {
			fmt.Printf("%-26s  %-24s  %-20s  completed=%t\n", info.RunID, info.Mission, info.SavedAt, info.Completed)
		}
	case "delete":
		if len(opts.positional) != 1 {
			fatalf("usage: %s", usage)
		}
		store := mustOpenStore(opts)
		defer store.Close()
		if err := store.Delete(opts.positional[0]); err != nil {
			fatalf("delete snapshot: %v", err)
		}
		fmt.Printf("snapshot deleted: %s\n", opts.positional[0])
	default:
		fatalf("unknown snapshot subcommand: %s\nusage: %s", args[0], usage)
	}
}

func runReport(args []string) {
	const usage = "railscript report [--dir <state>] | railscript report --mission <mission.yaml> --run <run_id> [--dir <state>]"
	opts := parseArgs(usage, args)

	if opts.runID == "" {
		resp := sendCommand(opts, uds.CmdReport, nil)
		var out map[string]string
		if err := json.Unmarshal(resp.Data, &out); err != nil {
			fatalf("decode response: %v", err)
		}
		fmt.Print(out["report"])
		return
	}

	if opts.missionArg == "" {
		fatalf("usage: %s", usage)
	}
	m, err := mission.Load(opts.missionArg)
	if err != nil {
		fatalf("load mission: %v", err)
	}
	store := mustOpenStore(opts)
	defer store.Close()
	snap, err := store.Load(opts.runID)
	if err != nil {
		fatalf("load snapshot: %v", err)
	}

	ctrl, _ := activity.NewController(m, model.DefaultEngineConfig(), replay.NewWorld(), logging.Discard())
	if err := ctrl.Restore(snap); err != nil {
		fatalf("restore: %v", err)
	}
	text, err := ctrl.Report().Render()
	if err != nil {
		fatalf("render report: %v", err)
	}
	fmt.Print(text)
}

func runShutdown(args []string) {
	opts := parseArgs("railscript shutdown [--dir <state>]", args)
	sendCommand(opts, uds.CmdShutdown, nil)
	fmt.Println("shutdown requested")
}

func sendCommand(opts cliOptions, command string, params any) *uds.Response {
	stateDir := resolveStateDir(opts, false)
	cfg, err := loadConfig(stateDir, opts.configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	client := uds.NewClient(filepath.Join(stateDir, cfg.Daemon.SocketName))
	if command != uds.CmdReport {
		client.PinRun(opts.runID)
	}
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fatalf("%v", err)
	}
	if !resp.Success {
		if resp.Error.Code == uds.ErrCodeRunMismatch {
			fatalf("%s: %s (hosted run: %s)", command, resp.Error.Message, resp.RunID)
		}
		fatalf("%s: %v", command, resp.Error)
	}
	return resp
}

func openStore(stateDir string, cfg model.Config) (snapshot.Store, error) {
	snapCfg := cfg.Snapshot
	snapCfg.Dir = inStateDir(stateDir, snapCfg.Dir)
	snapCfg.DBPath = inStateDir(stateDir, snapCfg.DBPath)
	return snapshot.Open(snapCfg, nil)
}

func mustOpenStore(opts cliOptions) snapshot.Store {
	stateDir := resolveStateDir(opts, false)
	cfg, err := loadConfig(stateDir, opts.configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	store, err := openStore(stateDir, cfg)
	if err != nil {
		fatalf("open snapshot store: %v", err)
	}
	return store
}

func inStateDir(stateDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(stateDir, path)
}

// resolveStateDir returns --dir, or the nearest .railscript/ directory above the
// working directory. With create set a missing one is made in the working
// directory.
func resolveStateDir(opts cliOptions, create bool) string {
	if opts.stateDir != "" {
		dir, err := filepath.Abs(opts.stateDir)
		if err != nil {
			fatalf("state dir: %v", err)
		}
		if create {
			if err := os.MkdirAll(dir, 0755); err != nil {
				fatalf("create state dir: %v", err)
			}
		}
		return dir
	}
	if dir := findStateDir(); dir != "" {
		return dir
	}

	cwd, err := os.Getwd()
	if err != nil {
		fatalf("working dir: %v", err)
	}
	dir := filepath.Join(cwd, setup.StateDirName)
	if create {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fatalf("create state dir: %v", err)
		}
	}
	return dir
}

func findStateDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, setup.StateDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadConfig reads configPath, or config.yaml in the state dir. A missing
// default config file means all defaults.
func loadConfig(stateDir, configPath string) (model.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(stateDir, "config.yaml")
	}

	var cfg model.Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return model.Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && configPath == "":
	default:
		return model.Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `railscript %s - scripted activity engine for train simulation

Usage: railscript <command> [options]

Setup:
  init [project-dir] [--name <name>]               Create a state directory with a default config

Missions:
  validate <mission.yaml> [--json]                 Check a mission file
  run <mission.yaml> <telemetry.jsonl> [flags]     Replay recorded telemetry and print the report
      --no-auto-ack      stop at the first event instead of acknowledging it
      --resume <run_id>  continue from a stored snapshot
      --save             store a snapshot of the final state

Live runs:
  daemon <mission.yaml> <feed.jsonl> [--resume <run_id>]   Tail a live telemetry feed
  status [--json]                                  Show daemon, live run and snapshots
  ack <event_id> [--run <run_id>]                  Acknowledge the pending event
  message <header> [body] [--run <run_id>]         Queue a message event
  snapshot save|list|delete <run_id>               Manage snapshots
  report [--mission <file> --run <run_id>]         Render the evaluation report
  shutdown                                         Stop the daemon

Common flags:
  --dir <state>      state directory (default: nearest %s/)
  --config <file>    config file (default: <state>/config.yaml)

  version            Show version
  help               Show this help
`, version, setup.StateDirName)
}
