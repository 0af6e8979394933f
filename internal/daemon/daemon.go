// Package daemon hosts a live run: it tails a telemetry feed written by the
// simulator, ticks the activity controller on every frame, takes periodic
// snapshots and answers CLI requests over a unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/railscript/internal/activity"
	"github.com/msageha/railscript/internal/events"
	"github.com/msageha/railscript/internal/lock"
	"github.com/msageha/railscript/internal/logging"
	"github.com/msageha/railscript/internal/model"
	"github.com/msageha/railscript/internal/notify"
	"github.com/msageha/railscript/internal/replay"
	"github.com/msageha/railscript/internal/snapshot"
	"github.com/msageha/railscript/internal/uds"
)

const busBufferSize = 256

// Daemon is the long-running host of one run.
type Daemon struct {
	stateDir string
	feedPath string
	config   model.Config
	mission  *model.Mission
	logger   *logging.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	lockMap  *lock.MutexMap

	// mu guards the controller, the world and the feed cursor.
	mu          sync.Mutex
	world       *replay.World
	ctrl        *activity.Controller
	runner      *replay.Runner
	feed        *feedTail
	frames      int
	resumedAtS  *float64
	lastClockS  float64
	haveClock   bool
	finalSaved  bool
	resumeRunID string

	bus     *events.Bus
	journal *events.Journal
	stopLog *events.StopLog
	store   snapshot.Store
	saves   singleflight.Group
	notify  func(title, message string) error

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	loopCtx  context.Context
	loopErr  error
	ready    chan struct{}
	shutdown sync.Once
}

// New creates a daemon for mission m fed by the JSONL file at feedPath. Its
// log, lock, socket and relative output paths live under stateDir.
func New(stateDir, feedPath string, cfg model.Config, m *model.Mission) (*Daemon, error) {
	logPath := filepath.Join(stateDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	d, err := newDaemon(stateDir, feedPath, cfg, m, logFile, logFile)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	return d, nil
}

// newDaemon is the internal constructor for testing.
func newDaemon(stateDir, feedPath string, cfg model.Config, m *model.Mission, w io.Writer, closer io.Closer) (*Daemon, error) {
	cfg.ApplyDefaults()
	logger := logging.New(w, logging.ParseLogLevel(cfg.Logging.Level), "daemon")

	runID, err := model.GenerateID(model.IDTypeRun)
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	world := replay.NewWorld()
	ctrl, warnings := activity.NewController(m, cfg.Engine, world, logger.With("activity"))
	if len(warnings) > 0 {
		logger.Warnf("mission %q loaded with %d content warnings", m.Name, len(warnings))
	}
	ctrl.SetRunID(runID)
	runner := replay.NewRunner(ctrl, world, replay.Options{AutoAcknowledge: cfg.Daemon.AutoAcknowledge}, logger.With("feed"))

	server := uds.NewServer(filepath.Join(stateDir, cfg.Daemon.SocketName))
	server.SetLogger(logger.With("uds"))

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		stateDir: stateDir,
		feedPath: feedPath,
		config:   cfg,
		mission:  m,
		logger:   logger,
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(stateDir, "locks", "daemon.lock")),
		server:   server,
		lockMap:  lock.NewMutexMap(),
		world:    world,
		ctrl:     ctrl,
		runner:   runner,
		feed:     newFeedTail(feedPath),
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		notify:   notify.Send,
	}
	return d, nil
}

// SetResume makes Run restore the latest snapshot of runID before reading the
// feed. Frames at or before the snapshot's last sample are skipped.
// Must be called before Run().
func (d *Daemon) SetResume(runID string) {
	d.resumeRunID = runID
}

// RunID returns the id snapshots and journal entries are filed under.
func (d *Daemon) RunID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.RunID()
}

// Ready is closed once Run has started serving.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// SocketPath returns the path of the control socket.
func (d *Daemon) SocketPath() string {
	return d.server.SocketPath()
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.start(); err != nil {
		return err
	}
	d.waitSignals()
	return d.loopErr
}

func (d *Daemon) start() error {
	// Step 1: Acquire file lock
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logger.Infof("daemon starting pid=%d mission=%q feed=%s", os.Getpid(), d.mission.Name, d.feedPath)

	// Step 2: Open snapshot store, journal and stop log
	if err := d.openSinks(); err != nil {
		d.cleanup()
		return err
	}

	// Step 3: Resume from a snapshot
	if d.resumeRunID != "" {
		if err := d.resume(d.resumeRunID); err != nil {
			d.cleanup()
			return err
		}
	}

	// Step 4: Watch the feed directory
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	feedDir := filepath.Dir(d.feedPath)
	if err := os.MkdirAll(feedDir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure dir %s: %w", feedDir, err)
	}
	if err := watcher.Add(feedDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", feedDir, err)
	}

	// Step 5: Register UDS handlers and start the server
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.logger.Infof("UDS server listening on %s", d.server.SocketPath())

	// Step 6: Start background loops
	group, loopCtx := errgroup.WithContext(d.ctx)
	d.group = group
	d.loopCtx = loopCtx
	group.Go(func() error { return d.feedLoop(loopCtx) })
	group.Go(func() error { return d.scanLoop(loopCtx) })
	group.Go(func() error { return d.snapshotLoop(loopCtx) })
	group.Go(func() error {
		<-loopCtx.Done()
		return d.server.Stop()
	})

	// Step 7: Catch up with frames already in the feed
	d.pollFeed()
	d.logger.Infof("daemon ready run_id=%s", d.RunID())
	close(d.ready)
	return nil
}

func (d *Daemon) openSinks() error {
	snapCfg := d.config.Snapshot
	snapCfg.Dir = d.resolve(snapCfg.Dir)
	snapCfg.DBPath = d.resolve(snapCfg.DBPath)
	store, err := snapshot.Open(snapCfg, d.lockMap)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	d.store = store

	journal, err := events.NewJournal(d.resolve(d.config.Journal.Path), d.config.Journal.MaxBytes)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	d.journal = journal

	d.bus = events.NewBus(busBufferSize)
	d.bus.SubscribeAll(func(e events.Event) {
		if err := d.journal.Record(e); err != nil {
			d.logger.Errorf("journal %s: %v", e.Type, err)
		}
	})

	if d.config.Daemon.Notify && !d.config.Daemon.AutoAcknowledge {
		d.bus.Subscribe(events.EventConditionFired, d.notifyPending)
	}

	if d.config.StopLog.Enabled {
		stopLog, err := events.NewStopLog(d.resolve(d.config.StopLog.Path), d.config.StopLog.MaxBytes)
		if err != nil {
			return fmt.Errorf("open stop log: %w", err)
		}
		d.stopLog = stopLog
	}

	d.mu.Lock()
	d.ctrl.SetPublisher(d.bus)
	if d.stopLog != nil {
		d.ctrl.SetLogSink(d.stopLog, d.config.StopLog.Separator)
	}
	d.mu.Unlock()
	return nil
}

// notifyPending tells the player an event is waiting for "railscript ack".
func (d *Daemon) notifyPending(e events.Event) {
	msg := fmt.Sprintf("%v (railscript ack %v)", e.Data["header"], e.Data["event_id"])
	if err := d.notify(d.mission.Name, msg); err != nil {
		d.logger.Warnf("desktop notification: %v", err)
	}
}

func (d *Daemon) resume(runID string) error {
	snap, err := d.store.Load(runID)
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", runID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ctrl.Restore(snap); err != nil {
		return fmt.Errorf("restore %s: %w", runID, err)
	}
	if snap.Evaluation.HasSample {
		at := snap.Evaluation.LastSampleS
		d.resumedAtS = &at
		d.lastClockS = at
		d.haveClock = true
	}
	d.finalSaved = snap.Completed
	d.logger.Infof("resumed run_id=%s saved_at=%s", runID, snap.SavedAt)
	return nil
}

func (d *Daemon) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(d.stateDir, path)
}

// feedLoop reads the feed whenever fsnotify reports a change to it. Bursts of
// writes are coalesced over watcher.debounce_sec.
func (d *Daemon) feedLoop(ctx context.Context) error {
	debounce := time.Duration(d.config.Watcher.DebounceSec * float64(time.Second))
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(d.feedPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			d.logger.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
			if debounce <= 0 {
				d.pollFeed()
			} else if pending == nil {
				pending = time.After(debounce)
			}
		case <-pending:
			pending = nil
			d.pollFeed()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Errorf("fsnotify error=%v", err)
		}
	}
}

// scanLoop polls the feed at watcher.scan_interval_sec in case an fsnotify
// event was lost.
func (d *Daemon) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(d.config.Watcher.ScanIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.pollFeed()
		}
	}
}

func (d *Daemon) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(d.config.Snapshot.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.logger.Debugf("periodic snapshot triggered")
			if _, err := d.saveSnapshot(); err != nil {
				d.logger.Errorf("periodic snapshot: %v", err)
			}
		}
	}
}

// pollFeed applies every frame appended to the feed since the last poll.
func (d *Daemon) pollFeed() {
	d.mu.Lock()
	frames, bad, err := d.feed.readNew()
	if err != nil {
		d.mu.Unlock()
		d.logger.Errorf("read feed: %v", err)
		return
	}
	for _, b := range bad {
		d.logger.Warnf("skip malformed frame at offset %d: %v", b.offset, b.err)
	}

	completed := false
	for i := range frames {
		if d.step(&frames[i]) {
			completed = true
		}
	}
	d.mu.Unlock()

	if completed {
		if _, err := d.saveSnapshot(); err != nil {
			d.logger.Errorf("final snapshot: %v", err)
		}
	}
}

// step ticks the controller with f and reports whether the run just completed.
// Callers hold d.mu.
func (d *Daemon) step(f *replay.Frame) bool {
	if d.resumedAtS != nil && f.Clock <= *d.resumedAtS {
		return false
	}
	if d.haveClock && f.Clock < d.lastClockS {
		d.logger.Warnf("skip frame: clock %.3f goes backwards from %.3f", f.Clock, d.lastClockS)
		return false
	}
	d.lastClockS = f.Clock
	d.haveClock = true
	d.frames++

	out := d.runner.Step(f)
	for _, n := range out.Notices {
		d.logger.Debugf("notice kind=%s task=%d", n.Kind, n.TaskIndex)
	}
	if out.Completed && !d.finalSaved {
		d.finalSaved = true
		d.logger.Infof("activity completed status=%s clock=%.1f", d.ctrl.Status(), f.Clock)
		return true
	}
	return false
}

// saveSnapshot stores the current run state. Concurrent calls share one save.
func (d *Daemon) saveSnapshot() (*model.ActivitySnapshot, error) {
	runID := d.RunID()
	v, err, shared := d.saves.Do(runID, func() (interface{}, error) {
		d.mu.Lock()
		snap := d.ctrl.Snapshot()
		d.mu.Unlock()
		if err := d.store.Save(snap); err != nil {
			return nil, err
		}
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("save snapshot %s: %w", runID, err)
	}
	snap := v.(*model.ActivitySnapshot)
	d.logger.Debugf("snapshot saved run_id=%s saved_at=%s shared=%v", runID, snap.SavedAt, shared)
	return snap, nil
}

// waitSignals blocks until a shutdown signal is received or shutdown is
// requested over the socket.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Infof("received signal=%s, initiating graceful shutdown", sig)
		// Second signal → force exit
		go func() {
			<-sigCh
			d.logger.Warnf("received second signal, forcing exit")
			os.Exit(1)
		}()
	case <-d.loopCtx.Done():
	}

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Infof("shutdown started")

		// 1. Cancel context (stops the loops)
		d.cancel()

		// 2. Stop producers
		if d.watcher != nil {
			d.watcher.Close()
		}
		d.server.Stop()

		// 3. Drain loops with timeout
		if d.group != nil {
			timeout := d.config.Daemon.ShutdownTimeoutSec
			done := make(chan struct{})
			go func() {
				d.loopErr = d.group.Wait()
				close(done)
			}()

			select {
			case <-done:
				d.logger.Infof("all loops drained")
			case <-time.After(time.Duration(timeout) * time.Second):
				d.logger.Warnf("shutdown timeout after %ds, some operations may be incomplete", timeout)
			}
		}

		// 4. Final snapshot
		if d.store != nil {
			if _, err := d.saveSnapshot(); err != nil {
				d.logger.Errorf("shutdown snapshot: %v", err)
			}
		}

		// 5. Cleanup
		d.cleanup()
		d.logger.Infof("daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	_ = os.Remove(d.server.SocketPath())
	if d.bus != nil {
		d.bus.Close()
	}
	var errs []error
	if d.journal != nil {
		errs = append(errs, d.journal.Close())
	}
	if d.stopLog != nil {
		errs = append(errs, d.stopLog.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		d.logger.Errorf("close sinks: %v", err)
	}
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}
