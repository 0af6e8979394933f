package task

import (
	"errors"
	"fmt"
	"math"

	"github.com/msageha/railscript/internal/logging"
	"github.com/msageha/railscript/internal/model"
)

// Event is a per-tick notification delivered to the current task.
type Event int

const (
	EventTimer Event = iota
	EventTrainStart
	EventTrainStop
)

func (e Event) String() string {
	switch e {
	case EventTimer:
		return "timer"
	case EventTrainStart:
		return "train_start"
	case EventTrainStop:
		return "train_stop"
	default:
		return "unknown"
	}
}

type NoticeKind string

const (
	NoticeArrived       NoticeKind = "arrived"
	NoticeMayDepart     NoticeKind = "may_depart"
	NoticeDeparted      NoticeKind = "departed"
	NoticeDepartedEarly NoticeKind = "departed_early"
	NoticeMissed        NoticeKind = "missed"
)

// Notice reports a state change of a task back to the controller.
type Notice struct {
	Kind      NoticeKind
	TaskIndex int
	Station   string
	AtS       float64
	Completed bool
	Success   bool
}

// Reservations releases platform occupancy held for the player train.
type Reservations interface {
	ReleasePlatform(platformStartID int)
}

// LogSink receives one delimited record per arrival, departure or miss.
type LogSink interface {
	Append(record string) error
}

var ErrTaskCountMismatch = errors.New("task count mismatch")

type Options struct {
	MissedCheckIntervalS float64
	MissedDistanceM      float64
	SignalLookaheadM     float64
	Separator            string
}

func DefaultOptions() Options {
	return Options{
		MissedCheckIntervalS: model.DefaultMissedCheckIntervalS,
		MissedDistanceM:      model.DefaultMissedDistanceM,
		SignalLookaheadM:     model.DefaultSignalLookaheadM,
		Separator:            "\t",
	}
}

// Chain owns the ordered station stops and the cursor to the current one.
type Chain struct {
	tasks        []*StationStop
	current      int
	opts         Options
	sink         LogSink
	reservations Reservations
	logger       *logging.Logger
}

// NewChain builds the chain for m. Stops whose platform is unknown are skipped
// and reported as warnings.
func NewChain(m *model.Mission, opts Options, logger *logging.Logger) (*Chain, []error) {
	var warnings []error
	c := &Chain{opts: opts, logger: logger}
	for i, stop := range m.Stops {
		p, ok := m.PlatformByID(stop.PlatformStartID)
		if !ok {
			err := fmt.Errorf("stops[%d]: unknown platform %d, stop skipped", i, stop.PlatformStartID)
			warnings = append(warnings, err)
			logger.Warnf("content_error %v", err)
			continue
		}
		if stop.PlatformEndID != 0 && stop.PlatformEndID != p.EndID {
			logger.Warnf("content_error stops[%d]: platform end %d does not match platform %d end %d",
				i, stop.PlatformEndID, p.StartID, p.EndID)
		}
		c.tasks = append(c.tasks, newStationStop(stop, p))
	}
	return c, warnings
}

// SetLogSink attaches the stop-record sink; an empty separator keeps the current one.
func (c *Chain) SetLogSink(sink LogSink, separator string) {
	c.sink = sink
	if separator != "" {
		c.opts.Separator = separator
	}
}

func (c *Chain) SetReservations(r Reservations) {
	c.reservations = r
}

func (c *Chain) Len() int {
	return len(c.tasks)
}

// Task returns the task at index i.
func (c *Chain) Task(i int) (*StationStop, bool) {
	if i < 0 || i >= len(c.tasks) {
		return nil, false
	}
	return c.tasks[i], true
}

// Tasks returns the chain in schedule order.
func (c *Chain) Tasks() []*StationStop {
	return c.tasks
}

// CurrentIndex returns the cursor, equal to Len() once every task is done.
func (c *Chain) CurrentIndex() int {
	return c.current
}

func (c *Chain) Current() (*StationStop, bool) {
	return c.Task(c.current)
}

// Prev and Next are bounds-checked neighbours of the task at i.
func (c *Chain) Prev(i int) (*StationStop, bool) { return c.Task(i - 1) }
func (c *Chain) Next(i int) (*StationStop, bool) { return c.Task(i + 1) }

func (c *Chain) isLast(i int) bool {
	return i == len(c.tasks)-1
}

// Finished reports whether every task reached a terminal status.
func (c *Chain) Finished() bool {
	return c.current >= len(c.tasks)
}

// Notify delivers ev to the current task and advances the cursor past
// completed tasks. atS is the clock time at which the event actually happened,
// which may precede the current sample for TrainStop and TrainStart edges.
func (c *Chain) Notify(ev Event, tel Telemetry, atS float64) []Notice {
	t, ok := c.Current()
	if !ok {
		return nil
	}
	now := tel.ClockS()

	var notices []Notice
	switch ev {
	case EventTrainStop:
		notices = c.onTrainStop(t, tel, now, atS)
	case EventTimer:
		notices = c.onTimer(t, tel, now)
	case EventTrainStart:
		notices = c.onTrainStart(t, now)
	}
	c.advance()
	return notices
}

// CheckMissed polls the current task for a missed stop on the configured cadence.
func (c *Chain) CheckMissed(tel Telemetry) []Notice {
	t, ok := c.Current()
	if !ok || t.Arrived || t.Done() {
		return nil
	}
	now := tel.ClockS()
	if now-t.lastMissedCheckS < c.opts.MissedCheckIntervalS {
		return nil
	}
	t.lastMissedCheckS = now

	if t.pastPlatformM(tel) <= c.opts.MissedDistanceM || tel.AutopilotActive() {
		return nil
	}
	if err := t.complete(model.TaskStatusMissed, false, now); err != nil {
		c.logger.Warnf("missed_check %v", err)
		return nil
	}
	t.Message = fmt.Sprintf("Station %s missed", t.Station())
	if c.reservations != nil {
		c.reservations.ReleasePlatform(t.Platform.StartID)
	}
	c.logger.Infof("station_missed station=%q scheduled_arrival=%s", t.Station(), FormatClock(t.ScheduledArrivalS))
	c.appendRecord(t, "missed")

	idx := c.current
	c.advance()
	return []Notice{{Kind: NoticeMissed, TaskIndex: idx, Station: t.Station(), AtS: now, Completed: true}}
}

func (c *Chain) onTrainStop(t *StationStop, tel Telemetry, now, atS float64) []Notice {
	if t.Arrived || t.Done() || !t.withinPlatform(tel) {
		return nil
	}
	if err := t.transition(model.TaskStatusArrived); err != nil {
		c.logger.Warnf("train_stop %v", err)
		return nil
	}

	arrival := math.Min(atS, now)
	t.ActualArrivalS = &arrival
	t.Arrived = true
	t.BoardingS = BoardingTime(t.ScheduledArrivalS, t.ScheduledDepartureS, arrival, t.Platform.MinWaitS)
	// Boarding runs from the moment the train stopped, not from the tick that saw it.
	t.BoardingEndS = now + t.BoardingS - (now - arrival)
	t.Message = fmt.Sprintf("Arrived at %s", t.Station())

	c.logger.Infof("station_arrived station=%q delay_s=%.0f boarding_s=%.0f", t.Station(), t.DelayS(), t.BoardingS)
	c.appendRecord(t, "arrived")
	return []Notice{{Kind: NoticeArrived, TaskIndex: c.current, Station: t.Station(), AtS: now}}
}

func (c *Chain) onTimer(t *StationStop, tel Telemetry, now float64) []Notice {
	if !t.Arrived || t.MayDepart || t.Done() {
		return nil
	}

	remaining := t.BoardingEndS - now
	if remaining > 0 {
		t.Message = fmt.Sprintf("Passenger boarding completes in %d s", int(math.Ceil(remaining)))
		return nil
	}

	if sig, ok := tel.SignalAhead(); ok {
		t.DistanceToSignalM = sig.DistanceM
		if sig.HoldsTrain(c.opts.SignalLookaheadM) {
			t.Message = "Passenger boarding completed. Waiting for signal ahead to clear."
			return nil
		}
	}

	if err := t.transition(model.TaskStatusReadyToDepart); err != nil {
		c.logger.Warnf("timer %v", err)
		return nil
	}
	t.MayDepart = true
	t.Message = "Passenger boarding completed. You may depart now."
	notice := Notice{Kind: NoticeMayDepart, TaskIndex: c.current, Station: t.Station(), AtS: now}

	if c.isLast(c.current) {
		if err := t.complete(model.TaskStatusCompleted, true, now); err != nil {
			c.logger.Warnf("timer %v", err)
		} else {
			notice.Completed = true
			notice.Success = true
		}
	}
	return []Notice{notice}
}

func (c *Chain) onTrainStart(t *StationStop, now float64) []Notice {
	if !t.Arrived || t.Done() {
		return nil
	}

	departure := now
	t.ActualDepartureS = &departure
	success := t.MayDepart
	if err := t.complete(model.TaskStatusCompleted, success, now); err != nil {
		c.logger.Warnf("train_start %v", err)
		return nil
	}

	kind := NoticeDeparted
	status := "departed"
	if !success {
		kind = NoticeDepartedEarly
		status = "departed_early"
		t.Message = "Departure before passenger boarding completed"
		c.logger.Warnf("station_departed_early station=%q remaining_s=%.0f", t.Station(), t.BoardingEndS-now)
	} else {
		c.logger.Infof("station_departed station=%q", t.Station())
	}
	c.appendRecord(t, status)
	return []Notice{{Kind: kind, TaskIndex: c.current, Station: t.Station(), AtS: now, Completed: true, Success: success}}
}

func (c *Chain) advance() {
	for c.current < len(c.tasks) && c.tasks[c.current].Done() {
		c.current++
	}
}

func (c *Chain) appendRecord(t *StationStop, status string) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Append(FormatRecord(t, status, c.opts.Separator)); err != nil {
		c.logger.Warnf("stop_log append failed: %v", err)
	}
}

// Snapshot returns the persisted form of every task.
func (c *Chain) Snapshot() []model.TaskSnapshot {
	out := make([]model.TaskSnapshot, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t.snapshot())
	}
	return out
}

// Restore overwrites the chain state. The snapshot must list the same tasks in
// the same order as the mission.
func (c *Chain) Restore(tasks []model.TaskSnapshot, current int) error {
	if len(tasks) != len(c.tasks) {
		return fmt.Errorf("%w: snapshot has %d, mission has %d", ErrTaskCountMismatch, len(tasks), len(c.tasks))
	}
	if current < 0 || current > len(c.tasks) {
		return fmt.Errorf("current task index %d out of range [0,%d]", current, len(c.tasks))
	}
	for i, ts := range tasks {
		if err := c.tasks[i].checkSnapshot(ts); err != nil {
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}
	for i, ts := range tasks {
		c.tasks[i].restore(ts)
	}
	c.current = current
	c.advance()
	return nil
}
