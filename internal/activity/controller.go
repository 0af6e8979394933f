package activity

import (
	"fmt"
	"math"
	"time"

	"github.com/msageha/railscript/internal/evaluation"
	"github.com/msageha/railscript/internal/events"
	"github.com/msageha/railscript/internal/logging"
	"github.com/msageha/railscript/internal/model"
	"github.com/msageha/railscript/internal/task"
)

// EventID identifies a pending event; it is the id of the condition that fired.
type EventID int

// Event is a fired condition awaiting acknowledgement.
type Event struct {
	ID     EventID
	Header string
	Text   string
}

// TickOutcome is everything the host needs to apply after a tick.
type TickOutcome struct {
	// PendingEvent is the event awaiting acknowledgement, new or not.
	PendingEvent *Event
	// NewEvent is set when PendingEvent must be shown to the player this tick.
	NewEvent       bool
	PauseRequested bool
	Completed      bool
	// Succeeded is nil until the activity is completed.
	Succeeded *bool
	Notices   []task.Notice
}

const (
	closingHeaderSuccess = "Activity completed"
	closingHeaderFailure = "Activity failed"
)

// Controller ticks the activation graph, the task chain and the evaluation
// meters of one run. It is not safe for concurrent use.
type Controller struct {
	mission *model.Mission
	cfg     model.EngineConfig
	graph   *Graph
	chain   *task.Chain
	eval    *evaluation.Accumulator

	registry  TrainRegistry
	lifecycle TrainLifecycle
	publisher Publisher
	logger    *logging.Logger

	runID         string
	startTimeS    float64
	messages      []model.MessageSnapshot
	nextMessageID int

	completed     bool
	succeeded     bool
	failMessage   string
	closingIssued bool
	pending       *model.Condition
	reannounce    bool
	effects       []model.Effect

	motion model.MotionSnapshot
}

// NewController builds a controller for m. Content errors found while building
// the task chain are returned as warnings; they never prevent the run.
func NewController(m *model.Mission, cfg model.EngineConfig, registry TrainRegistry, logger *logging.Logger) (*Controller, []error) {
	chainOpts := task.Options{
		MissedCheckIntervalS: cfg.MissedCheckIntervalS,
		MissedDistanceM:      cfg.MissedDistanceM,
		SignalLookaheadM:     cfg.SignalLookaheadM,
		Separator:            "\t",
	}
	chain, warnings := task.NewChain(m, chainOpts, logger.With("task"))

	c := &Controller{
		mission:    m,
		cfg:        cfg,
		graph:      NewGraph(m.Conditions),
		chain:      chain,
		registry:   registry,
		logger:     logger,
		startTimeS: m.StartTimeS,
		eval: evaluation.NewAccumulator(evaluation.Options{
			OverspeedMarginMps: cfg.OverspeedMarginMps,
			SlowBrakeSpeedMps:  cfg.SlowBrakeSpeedMps,
		}),
	}
	c.nextMessageID = c.graph.MaxID() + 1

	for _, cond := range c.graph.Conditions() {
		for _, err := range c.danglingRefs(cond) {
			warnings = append(warnings, err)
			logger.Warnf("content_error %v", err)
		}
	}
	return c, warnings
}

func (c *Controller) danglingRefs(cond *model.Condition) []error {
	var errs []error
	check := func(field string, ids []int) {
		for _, id := range ids {
			if _, ok := c.graph.Get(id); !ok {
				errs = append(errs, &ContentError{ConditionID: cond.ID, Field: field, RefID: id})
			}
		}
	}
	check("activate_ids", cond.Outcome.ActivateIDs)
	check("restore_ids", cond.Outcome.RestoreIDs)
	check("decrement_ids", cond.Outcome.DecrementIDs)
	check("increment_ids", cond.Outcome.IncrementIDs)
	return errs
}

// SetLifecycle attaches the host that restarts waiting AI trains.
func (c *Controller) SetLifecycle(l TrainLifecycle) {
	c.lifecycle = l
}

// SetPublisher attaches the sink for engine events.
func (c *Controller) SetPublisher(p Publisher) {
	c.publisher = p
}

// SetLogSink attaches the station-stop record sink.
func (c *Controller) SetLogSink(sink task.LogSink, separator string) {
	c.chain.SetLogSink(sink, separator)
}

// SetReservations attaches the platform occupancy the task chain releases.
func (c *Controller) SetReservations(r task.Reservations) {
	c.chain.SetReservations(r)
}

// SetRunID sets the id published with every event and stored in snapshots.
func (c *Controller) SetRunID(id string) {
	c.runID = id
}

func (c *Controller) RunID() string {
	return c.runID
}

// Tick advances the run by one simulation step.
func (c *Controller) Tick(tel Telemetry) TickOutcome {
	var out TickOutcome

	c.disarmFired()

	if !c.completed && c.pending == nil {
		if cond := c.scan(tel); cond != nil {
			out.NewEvent = true
			out.PauseRequested = true
		}
	}

	if c.reannounce && c.pending != nil {
		out.NewEvent = true
		out.PauseRequested = true
	}
	c.reannounce = false

	if c.completed && c.pending == nil && !c.closingIssued {
		c.issueClosing()
		out.NewEvent = true
		out.PauseRequested = true
	}

	if _, ok := tel.ActiveTrain(); ok {
		out.Notices = c.advanceTasks(tel)
		c.eval.Record(evaluation.Sample{
			ClockS:           tel.ClockS(),
			SpeedMps:         tel.SpeedMps(),
			AllowedSpeedMps:  tel.AllowedSpeedMps(),
			TrainMaxSpeedMps: tel.TrainMaxSpeedMps(),
			EmergencyBraking: tel.EmergencyBraking(),
			AutopilotActive:  tel.AutopilotActive(),
		})
	}
	if c.completed {
		c.eval.Freeze(tel.ClockS())
	}

	out.PendingEvent = c.PendingEvent()
	out.Completed = c.completed
	out.Succeeded = c.Succeeded()
	return out
}

// disarmFired forces the activation level of fired one-shot conditions to zero,
// once, on the tick after they fired.
func (c *Controller) disarmFired() {
	for _, cond := range c.graph.Conditions() {
		if cond.Reversible || cond.Disarmed || cond.TimesTriggered < 1 {
			continue
		}
		cond.ActivationLevel = 0
		cond.Disarmed = true
	}
}

// scan fires the first eligible condition whose trigger holds and returns it.
func (c *Controller) scan(tel Telemetry) *model.Condition {
	env := evalEnv{
		tel:          tel,
		registry:     c.registry,
		startTimeS:   c.startTimeS,
		stopSpeedMps: c.cfg.StopSpeedMps,
	}
	for _, cond := range c.graph.Conditions() {
		if !Eligible(cond) {
			continue
		}
		if !Evaluate(cond, env) {
			if cond.Reversible && !cond.Enabled {
				cond.Enabled = true
				c.logger.Debugf("condition_rearmed id=%d", cond.ID)
			}
			continue
		}
		if !cond.Enabled {
			continue
		}
		c.fire(cond, tel.ClockS())
		return cond
	}
	return nil
}

func (c *Controller) fire(cond *model.Condition, now float64) {
	cond.TimesTriggered++
	if cond.Reversible {
		cond.Enabled = false
	}
	c.logger.Infof("condition_fired id=%d name=%q times=%d", cond.ID, cond.Name, cond.TimesTriggered)

	if cond.TimesTriggered <= 1 {
		res := ApplyOutcome(c.graph, cond.ID, cond.Outcome)
		for _, err := range res.Errors {
			c.logger.Warnf("content_error %v", err)
		}
		c.effects = append(c.effects, res.Effects...)
		if res.Restart != nil {
			if c.lifecycle != nil {
				c.lifecycle.RestartWaitingTrain(*res.Restart)
			} else {
				c.logger.Warnf("restart_waiting_train train=%s dropped: no lifecycle attached", res.Restart.Train)
			}
		}
		if res.Terminal {
			c.complete(res.Success, res.FailMessage, now)
		}
	}

	c.pending = cond
	c.publish(events.EventConditionFired, map[string]interface{}{
		"event_id": cond.ID,
		"header":   cond.Header(),
		"clock_s":  now,
	})
}

// complete marks the run terminal. The first terminal outcome wins.
func (c *Controller) complete(success bool, failMessage string, now float64) {
	if c.completed {
		return
	}
	c.completed = true
	c.succeeded = success
	c.failMessage = failMessage
	c.logger.Infof("activity_completed success=%t elapsed_s=%.0f", success, now-c.startTimeS)
	c.publish(events.EventActivityCompleted, map[string]interface{}{
		"success":      success,
		"fail_message": failMessage,
		"clock_s":      now,
	})
}

func (c *Controller) issueClosing() {
	header, body := closingHeaderSuccess, "The activity has been completed successfully."
	if !c.succeeded {
		header, body = closingHeaderFailure, "The activity has ended without success."
		if c.failMessage != "" {
			body = c.failMessage
		}
	}
	cond := c.appendMessage(header, body)
	cond.TimesTriggered = 1
	c.pending = cond
	c.closingIssued = true
	c.publish(events.EventConditionFired, map[string]interface{}{
		"event_id": cond.ID,
		"header":   header,
		"closing":  true,
	})
}

// AddMessage injects a message that becomes the pending event as soon as
// nothing else is pending. Messages added after completion are never shown.
func (c *Controller) AddMessage(header, body string) EventID {
	cond := c.appendMessage(header, body)
	return EventID(cond.ID)
}

func (c *Controller) appendMessage(header, body string) *model.Condition {
	id := c.nextMessageID
	c.nextMessageID++
	cond := &model.Condition{
		ID:                      id,
		Name:                    header,
		ActivationLevel:         1,
		OriginalActivationLevel: 1,
		Enabled:                 true,
		Trigger:                 &model.MessageTrigger{Header: header, Body: body},
	}
	c.graph.add(cond)
	c.messages = append(c.messages, model.MessageSnapshot{ID: id, Header: header, Body: body})
	return cond
}

// Acknowledge clears the pending event if id names it.
func (c *Controller) Acknowledge(id EventID) error {
	if c.pending == nil {
		return ErrNoPendingEvent
	}
	if EventID(c.pending.ID) != id {
		return &AckMismatchError{Pending: EventID(c.pending.ID), Got: id}
	}
	c.logger.Debugf("event_acknowledged id=%d", id)
	c.pending = nil
	c.reannounce = false
	c.publish(events.EventAcknowledged, map[string]interface{}{"event_id": int(id)})
	return nil
}

// advanceTasks derives TrainStop/TrainStart edges from the train speed and
// feeds them, followed by a Timer event, to the task chain.
func (c *Controller) advanceTasks(tel Telemetry) []task.Notice {
	now := tel.ClockS()
	speed := math.Abs(tel.SpeedMps())
	thr := c.cfg.StopSpeedMps

	notices := c.chain.CheckMissed(tel)

	stopped := speed < thr
	edgeAt := now
	if c.motion.SpeedKnown && now > c.motion.LastClockS && c.motion.LastSpeedMps != speed {
		frac := (c.motion.LastSpeedMps - thr) / (c.motion.LastSpeedMps - speed)
		if frac >= 0 && frac <= 1 {
			edgeAt = c.motion.LastClockS + frac*(now-c.motion.LastClockS)
		}
	}
	switch {
	case stopped && (!c.motion.SpeedKnown || !c.motion.TrainStopped):
		notices = append(notices, c.chain.Notify(task.EventTrainStop, tel, edgeAt)...)
	case !stopped && c.motion.SpeedKnown && c.motion.TrainStopped:
		notices = append(notices, c.chain.Notify(task.EventTrainStart, tel, edgeAt)...)
	}
	c.motion = model.MotionSnapshot{
		SpeedKnown:   true,
		TrainStopped: stopped,
		LastSpeedMps: speed,
		LastClockS:   now,
	}

	notices = append(notices, c.chain.Notify(task.EventTimer, tel, now)...)

	for _, n := range notices {
		c.handleNotice(n)
	}
	return notices
}

func (c *Controller) handleNotice(n task.Notice) {
	data := map[string]interface{}{
		"task":    n.TaskIndex,
		"station": n.Station,
		"clock_s": n.AtS,
	}
	switch n.Kind {
	case task.NoticeArrived:
		c.publish(events.EventStationArrived, data)
	case task.NoticeMayDepart:
		c.effects = append(c.effects, model.Effect{Kind: model.EffectDepartureCue, Station: n.Station})
		c.publish(events.EventStationMayDepart, data)
	case task.NoticeDeparted, task.NoticeDepartedEarly:
		if n.Kind == task.NoticeDepartedEarly {
			c.eval.RecordDepartBeforeBoarding()
		}
		data["success"] = n.Success
		c.publish(events.EventStationDeparted, data)
	case task.NoticeMissed:
		c.publish(events.EventStationMissed, data)
	}
}

func (c *Controller) publish(t events.EventType, data map[string]interface{}) {
	if c.publisher == nil {
		return
	}
	if c.runID != "" {
		data["run_id"] = c.runID
	}
	c.publisher.Publish(t, data)
}

// DrainEffects returns the queued ambient effects and empties the queue.
func (c *Controller) DrainEffects() []model.Effect {
	out := c.effects
	c.effects = nil
	return out
}

// PendingEvent returns the event awaiting acknowledgement, or nil.
func (c *Controller) PendingEvent() *Event {
	if c.pending == nil {
		return nil
	}
	return &Event{ID: EventID(c.pending.ID), Header: c.pending.Header(), Text: c.pending.Text()}
}

// Paused reports whether the host should hold the simulation.
func (c *Controller) Paused() bool {
	return c.pending != nil
}

// Completed reports whether an outcome ended the activity.
func (c *Controller) Completed() bool {
	return c.completed
}

// Succeeded returns the result of a completed run, nil while running.
func (c *Controller) Succeeded() *bool {
	if !c.completed {
		return nil
	}
	v := c.succeeded
	return &v
}

func (c *Controller) Status() model.ActivityStatus {
	switch {
	case !c.completed:
		return model.ActivityStatusRunning
	case c.succeeded:
		return model.ActivityStatusSucceeded
	default:
		return model.ActivityStatusFailed
	}
}

// Condition returns the live state of condition id.
func (c *Controller) Condition(id int) (*model.Condition, bool) {
	return c.graph.Get(id)
}

// Chain returns the station-stop chain of the run.
func (c *Controller) Chain() *task.Chain {
	return c.chain
}

// Evaluation exposes the meters so the physics host can record coupler
// breaks, snapped hoses and overturns.
func (c *Controller) Evaluation() *evaluation.Accumulator {
	return c.eval
}

// Snapshot captures the full mid-run state.
func (c *Controller) Snapshot() *model.ActivitySnapshot {
	snap := &model.ActivitySnapshot{
		SchemaVersion: model.SnapshotSchemaVersion,
		FileType:      model.SnapshotFileType,
		RunID:         c.runID,
		Mission:       c.mission.Name,
		SavedAt:       time.Now().UTC().Format(time.RFC3339),
		StartTimeS:    c.startTimeS,
		Tasks:         c.chain.Snapshot(),
		CurrentTask:   c.chain.CurrentIndex(),
		Completed:     c.completed,
		Succeeded:     c.succeeded,
		FailMessage:   c.failMessage,
		ClosingIssued: c.closingIssued,
		Messages:      append([]model.MessageSnapshot(nil), c.messages...),
		Effects:       append([]model.Effect(nil), c.effects...),
		Motion:        c.motion,
		Evaluation:    c.eval.Counters(),
	}
	for _, cond := range c.graph.Conditions() {
		snap.Conditions = append(snap.Conditions, model.ConditionSnapshot{
			ID:              cond.ID,
			TimesTriggered:  cond.TimesTriggered,
			Enabled:         cond.Enabled,
			ActivationLevel: cond.ActivationLevel,
			Disarmed:        cond.Disarmed,
		})
	}
	if c.pending != nil {
		id := c.pending.ID
		snap.PendingEventID = &id
	}
	return snap
}

// Restore replaces the run state with snap. On error the controller is left
// unchanged. Condition ids unknown to the mission are ignored.
func (c *Controller) Restore(snap *model.ActivitySnapshot) error {
	if snap == nil {
		return fmt.Errorf("restore: nil snapshot")
	}
	if snap.SchemaVersion != model.SnapshotSchemaVersion {
		return fmt.Errorf("restore: unsupported schema_version %d", snap.SchemaVersion)
	}
	if snap.FileType != "" && snap.FileType != model.SnapshotFileType {
		return fmt.Errorf("restore: unexpected file_type %q", snap.FileType)
	}
	if err := c.chain.Restore(snap.Tasks, snap.CurrentTask); err != nil {
		return fmt.Errorf("restore task chain: %w", err)
	}

	c.graph = NewGraph(c.mission.Conditions)
	c.nextMessageID = c.graph.MaxID() + 1
	c.messages = nil
	for _, m := range snap.Messages {
		cond := &model.Condition{
			ID:                      m.ID,
			Name:                    m.Header,
			ActivationLevel:         1,
			OriginalActivationLevel: 1,
			Enabled:                 true,
			Trigger:                 &model.MessageTrigger{Header: m.Header, Body: m.Body},
		}
		c.graph.add(cond)
		c.messages = append(c.messages, m)
		if m.ID >= c.nextMessageID {
			c.nextMessageID = m.ID + 1
		}
	}

	for _, cs := range snap.Conditions {
		cond, ok := c.graph.Get(cs.ID)
		if !ok {
			c.logger.Warnf("restore: unknown condition %d ignored", cs.ID)
			continue
		}
		cond.TimesTriggered = cs.TimesTriggered
		cond.Enabled = cs.Enabled
		cond.ActivationLevel = cs.ActivationLevel
		cond.Disarmed = cs.Disarmed
	}

	c.pending = nil
	c.reannounce = false
	if snap.PendingEventID != nil {
		if cond, ok := c.graph.Get(*snap.PendingEventID); ok {
			c.pending = cond
			c.reannounce = true
		} else {
			c.logger.Warnf("restore: unknown pending event %d ignored", *snap.PendingEventID)
		}
	}

	c.runID = snap.RunID
	c.startTimeS = snap.StartTimeS
	c.completed = snap.Completed
	c.succeeded = snap.Succeeded
	c.failMessage = snap.FailMessage
	c.closingIssued = snap.ClosingIssued
	c.effects = append([]model.Effect(nil), snap.Effects...)
	c.motion = snap.Motion
	c.eval.Restore(snap.Evaluation)
	if c.completed && !c.eval.Frozen() {
		c.eval.Freeze(snap.Evaluation.LastSampleS)
	}
	c.logger.Infof("restored run_id=%s current_task=%d pending=%v", snap.RunID, c.chain.CurrentIndex(), snap.PendingEventID != nil)
	return nil
}

// Report renders the evaluation of the run as of the last sample.
func (c *Controller) Report() *evaluation.Report {
	counters := c.eval.Counters()
	r := &evaluation.Report{
		Mission:     c.mission.Name,
		RunID:       c.runID,
		Status:      c.Status(),
		Counters:    counters,
		GeneratedAt: time.Now(),
	}
	if counters.HasSample {
		r.ElapsedS = counters.LastSampleS - c.startTimeS
	}
	for _, t := range c.chain.Tasks() {
		r.Stops = append(r.Stops, evaluation.StopRow{
			Station:            t.Station(),
			ScheduledArrival:   task.FormatClock(t.ScheduledArrivalS),
			ActualArrival:      task.FormatOptClock(t.ActualArrivalS),
			ScheduledDeparture: task.FormatClock(t.ScheduledDepartureS),
			ActualDeparture:    task.FormatOptClock(t.ActualDepartureS),
			Delay:              task.FormatDelay(t.DelayS()),
			Status:             string(t.Status),
		})
	}
	return r
}
