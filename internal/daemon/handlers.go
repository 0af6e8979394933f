package daemon

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/msageha/railscript/internal/activity"
	"github.com/msageha/railscript/internal/model"
	"github.com/msageha/railscript/internal/uds"
)

// EventView is a pending event as reported over the socket.
type EventView struct {
	ID     int    `json:"id"`
	Header string `json:"header"`
	Text   string `json:"text,omitempty"`
}

// TaskView is one station stop as reported over the socket.
type TaskView struct {
	Station            string  `json:"station"`
	Status             string  `json:"status"`
	ScheduledArrival   float64 `json:"scheduled_arrival_s"`
	ScheduledDeparture float64 `json:"scheduled_departure_s"`
	Message            string  `json:"message,omitempty"`
}

// StatusResult is the payload of the status command.
type StatusResult struct {
	RunID        string     `json:"run_id"`
	Mission      string     `json:"mission"`
	Status       string     `json:"status"`
	Paused       bool       `json:"paused"`
	PendingEvent *EventView `json:"pending_event,omitempty"`
	CurrentTask  int        `json:"current_task"`
	Tasks        []TaskView `json:"tasks,omitempty"`
	Frames       int        `json:"frames"`
	ClockS       float64    `json:"clock_s"`
	Feed         string     `json:"feed"`
}

// SnapshotResult is the payload of the snapshot command.
type SnapshotResult struct {
	RunID   string `json:"run_id"`
	SavedAt string `json:"saved_at"`
	Backend string `json:"backend"`
}

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.SetRunID(d.RunID)
	d.server.Handle(uds.CmdPing, func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle(uds.CmdStatus, d.handleStatus)
	d.server.Handle(uds.CmdAck, d.handleAck)
	d.server.Handle(uds.CmdMessage, d.handleMessage)
	d.server.Handle(uds.CmdEffects, d.handleEffects)
	d.server.Handle(uds.CmdReport, d.handleReport)

	d.server.Handle(uds.CmdSnapshot, func(req *uds.Request) *uds.Response {
		snap, err := d.saveSnapshot()
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		return uds.SuccessResponse(SnapshotResult{
			RunID:   snap.RunID,
			SavedAt: snap.SavedAt,
			Backend: d.config.Snapshot.Backend,
		})
	})

	d.server.Handle(uds.CmdShutdown, func(req *uds.Request) *uds.Response {
		d.logger.Infof("shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) status() StatusResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := StatusResult{
		RunID:       d.ctrl.RunID(),
		Mission:     d.mission.Name,
		Status:      string(d.ctrl.Status()),
		Paused:      d.ctrl.Paused(),
		CurrentTask: d.ctrl.Chain().CurrentIndex(),
		Frames:      d.frames,
		ClockS:      d.lastClockS,
		Feed:        d.feedPath,
	}
	if ev := d.ctrl.PendingEvent(); ev != nil {
		res.PendingEvent = &EventView{ID: int(ev.ID), Header: ev.Header, Text: ev.Text}
	}
	for _, t := range d.ctrl.Chain().Tasks() {
		res.Tasks = append(res.Tasks, TaskView{
			Station:            t.Station(),
			Status:             string(t.Status),
			ScheduledArrival:   t.ScheduledArrivalS,
			ScheduledDeparture: t.ScheduledDepartureS,
			Message:            t.Message,
		})
	}
	return res
}

func (d *Daemon) handleStatus(req *uds.Request) *uds.Response {
	return uds.SuccessResponse(d.status())
}

func (d *Daemon) handleAck(req *uds.Request) *uds.Response {
	var params uds.AckParams
	if err := decodeParams(req, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}

	d.mu.Lock()
	err := d.ctrl.Acknowledge(activity.EventID(params.EventID))
	d.mu.Unlock()

	var mismatch *activity.AckMismatchError
	switch {
	case err == nil:
		d.logger.Infof("event %d acknowledged via UDS", params.EventID)
		return uds.SuccessResponse(uds.AckResult{Acknowledged: params.EventID})
	case errors.Is(err, activity.ErrNoPendingEvent):
		return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
	case errors.As(err, &mismatch):
		return uds.ErrorResponse(uds.ErrCodeAckMismatch, err.Error())
	default:
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
}

func (d *Daemon) handleMessage(req *uds.Request) *uds.Response {
	var params uds.MessageParams
	if err := decodeParams(req, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if params.Header == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "header is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctrl.Completed() {
		return uds.ErrorResponse(uds.ErrCodeCompleted, "activity already completed")
	}
	id := d.ctrl.AddMessage(params.Header, params.Body)
	return uds.SuccessResponse(uds.MessageResult{EventID: int(id)})
}

// handleEffects hands the queued sound cues and weather changes to the caller
// and empties the queue.
func (d *Daemon) handleEffects(req *uds.Request) *uds.Response {
	d.mu.Lock()
	effects := d.ctrl.DrainEffects()
	d.mu.Unlock()
	if effects == nil {
		effects = []model.Effect{}
	}
	return uds.SuccessResponse(map[string][]model.Effect{"effects": effects})
}

func (d *Daemon) handleReport(req *uds.Request) *uds.Response {
	d.mu.Lock()
	report := d.ctrl.Report()
	d.mu.Unlock()

	text, err := report.Render()
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(map[string]string{"report": text})
}

func decodeParams(req *uds.Request, v any) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("missing params")
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
