// Package replay plays recorded telemetry frames against an activity controller.
package replay

import (
	"github.com/msageha/railscript/internal/model"
)

// Incident kinds a frame may carry for the physics host counters.
const (
	IncidentCouplerBreak = "coupler_break"
	IncidentSnappedHose  = "snapped_hose"
	IncidentOverturn     = "overturn"
)

// TrainState is one train of the world as seen in a frame.
type TrainState struct {
	ID       model.TrainID  `json:"id"`
	Consist  []string       `json:"consist"`
	Position model.Location `json:"position"`
	Speed    float64        `json:"speed_mps"`
}

// Frame is one recorded simulation step. It implements activity.Telemetry.
type Frame struct {
	Clock          float64            `json:"clock_s"`
	Train          model.TrainID      `json:"active_train,omitempty"`
	Speed          float64            `json:"speed_mps"`
	Pos            model.Location     `json:"position"`
	Length         float64            `json:"train_length_m"`
	Signal         *model.SignalState `json:"signal,omitempty"`
	Allowed        float64            `json:"allowed_speed_mps"`
	TrainMax       float64            `json:"train_max_speed_mps"`
	EmergencyBrake bool               `json:"emergency_brake,omitempty"`
	Autopilot      bool               `json:"autopilot,omitempty"`
	Trains         []TrainState       `json:"trains,omitempty"`
	Incidents      []string           `json:"incidents,omitempty"`
}

func (f *Frame) ClockS() float64 { return f.Clock }

func (f *Frame) ActiveTrain() (model.TrainID, bool) {
	return f.Train, f.Train != ""
}

func (f *Frame) SpeedMps() float64        { return f.Speed }
func (f *Frame) Position() model.Location { return f.Pos }
func (f *Frame) TrainLengthM() float64    { return f.Length }

func (f *Frame) SignalAhead() (model.SignalState, bool) {
	if f.Signal == nil {
		return model.SignalState{}, false
	}
	return *f.Signal, true
}

func (f *Frame) AllowedSpeedMps() float64  { return f.Allowed }
func (f *Frame) TrainMaxSpeedMps() float64 { return f.TrainMax }
func (f *Frame) EmergencyBraking() bool    { return f.EmergencyBrake }
func (f *Frame) AutopilotActive() bool     { return f.Autopilot }

// train returns the state of id. The active train falls back to the frame's
// own position and speed when it is not listed.
func (f *Frame) train(id model.TrainID) (TrainState, bool) {
	for _, t := range f.Trains {
		if t.ID == id {
			return t, true
		}
	}
	if id != "" && id == f.Train {
		return TrainState{ID: id, Position: f.Pos, Speed: f.Speed}, true
	}
	return TrainState{}, false
}
