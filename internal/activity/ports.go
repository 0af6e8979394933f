// Package activity drives the scripted layer of a run: scripted conditions and
// their outcome cascades, the station-stop task chain and the evaluation meters.
package activity

import (
	"github.com/msageha/railscript/internal/events"
	"github.com/msageha/railscript/internal/model"
)

// Telemetry is the read-only simulation state sampled once per tick.
type Telemetry interface {
	ClockS() float64
	// ActiveTrain returns the train the player currently drives, if any.
	ActiveTrain() (model.TrainID, bool)
	SpeedMps() float64
	Position() model.Location
	TrainLengthM() float64
	SignalAhead() (model.SignalState, bool)
	AllowedSpeedMps() float64
	TrainMaxSpeedMps() float64
	EmergencyBraking() bool
	AutopilotActive() bool
}

// TrainRegistry answers composition queries over every train in the world.
type TrainRegistry interface {
	// FindByComposition returns the train carrying all wagonIDs; with ordered
	// set they must appear consecutively in the listed order.
	FindByComposition(wagonIDs []string, ordered bool) (model.TrainID, bool)
	Consist(id model.TrainID) ([]string, bool)
	TrainPosition(id model.TrainID) (model.Location, bool)
	TrainSpeedMps(id model.TrainID) (float64, bool)
}

// TrainLifecycle restarts AI trains held by the activity.
type TrainLifecycle interface {
	RestartWaitingTrain(req model.RestartRequest)
}

// Publisher receives engine events. *events.Bus satisfies it.
type Publisher interface {
	Publish(eventType events.EventType, data map[string]interface{})
}
