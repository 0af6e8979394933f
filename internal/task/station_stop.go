// Package task implements the ordered chain of scheduled station stops.
package task

import (
	"fmt"
	"math"

	"github.com/msageha/railscript/internal/model"
)

// Telemetry is the read-only view of the player train a station stop needs.
type Telemetry interface {
	ClockS() float64
	Position() model.Location
	TrainLengthM() float64
	SignalAhead() (model.SignalState, bool)
	AutopilotActive() bool
}

// StationStop is a scheduled stop at a platform.
type StationStop struct {
	Platform            model.Platform
	ScheduledArrivalS   float64
	ScheduledDepartureS float64
	ActualArrivalS      *float64
	ActualDepartureS    *float64
	BoardingS           float64
	BoardingEndS        float64
	Arrived             bool
	MayDepart           bool
	Status              model.TaskStatus
	IsCompleted         *bool
	CompletedAtS        float64
	Message             string
	DistanceToSignalM   float64

	lastMissedCheckS float64
}

func newStationStop(stop model.StationStop, platform model.Platform) *StationStop {
	return &StationStop{
		Platform:            platform,
		ScheduledArrivalS:   stop.ScheduledArrivalS,
		ScheduledDepartureS: stop.ScheduledDepartureS,
		Status:              model.TaskStatusNotArrived,
	}
}

// Station returns the display name of the stop.
func (s *StationStop) Station() string {
	if s.Platform.Station != "" {
		return s.Platform.Station
	}
	return s.Platform.Name
}

// Done reports whether the stop has reached a terminal status.
func (s *StationStop) Done() bool {
	return s.IsCompleted != nil
}

// BoardingTime returns how long passengers board after an arrival at actualArrivalS.
//
// A stop scheduled tighter than the platform minimum keeps its planned time even
// when late; otherwise a late train still waits at least minWaitS.
func BoardingTime(scheduledArrivalS, scheduledDepartureS, actualArrivalS, minWaitS float64) float64 {
	planned := scheduledDepartureS - scheduledArrivalS
	punctual := scheduledDepartureS - actualArrivalS
	expected := planned
	if planned <= 0 {
		expected = minWaitS
	}

	if punctual >= expected {
		return punctual
	}
	if planned > 0 && planned < minWaitS {
		return planned
	}
	return math.Max(punctual, minWaitS)
}

// withinPlatform reports whether the whole train stands on the platform, or the
// platform is shorter than the train and covered by it.
func (s *StationStop) withinPlatform(tel Telemetry) bool {
	front := tel.Position().OffsetM
	rear := front - tel.TrainLengthM()
	lo, hi := s.Platform.StartOffsetM, s.Platform.EndOffsetM
	if lo > hi {
		lo, hi = hi, lo
	}
	if rear >= lo && front <= hi {
		return true
	}
	return rear <= lo && front >= hi
}

// pastPlatformM returns how far the rear of the train is beyond the platform end.
func (s *StationStop) pastPlatformM(tel Telemetry) float64 {
	rear := tel.Position().OffsetM - tel.TrainLengthM()
	hi := math.Max(s.Platform.StartOffsetM, s.Platform.EndOffsetM)
	return rear - hi
}

func (s *StationStop) transition(to model.TaskStatus) error {
	if err := model.ValidateTaskTransition(s.Status, to); err != nil {
		return fmt.Errorf("station %q: %w", s.Station(), err)
	}
	s.Status = to
	return nil
}

func (s *StationStop) complete(status model.TaskStatus, success bool, now float64) error {
	if err := s.transition(status); err != nil {
		return err
	}
	s.IsCompleted = &success
	s.CompletedAtS = now
	return nil
}

// DelayS returns the arrival delay in seconds, or 0 before arrival.
func (s *StationStop) DelayS() float64 {
	if s.ActualArrivalS == nil {
		return 0
	}
	return *s.ActualArrivalS - s.ScheduledArrivalS
}

func (s *StationStop) snapshot() model.TaskSnapshot {
	return model.TaskSnapshot{
		Type:                model.TaskTypeStationStop,
		Status:              s.Status,
		IsCompleted:         copyBool(s.IsCompleted),
		CompletedAtS:        s.CompletedAtS,
		Message:             s.Message,
		ScheduledArrivalS:   s.ScheduledArrivalS,
		ScheduledDepartureS: s.ScheduledDepartureS,
		ActualArrivalS:      copyFloat(s.ActualArrivalS),
		ActualDepartureS:    copyFloat(s.ActualDepartureS),
		PlatformStartID:     s.Platform.StartID,
		PlatformEndID:       s.Platform.EndID,
		BoardingS:           s.BoardingS,
		BoardingEndS:        s.BoardingEndS,
		Arrived:             s.Arrived,
		MayDepart:           s.MayDepart,
		DistanceToSignalM:   s.DistanceToSignalM,
		LastMissedCheckS:    s.lastMissedCheckS,
	}
}

func (s *StationStop) checkSnapshot(ts model.TaskSnapshot) error {
	if ts.Type != "" && ts.Type != model.TaskTypeStationStop {
		return fmt.Errorf("unsupported task type %q", ts.Type)
	}
	if ts.PlatformStartID != s.Platform.StartID {
		return fmt.Errorf("platform mismatch: snapshot has %d, mission has %d", ts.PlatformStartID, s.Platform.StartID)
	}
	return nil
}

func (s *StationStop) restore(ts model.TaskSnapshot) {
	s.Status = ts.Status
	if s.Status == "" {
		s.Status = model.TaskStatusNotArrived
	}
	s.IsCompleted = copyBool(ts.IsCompleted)
	s.CompletedAtS = ts.CompletedAtS
	s.Message = ts.Message
	s.ScheduledArrivalS = ts.ScheduledArrivalS
	s.ScheduledDepartureS = ts.ScheduledDepartureS
	s.ActualArrivalS = copyFloat(ts.ActualArrivalS)
	s.ActualDepartureS = copyFloat(ts.ActualDepartureS)
	s.BoardingS = ts.BoardingS
	s.BoardingEndS = ts.BoardingEndS
	s.Arrived = ts.Arrived
	s.MayDepart = ts.MayDepart
	s.DistanceToSignalM = ts.DistanceToSignalM
	s.lastMissedCheckS = ts.LastMissedCheckS
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
