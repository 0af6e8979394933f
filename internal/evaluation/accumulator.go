// Package evaluation turns continuous telemetry into the counters scored at the end of a run.
package evaluation

import (
	"math"

	"github.com/msageha/railscript/internal/model"
)

// Sample is the telemetry consumed by one Record call.
type Sample struct {
	ClockS           float64
	SpeedMps         float64
	AllowedSpeedMps  float64
	TrainMaxSpeedMps float64
	EmergencyBraking bool
	AutopilotActive  bool
}

type Options struct {
	OverspeedMarginMps float64
	SlowBrakeSpeedMps  float64
}

func DefaultOptions() Options {
	return Options{
		OverspeedMarginMps: model.DefaultOverspeedMarginMps,
		SlowBrakeSpeedMps:  model.DefaultSlowBrakeSpeedMps,
	}
}

// Accumulator holds the running meters of a run. It stops changing once frozen.
type Accumulator struct {
	c    model.EvaluationCounters
	opts Options
}

func NewAccumulator(opts Options) *Accumulator {
	return &Accumulator{opts: opts}
}

// Counters returns a copy of the current meters.
func (a *Accumulator) Counters() model.EvaluationCounters {
	return a.c
}

// Restore replaces the meters with a persisted set, frozen state included.
func (a *Accumulator) Restore(c model.EvaluationCounters) {
	a.c = c
}

func (a *Accumulator) Frozen() bool {
	return a.c.Frozen
}

// SpeedLimit returns the lower of the line and train limits; a non-positive
// value means "no limit" for that source.
func SpeedLimit(allowedMps, trainMaxMps float64) float64 {
	switch {
	case allowedMps <= 0 && trainMaxMps <= 0:
		return math.Inf(1)
	case allowedMps <= 0:
		return trainMaxMps
	case trainMaxMps <= 0:
		return allowedMps
	default:
		return math.Min(allowedMps, trainMaxMps)
	}
}

// Record feeds one telemetry sample into every meter.
func (a *Accumulator) Record(s Sample) {
	if a.c.Frozen {
		return
	}
	speed := math.Abs(s.SpeedMps)

	if a.c.HasSample {
		if dt := s.ClockS - a.c.LastSampleS; dt > 0 {
			a.c.DistanceTravelledM += speed * dt
		}
	}
	a.c.HasSample = true
	a.c.LastSampleS = s.ClockS

	overSpeed := speed > SpeedLimit(s.AllowedSpeedMps, s.TrainMaxSpeedMps)+a.opts.OverspeedMarginMps
	meter(&a.c.OverSpeedRunning, &a.c.OverSpeedStartedAtS, &a.c.OverSpeedAccumulatedS, &a.c.OverSpeedEvents, overSpeed, s.ClockS)

	slowBrake := s.EmergencyBraking && speed < a.opts.SlowBrakeSpeedMps
	meter(&a.c.FullBrakeRunning, &a.c.FullBrakeStartedAtS, &a.c.FullBrakeAccumulatedS, &a.c.FullBrakeEvents, slowBrake, s.ClockS)

	meter(&a.c.AutopilotRunning, &a.c.AutopilotStartedAtS, &a.c.AutopilotAccumulatedS, &a.c.AutopilotEngagements, s.AutopilotActive, s.ClockS)
}

// meter records the start of an interval on the rising edge of active and, on
// the falling edge, adds its length to accumulated and counts it.
func meter(running *bool, startedAt, accumulated *float64, count *uint32, active bool, now float64) {
	switch {
	case active && !*running:
		*running = true
		*startedAt = now
	case !active && *running:
		*running = false
		*accumulated += now - *startedAt
		*count++
	}
}

func (a *Accumulator) RecordCouplerBreak() {
	if !a.c.Frozen {
		a.c.CouplerBreaks++
	}
}

func (a *Accumulator) RecordSnappedHose() {
	if !a.c.Frozen {
		a.c.SnappedHoses++
	}
}

func (a *Accumulator) RecordOverturn() {
	if !a.c.Frozen {
		a.c.TrainOverturned++
	}
}

func (a *Accumulator) RecordDepartBeforeBoarding() {
	if !a.c.Frozen {
		a.c.DepartBeforeBoarding++
	}
}

// Freeze closes any open interval at nowS and stops further accumulation.
// Calling it again is a no-op.
func (a *Accumulator) Freeze(nowS float64) model.EvaluationCounters {
	if a.c.Frozen {
		return a.c
	}
	meter(&a.c.OverSpeedRunning, &a.c.OverSpeedStartedAtS, &a.c.OverSpeedAccumulatedS, &a.c.OverSpeedEvents, false, nowS)
	meter(&a.c.FullBrakeRunning, &a.c.FullBrakeStartedAtS, &a.c.FullBrakeAccumulatedS, &a.c.FullBrakeEvents, false, nowS)
	meter(&a.c.AutopilotRunning, &a.c.AutopilotStartedAtS, &a.c.AutopilotAccumulatedS, &a.c.AutopilotEngagements, false, nowS)
	a.c.Frozen = true
	return a.c
}
