package evaluation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/railscript/internal/model"
)

func TestAccumulator_OverSpeed(t *testing.T) {
	a := NewAccumulator(DefaultOptions())
	for i, v := range []float64{22, 22, 22, 18} {
		a.Record(Sample{ClockS: float64(i), SpeedMps: v, AllowedSpeedMps: 20, TrainMaxSpeedMps: 40})
	}

	c := a.Counters()
	assert.Equal(t, uint32(1), c.OverSpeedEvents)
	assert.GreaterOrEqual(t, c.OverSpeedAccumulatedS, 2.0)
	assert.LessOrEqual(t, c.OverSpeedAccumulatedS, 3.0)
	assert.False(t, c.OverSpeedRunning)
}

func TestAccumulator_MarginTolerated(t *testing.T) {
	a := NewAccumulator(DefaultOptions())
	a.Record(Sample{ClockS: 0, SpeedMps: 21, AllowedSpeedMps: 20})
	a.Record(Sample{ClockS: 1, SpeedMps: 10, AllowedSpeedMps: 20})
	assert.Zero(t, a.Counters().OverSpeedEvents)
}

func TestSpeedLimit(t *testing.T) {
	assert.Equal(t, 20.0, SpeedLimit(20, 30))
	assert.Equal(t, 25.0, SpeedLimit(30, 25))
	assert.Equal(t, 30.0, SpeedLimit(0, 30))
	assert.Equal(t, 20.0, SpeedLimit(20, 0))
	assert.True(t, math.IsInf(SpeedLimit(0, 0), 1))
}

func TestAccumulator_DistanceAndIntervals(t *testing.T) {
	a := NewAccumulator(DefaultOptions())
	a.Record(Sample{ClockS: 0, SpeedMps: 10})
	a.Record(Sample{ClockS: 2, SpeedMps: -10, AutopilotActive: true})
	a.Record(Sample{ClockS: 4, SpeedMps: 1, EmergencyBraking: true})
	a.Record(Sample{ClockS: 6, SpeedMps: 0})

	c := a.Counters()
	assert.InDelta(t, 22, c.DistanceTravelledM, 1e-9)
	assert.Equal(t, uint32(1), c.AutopilotEngagements)
	assert.InDelta(t, 2, c.AutopilotAccumulatedS, 1e-9)
	assert.Equal(t, uint32(1), c.FullBrakeEvents)
	assert.InDelta(t, 2, c.FullBrakeAccumulatedS, 1e-9)
}

func TestAccumulator_FastEmergencyBrakeNotCounted(t *testing.T) {
	a := NewAccumulator(DefaultOptions())
	a.Record(Sample{ClockS: 0, SpeedMps: 20, EmergencyBraking: true})
	a.Record(Sample{ClockS: 1, SpeedMps: 15})
	assert.Zero(t, a.Counters().FullBrakeEvents)
}

func TestAccumulator_Freeze(t *testing.T) {
	a := NewAccumulator(DefaultOptions())
	a.Record(Sample{ClockS: 0, SpeedMps: 30, AllowedSpeedMps: 20})
	c := a.Freeze(5)
	assert.True(t, a.Frozen())
	assert.Equal(t, uint32(1), c.OverSpeedEvents)
	assert.InDelta(t, 5, c.OverSpeedAccumulatedS, 1e-9)

	a.Record(Sample{ClockS: 10, SpeedMps: 30, AllowedSpeedMps: 20})
	a.RecordCouplerBreak()
	a.RecordDepartBeforeBoarding()
	assert.Equal(t, c, a.Freeze(20))
	assert.Equal(t, c, a.Counters())
}

func TestAccumulator_RestoreKeepsFrozen(t *testing.T) {
	a := NewAccumulator(DefaultOptions())
	a.Record(Sample{ClockS: 0, SpeedMps: 10})
	c := a.Freeze(10)
	require.True(t, c.Frozen)

	b := NewAccumulator(DefaultOptions())
	b.Restore(c)
	assert.True(t, b.Frozen())
	b.Record(Sample{ClockS: 20, SpeedMps: 30})
	b.RecordOverturn()
	assert.Equal(t, c, b.Counters())
}

func TestAccumulator_IncidentCounters(t *testing.T) {
	a := NewAccumulator(DefaultOptions())
	a.RecordCouplerBreak()
	a.RecordCouplerBreak()
	a.RecordSnappedHose()
	a.RecordOverturn()
	a.RecordDepartBeforeBoarding()

	c := a.Counters()
	assert.Equal(t, uint32(2), c.CouplerBreaks)
	assert.Equal(t, uint32(1), c.SnappedHoses)
	assert.Equal(t, uint32(1), c.TrainOverturned)
	assert.Equal(t, uint32(1), c.DepartBeforeBoarding)

	b := NewAccumulator(DefaultOptions())
	b.Restore(c)
	assert.Equal(t, c, b.Counters())
}

func TestReport_Render(t *testing.T) {
	r := &Report{
		Mission:  "Freight shunt",
		Status:   model.ActivityStatusFailed,
		ElapsedS: 3725,
		Counters: model.EvaluationCounters{
			DistanceTravelledM:    12340,
			OverSpeedEvents:       2,
			OverSpeedAccumulatedS: 14.4,
			CouplerBreaks:         1,
		},
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	text, err := r.Render()
	require.NoError(t, err)
	assert.Contains(t, text, "# Activity Report: Freight shunt")
	assert.Contains(t, text, "Result: failed")
	assert.Contains(t, text, "Elapsed: 1h2m5s")
	assert.Contains(t, text, "Distance travelled: 12.34 km")
	assert.Contains(t, text, "Over-speed events: 2 (14s)")
	assert.Contains(t, text, "Coupler breaks: 1")
	assert.Contains(t, text, "(no scheduled stops)")
	assert.NotContains(t, text, "Run:")
}
