package activity

import (
	"math"

	"github.com/msageha/railscript/internal/model"
)

// Graph owns every scripted condition, in declaration order and by id.
// Conditions never point at each other; cascades go through the id index.
type Graph struct {
	conditions []*model.Condition
	byID       map[int]*model.Condition
}

// NewGraph copies defs so the mission definition is never mutated.
// A duplicate id keeps its first declaration for cascades.
func NewGraph(defs []model.Condition) *Graph {
	g := &Graph{
		conditions: make([]*model.Condition, 0, len(defs)),
		byID:       make(map[int]*model.Condition, len(defs)),
	}
	for i := range defs {
		cond := defs[i]
		cond.Enabled = true
		g.add(&cond)
	}
	return g
}

func (g *Graph) add(cond *model.Condition) {
	g.conditions = append(g.conditions, cond)
	if _, exists := g.byID[cond.ID]; !exists {
		g.byID[cond.ID] = cond
	}
}

// Get returns the condition cascades address as id.
func (g *Graph) Get(id int) (*model.Condition, bool) {
	c, ok := g.byID[id]
	return c, ok
}

// Conditions returns every condition in declaration order.
func (g *Graph) Conditions() []*model.Condition {
	return g.conditions
}

// MaxID returns the largest condition id, or 0 for an empty graph.
func (g *Graph) MaxID() int {
	max := 0
	for id := range g.byID {
		if id > max {
			max = id
		}
	}
	return max
}

// Eligible reports whether cond may be evaluated this tick.
func Eligible(cond *model.Condition) bool {
	if cond.ActivationLevel <= 0 {
		return false
	}
	return cond.TimesTriggered < 1 || cond.Reversible
}

// evalEnv is what a predicate may look at.
type evalEnv struct {
	tel          Telemetry
	registry     TrainRegistry
	startTimeS   float64
	stopSpeedMps float64
}

// Evaluate reports whether the trigger of cond holds.
func Evaluate(cond *model.Condition, env evalEnv) bool {
	switch t := cond.Trigger.(type) {
	case *model.TimedTrigger:
		return env.tel.ClockS()-env.startTimeS >= t.FireAtElapsedS
	case *model.ProximityTrigger:
		return evalProximity(t, env)
	case *model.CompositionTrigger:
		return evalComposition(t, env)
	case *model.MessageTrigger:
		return true
	default:
		return false
	}
}

func evalProximity(t *model.ProximityTrigger, env evalEnv) bool {
	var pos model.Location
	var speed float64
	if t.BoundTrain != "" {
		if env.registry == nil {
			return false
		}
		p, ok := env.registry.TrainPosition(t.BoundTrain)
		if !ok {
			return false
		}
		pos = p
		if t.TriggerOnStop {
			s, ok := env.registry.TrainSpeedMps(t.BoundTrain)
			if !ok {
				return false
			}
			speed = s
		}
	} else {
		if _, ok := env.tel.ActiveTrain(); !ok {
			return false
		}
		pos = env.tel.Position()
		speed = env.tel.SpeedMps()
	}

	if pos.DistanceTo(t.Target) > t.RadiusM {
		return false
	}
	return !t.TriggerOnStop || math.Abs(speed) < env.stopSpeedMps
}

func evalComposition(t *model.CompositionTrigger, env evalEnv) bool {
	active, ok := env.tel.ActiveTrain()
	if !ok {
		return false
	}

	if t.Composition == model.CompositionReachSpeed {
		if t.SpeedThresholdMps == nil {
			return false
		}
		return math.Abs(env.tel.SpeedMps()) >= *t.SpeedThresholdMps
	}

	if env.registry == nil || len(t.WagonIDs) == 0 {
		return false
	}

	switch t.Composition {
	case model.CompositionAssembleTrain, model.CompositionAssembleTrainAtLocation:
		found, ok := env.registry.FindByComposition(t.WagonIDs, true)
		if !ok || found != active {
			return false
		}
		consist, ok := env.registry.Consist(found)
		if !ok || len(consist) != len(t.WagonIDs) {
			return false
		}
		if t.Composition == model.CompositionAssembleTrain {
			return true
		}
		return trainInSiding(t.Siding, env.tel.Position().OffsetM, env.tel.TrainLengthM())

	case model.CompositionPickupWagons:
		found, ok := env.registry.FindByComposition(t.WagonIDs, false)
		return ok && found == active

	case model.CompositionDropOffWagonsAtLocation:
		if t.Siding == nil {
			return false
		}
		found, ok := env.registry.FindByComposition(t.WagonIDs, false)
		if !ok || found == active {
			return false
		}
		pos, ok := env.registry.TrainPosition(found)
		if !ok {
			return false
		}
		return t.Siding.Contains(pos.OffsetM)
	}
	return false
}

func trainInSiding(b *model.SidingBounds, frontM, lengthM float64) bool {
	if b == nil {
		return false
	}
	return b.Contains(frontM) && b.Contains(frontM-lengthM)
}

// CascadeResult collects what an outcome did beyond activation changes.
type CascadeResult struct {
	Terminal    bool
	Success     bool
	FailMessage string
	Effects     []model.Effect
	Restart     *model.RestartRequest
	Errors      []error
}

// ApplyOutcome applies out to the conditions of g in the order
// activate, restore, decrement, increment. Unknown ids are skipped and reported.
func ApplyOutcome(g *Graph, firedID int, out model.Outcome) CascadeResult {
	var res CascadeResult

	apply := func(field string, ids []int, fn func(c *model.Condition)) {
		for _, id := range ids {
			c, ok := g.byID[id]
			if !ok {
				res.Errors = append(res.Errors, &ContentError{ConditionID: firedID, Field: field, RefID: id})
				continue
			}
			fn(c)
		}
	}
	apply("activate_ids", out.ActivateIDs, func(c *model.Condition) { c.ActivationLevel = 1 })
	apply("restore_ids", out.RestoreIDs, func(c *model.Condition) { c.ActivationLevel = c.OriginalActivationLevel })
	apply("decrement_ids", out.DecrementIDs, func(c *model.Condition) { c.ActivationLevel-- })
	apply("increment_ids", out.IncrementIDs, func(c *model.Condition) { c.ActivationLevel++ })

	switch {
	case out.ActivityFail:
		res.Terminal = true
		res.Success = false
		res.FailMessage = out.FailMessage
	case out.ActivitySuccess != nil && *out.ActivitySuccess:
		res.Terminal = true
		res.Success = true
	}

	if out.SoundCue != nil {
		cue := *out.SoundCue
		res.Effects = append(res.Effects, model.Effect{Kind: model.EffectSound, ConditionID: firedID, Sound: &cue})
	}
	if out.WeatherChange != nil {
		w := *out.WeatherChange
		res.Effects = append(res.Effects, model.Effect{Kind: model.EffectWeather, ConditionID: firedID, Weather: &w})
	}
	if out.RestartWaitingTrain != nil {
		r := *out.RestartWaitingTrain
		res.Restart = &r
	}
	return res
}
