package replay

import (
	"context"

	"github.com/msageha/railscript/internal/activity"
	"github.com/msageha/railscript/internal/logging"
	"github.com/msageha/railscript/internal/model"
)

type Options struct {
	// AutoAcknowledge acknowledges every event in the tick it is announced.
	AutoAcknowledge bool
}

// Result summarises a replay.
type Result struct {
	Ticks     int
	Events    []activity.Event
	Effects   []model.Effect
	Completed bool
	Succeeded *bool
	// Paused is set when the replay stopped at an unacknowledged event.
	Paused bool
}

// Runner feeds frames to a controller one tick at a time.
type Runner struct {
	ctrl   *activity.Controller
	world  *World
	opts   Options
	logger *logging.Logger
}

// NewRunner wires world into ctrl as its lifecycle and reservation host.
// ctrl must have been built with world as its TrainRegistry.
func NewRunner(ctrl *activity.Controller, world *World, opts Options, logger *logging.Logger) *Runner {
	ctrl.SetLifecycle(world)
	ctrl.SetReservations(world)
	return &Runner{ctrl: ctrl, world: world, opts: opts, logger: logger}
}

func (r *Runner) Controller() *activity.Controller {
	return r.ctrl
}

// Step applies the incidents of f and ticks the controller once.
func (r *Runner) Step(f *Frame) activity.TickOutcome {
	r.world.Set(f)
	eval := r.ctrl.Evaluation()
	for _, inc := range f.Incidents {
		switch inc {
		case IncidentCouplerBreak:
			eval.RecordCouplerBreak()
		case IncidentSnappedHose:
			eval.RecordSnappedHose()
		case IncidentOverturn:
			eval.RecordOverturn()
		default:
			r.logger.Warnf("unknown incident %q at clock %.1f", inc, f.Clock)
		}
	}

	out := r.ctrl.Tick(f)
	if out.NewEvent && out.PendingEvent != nil {
		r.logger.Infof("event id=%d header=%q", out.PendingEvent.ID, out.PendingEvent.Header)
		if r.opts.AutoAcknowledge {
			if err := r.ctrl.Acknowledge(out.PendingEvent.ID); err != nil {
				r.logger.Errorf("auto acknowledge %d: %v", out.PendingEvent.ID, err)
			}
		}
	}
	return out
}

// Run plays frames until they run out, ctx is cancelled, or an event is left
// pending without auto-acknowledgement.
func (r *Runner) Run(ctx context.Context, frames []Frame) (*Result, error) {
	res := &Result{}
	for i := range frames {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out := r.Step(&frames[i])
		res.Ticks++
		if out.NewEvent && out.PendingEvent != nil {
			res.Events = append(res.Events, *out.PendingEvent)
		}
		res.Effects = append(res.Effects, r.ctrl.DrainEffects()...)
		if r.ctrl.Paused() && !r.opts.AutoAcknowledge {
			res.Paused = true
			break
		}
	}
	res.Completed = r.ctrl.Completed()
	res.Succeeded = r.ctrl.Succeeded()
	return res, nil
}
