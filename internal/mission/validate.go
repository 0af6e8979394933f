package mission

import (
	"fmt"

	"github.com/msageha/railscript/internal/model"
)

// Result separates problems that stop a run from content errors the engine
// skips at run time.
type Result struct {
	Errors   ValidationErrors
	Warnings ValidationErrors
}

func (r *Result) OK() bool {
	return !r.Errors.HasErrors()
}

// Validate checks m for structural errors and reports duplicate condition ids,
// dangling references, unknown platforms and activation cycles as warnings.
func Validate(m *model.Mission) *Result {
	res := &Result{}
	if m.Name == "" {
		res.Errors.Add("name", "is required")
	}
	if len(m.Conditions) == 0 && len(m.Stops) == 0 {
		res.Warnings.Add("mission", "has neither conditions nor stops; it can never complete")
	}

	validateConditions(m.Conditions, res)
	validatePlatforms(m.Platforms, res)
	validateStops(m, res)
	return res
}

func validateConditions(conds []model.Condition, res *Result) {
	ids := make([]int, 0, len(conds))
	seen := make(map[int]int, len(conds))
	for i, c := range conds {
		prefix := fmt.Sprintf("conditions[%d]", i)
		if first, dup := seen[c.ID]; dup {
			res.Warnings.Add(prefix+".id", fmt.Sprintf("duplicate id %d; conditions[%d] is used for cascades", c.ID, first))
			continue
		}
		seen[c.ID] = i
		ids = append(ids, c.ID)
	}

	terminal := false
	for i, c := range conds {
		prefix := fmt.Sprintf("conditions[%d]", i)
		refs := []struct {
			field string
			ids   []int
		}{
			{"activate_ids", c.Outcome.ActivateIDs},
			{"restore_ids", c.Outcome.RestoreIDs},
			{"decrement_ids", c.Outcome.DecrementIDs},
			{"increment_ids", c.Outcome.IncrementIDs},
		}
		for _, ref := range refs {
			for j, id := range ref.ids {
				if _, ok := seen[id]; !ok {
					res.Warnings.Add(fmt.Sprintf("%s.outcome.%s[%d]", prefix, ref.field, j),
						fmt.Sprintf("references unknown condition %d", id))
				}
			}
		}

		success := c.Outcome.ActivitySuccess != nil && *c.Outcome.ActivitySuccess
		if success && c.Outcome.ActivityFail {
			res.Warnings.Add(prefix+".outcome", "sets both activity_success and activity_fail; failure wins")
		}
		if success || c.Outcome.ActivityFail {
			terminal = true
		}
		if c.ActivationLevel <= 0 && !armedByOthers(c.ID, conds) {
			res.Warnings.Add(prefix+".activation_level", "starts disarmed and no outcome arms it")
		}
	}
	if len(conds) > 0 && !terminal {
		res.Warnings.Add("conditions", "no condition ends the activity")
	}

	if cycle := FindActivationCycle(ids, ActivationEdges(conds)); cycle != nil {
		res.Warnings.Add("conditions", "activation cycle: "+formatCycle(cycle))
	}
}

func armedByOthers(id int, conds []model.Condition) bool {
	for _, c := range conds {
		for _, list := range [][]int{c.Outcome.ActivateIDs, c.Outcome.RestoreIDs, c.Outcome.IncrementIDs} {
			for _, ref := range list {
				if ref == id {
					return true
				}
			}
		}
	}
	return false
}

func validatePlatforms(platforms []model.Platform, res *Result) {
	seen := make(map[int]bool, len(platforms))
	for i, p := range platforms {
		prefix := fmt.Sprintf("platforms[%d]", i)
		if seen[p.StartID] {
			res.Errors.Add(prefix+".start_id", fmt.Sprintf("duplicate platform %d", p.StartID))
		}
		seen[p.StartID] = true
		if p.Name == "" && p.Station == "" {
			res.Warnings.Add(prefix, "has neither name nor station")
		}
		if p.MinWaitS < 0 {
			res.Errors.Add(prefix+".min_wait_s", "must be >= 0")
		}
	}
}

func validateStops(m *model.Mission, res *Result) {
	prevDeparture := -1.0
	for i, s := range m.Stops {
		prefix := fmt.Sprintf("stops[%d]", i)
		p, ok := m.PlatformByID(s.PlatformStartID)
		if !ok {
			res.Warnings.Add(prefix+".platform_start_id", fmt.Sprintf("unknown platform %d; the stop is skipped", s.PlatformStartID))
		} else if s.PlatformEndID != 0 && s.PlatformEndID != p.EndID {
			res.Warnings.Add(prefix+".platform_end_id", fmt.Sprintf("does not match platform end %d", p.EndID))
		}
		if s.ScheduledDepartureS < s.ScheduledArrivalS {
			res.Errors.Add(prefix+".scheduled_departure_s", "is before scheduled_arrival_s")
		}
		if s.ScheduledArrivalS < prevDeparture {
			res.Warnings.Add(prefix+".scheduled_arrival_s", "is before the previous stop's departure")
		}
		prevDeparture = s.ScheduledDepartureS
	}
}
