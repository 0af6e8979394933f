// Package mission loads mission files into the in-memory activity model and
// checks them before a run.
package mission

import (
	"fmt"

	"github.com/msageha/railscript/internal/model"
)

// File is the on-disk layout of a mission.
type File struct {
	SchemaVersion int            `yaml:"schema_version"`
	FileType      string         `yaml:"file_type"`
	Mission       model.Mission  `yaml:",inline"`
	Conditions    []ConditionDoc `yaml:"conditions"`
}

// ConditionDoc is a condition with its trigger flattened and selected by Type.
type ConditionDoc struct {
	ID              int                 `yaml:"id"`
	Name            string              `yaml:"name"`
	Message         string              `yaml:"message,omitempty"`
	ActivationLevel *int                `yaml:"activation_level,omitempty"`
	Reversible      bool                `yaml:"reversible,omitempty"`
	Type            model.TriggerKind   `yaml:"type"`
	FireAtElapsedS  float64             `yaml:"fire_at_elapsed_s,omitempty"`
	Target          *model.Location     `yaml:"target,omitempty"`
	RadiusM         float64             `yaml:"radius_m,omitempty"`
	TriggerOnStop   bool                `yaml:"trigger_on_stop,omitempty"`
	BoundTrain      model.TrainID       `yaml:"bound_train,omitempty"`
	Composition     string              `yaml:"composition,omitempty"`
	WagonIDs        []string            `yaml:"wagon_ids,omitempty"`
	Siding          *model.SidingBounds `yaml:"siding,omitempty"`
	SpeedThreshold  *float64            `yaml:"speed_threshold_mps,omitempty"`
	Header          string              `yaml:"header,omitempty"`
	Body            string              `yaml:"body,omitempty"`
	Outcome         model.Outcome       `yaml:"outcome,omitempty"`
}

var compositionKinds = map[model.CompositionKind]bool{
	model.CompositionAssembleTrain:           true,
	model.CompositionAssembleTrainAtLocation: true,
	model.CompositionPickupWagons:            true,
	model.CompositionDropOffWagonsAtLocation: true,
	model.CompositionReachSpeed:              true,
}

// toCondition converts a document into a model condition. Problems are added
// to errs under prefix and the returned bool is false when no trigger could be built.
func (d ConditionDoc) toCondition(prefix string, errs *ValidationErrors) (model.Condition, bool) {
	level := 1
	if d.ActivationLevel != nil {
		level = *d.ActivationLevel
	}
	cond := model.Condition{
		ID:                      d.ID,
		Name:                    d.Name,
		Message:                 d.Message,
		ActivationLevel:         level,
		OriginalActivationLevel: level,
		Reversible:              d.Reversible,
		Enabled:                 true,
		Outcome:                 d.Outcome,
	}

	switch d.Type {
	case model.TriggerTimed:
		if d.FireAtElapsedS < 0 {
			errs.Add(prefix+".fire_at_elapsed_s", "must be >= 0")
		}
		cond.Trigger = &model.TimedTrigger{FireAtElapsedS: d.FireAtElapsedS}

	case model.TriggerProximity:
		if d.Target == nil {
			errs.Add(prefix+".target", "is required for proximity conditions")
			return cond, false
		}
		if d.RadiusM <= 0 {
			errs.Add(prefix+".radius_m", "must be > 0")
		}
		cond.Trigger = &model.ProximityTrigger{
			Target:        *d.Target,
			RadiusM:       d.RadiusM,
			TriggerOnStop: d.TriggerOnStop,
			BoundTrain:    d.BoundTrain,
		}

	case model.TriggerComposition:
		kind := model.CompositionKind(d.Composition)
		if !compositionKinds[kind] {
			errs.Add(prefix+".composition", fmt.Sprintf("unknown composition %q", d.Composition))
			return cond, false
		}
		switch kind {
		case model.CompositionReachSpeed:
			if d.SpeedThreshold == nil {
				errs.Add(prefix+".speed_threshold_mps", "is required for reach_speed")
			}
		default:
			if len(d.WagonIDs) == 0 {
				errs.Add(prefix+".wagon_ids", "at least one wagon is required")
			}
		}
		if (kind == model.CompositionAssembleTrainAtLocation || kind == model.CompositionDropOffWagonsAtLocation) && d.Siding == nil {
			errs.Add(prefix+".siding", fmt.Sprintf("is required for %s", kind))
		}
		cond.Trigger = &model.CompositionTrigger{
			Composition:       kind,
			WagonIDs:          d.WagonIDs,
			Siding:            d.Siding,
			SpeedThresholdMps: d.SpeedThreshold,
		}

	case model.TriggerMessage:
		cond.Trigger = &model.MessageTrigger{Header: d.Header, Body: d.Body}

	case "":
		errs.Add(prefix+".type", "is required")
		return cond, false

	default:
		errs.Add(prefix+".type", fmt.Sprintf("unknown condition type %q", d.Type))
		return cond, false
	}
	return cond, true
}
