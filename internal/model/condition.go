package model

// TriggerKind names the variant of a Trigger.
type TriggerKind string

const (
	TriggerTimed       TriggerKind = "timed"
	TriggerProximity   TriggerKind = "proximity"
	TriggerComposition TriggerKind = "composition"
	TriggerMessage     TriggerKind = "message"
)

// Trigger is the closed set of predicates a Condition can carry:
// *TimedTrigger, *ProximityTrigger, *CompositionTrigger and *MessageTrigger.
type Trigger interface {
	Kind() TriggerKind
	isTrigger()
}

// TimedTrigger fires once the activity clock has run for FireAtElapsedS.
type TimedTrigger struct {
	FireAtElapsedS float64
}

func (*TimedTrigger) Kind() TriggerKind { return TriggerTimed }
func (*TimedTrigger) isTrigger()        {}

// ProximityTrigger fires when a train comes within RadiusM of Target.
// With BoundTrain set, that train's position is used instead of the player's.
type ProximityTrigger struct {
	Target        Location
	RadiusM       float64
	TriggerOnStop bool
	BoundTrain    TrainID
}

func (*ProximityTrigger) Kind() TriggerKind { return TriggerProximity }
func (*ProximityTrigger) isTrigger()        {}

type CompositionKind string

const (
	CompositionAssembleTrain           CompositionKind = "assemble_train"
	CompositionAssembleTrainAtLocation CompositionKind = "assemble_train_at_location"
	CompositionPickupWagons            CompositionKind = "pickup_wagons"
	CompositionDropOffWagonsAtLocation CompositionKind = "drop_off_wagons_at_location"
	CompositionReachSpeed              CompositionKind = "reach_speed"
)

// CompositionTrigger fires on a train composition or speed goal.
type CompositionTrigger struct {
	Composition       CompositionKind
	WagonIDs          []string
	Siding            *SidingBounds
	SpeedThresholdMps *float64
}

func (*CompositionTrigger) Kind() TriggerKind { return TriggerComposition }
func (*CompositionTrigger) isTrigger()        {}

// MessageTrigger is injected by the engine and fires as soon as it is evaluated.
type MessageTrigger struct {
	Header string
	Body   string
}

func (*MessageTrigger) Kind() TriggerKind { return TriggerMessage }
func (*MessageTrigger) isTrigger()        {}

type SoundCue struct {
	File string `yaml:"file" json:"file"`
	Mode string `yaml:"mode" json:"mode"`
}

type WeatherChange struct {
	Kind        string  `yaml:"kind" json:"kind"`
	Intensity   float64 `yaml:"intensity" json:"intensity"`
	TransitionS float64 `yaml:"transition_s" json:"transition_s"`
}

type RestartRequest struct {
	Train  TrainID `yaml:"train"`
	DelayS float64 `yaml:"delay_s"`
}

// Outcome lists the side effects of a condition's first firing.
type Outcome struct {
	ActivateIDs         []int           `yaml:"activate_ids"`
	RestoreIDs          []int           `yaml:"restore_ids"`
	DecrementIDs        []int           `yaml:"decrement_ids"`
	IncrementIDs        []int           `yaml:"increment_ids"`
	ActivitySuccess     *bool           `yaml:"activity_success"`
	ActivityFail        bool            `yaml:"activity_fail"`
	FailMessage         string          `yaml:"fail_message"`
	SoundCue            *SoundCue       `yaml:"sound_cue"`
	WeatherChange       *WeatherChange  `yaml:"weather_change"`
	RestartWaitingTrain *RestartRequest `yaml:"restart_waiting_train"`
}

// Condition is a scripted trigger with its activation state and outcome.
type Condition struct {
	ID                      int
	Name                    string
	Message                 string
	ActivationLevel         int
	OriginalActivationLevel int
	Reversible              bool
	TimesTriggered          uint32
	Enabled                 bool
	// Disarmed records that a one-shot condition's activation level has been
	// forced to zero after its firing.
	Disarmed bool
	Outcome  Outcome
	Trigger  Trigger
}

// Header returns the title shown for the condition's message.
func (c *Condition) Header() string {
	if m, ok := c.Trigger.(*MessageTrigger); ok {
		return m.Header
	}
	return c.Name
}

// Text returns the body shown for the condition's message.
func (c *Condition) Text() string {
	if m, ok := c.Trigger.(*MessageTrigger); ok {
		return m.Body
	}
	return c.Message
}

type EffectKind string

const (
	EffectSound        EffectKind = "sound"
	EffectWeather      EffectKind = "weather"
	EffectDepartureCue EffectKind = "departure_cue"
)

// Effect is an ambient cue waiting to be consumed by the presentation layer.
type Effect struct {
	Kind        EffectKind     `yaml:"kind" json:"kind"`
	ConditionID int            `yaml:"condition_id,omitempty" json:"condition_id,omitempty"`
	Sound       *SoundCue      `yaml:"sound,omitempty" json:"sound,omitempty"`
	Weather     *WeatherChange `yaml:"weather,omitempty" json:"weather,omitempty"`
	Station     string         `yaml:"station,omitempty" json:"station,omitempty"`
}
