package model

type SignalAspect string

const (
	AspectStop       SignalAspect = "stop"
	AspectRestricted SignalAspect = "restricted"
	AspectApproach   SignalAspect = "approach"
	AspectClear      SignalAspect = "clear"
)

// SignalState is the next signal on the player's path.
type SignalState struct {
	Aspect    SignalAspect `yaml:"aspect" json:"aspect"`
	DistanceM float64      `yaml:"distance_m" json:"distance_m"`
	// Override is set when the dispatcher has granted explicit permission to pass at stop.
	Override bool `yaml:"override" json:"override"`
}

// HoldsTrain reports whether the signal keeps a train standing within lookahead metres.
func (s SignalState) HoldsTrain(lookaheadM float64) bool {
	return s.Aspect == AspectStop && !s.Override && s.DistanceM <= lookaheadM
}
