package model

import "math"

// TrainID identifies a train service in the simulation.
type TrainID string

// Location is a point in the world plus the distance along the player's path.
type Location struct {
	X       float64 `yaml:"x" json:"x"`
	Y       float64 `yaml:"y" json:"y"`
	OffsetM float64 `yaml:"offset_m" json:"offset_m"`
}

// DistanceTo returns the planar distance between two locations.
func (l Location) DistanceTo(o Location) float64 {
	return math.Hypot(l.X-o.X, l.Y-o.Y)
}

// SidingBounds delimits a stretch of track by path offset.
type SidingBounds struct {
	StartOffsetM float64 `yaml:"start_offset_m"`
	EndOffsetM   float64 `yaml:"end_offset_m"`
}

// Contains reports whether offset lies between the two bounds, in either order.
func (b SidingBounds) Contains(offset float64) bool {
	lo, hi := b.StartOffsetM, b.EndOffsetM
	if lo > hi {
		lo, hi = hi, lo
	}
	return offset >= lo && offset <= hi
}

// Platform is a station platform delimited by two track items.
type Platform struct {
	StartID      int     `yaml:"start_id"`
	EndID        int     `yaml:"end_id"`
	Name         string  `yaml:"name"`
	Station      string  `yaml:"station"`
	StartOffsetM float64 `yaml:"start_offset_m"`
	EndOffsetM   float64 `yaml:"end_offset_m"`
	MinWaitS     float64 `yaml:"min_wait_s"`
}

// Length returns the platform length in metres.
func (p Platform) Length() float64 {
	return math.Abs(p.EndOffsetM - p.StartOffsetM)
}

// StationStop is one scheduled stop of the player service.
type StationStop struct {
	PlatformStartID     int     `yaml:"platform_start_id"`
	PlatformEndID       int     `yaml:"platform_end_id"`
	ScheduledArrivalS   float64 `yaml:"scheduled_arrival_s"`
	ScheduledDepartureS float64 `yaml:"scheduled_departure_s"`
}

// Mission is the in-memory model of a scripted activity.
type Mission struct {
	Name          string        `yaml:"name"`
	Description   string        `yaml:"description"`
	StartTimeS    float64       `yaml:"start_time_s"`
	PlayerService TrainID       `yaml:"player_service"`
	Conditions    []Condition   `yaml:"-"`
	Platforms     []Platform    `yaml:"platforms"`
	Stops         []StationStop `yaml:"stops"`
}

// PlatformByID looks a platform up by its start item id.
func (m *Mission) PlatformByID(startID int) (Platform, bool) {
	for _, p := range m.Platforms {
		if p.StartID == startID {
			return p, true
		}
	}
	return Platform{}, false
}
