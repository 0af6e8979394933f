package model

const (
	SnapshotSchemaVersion = 1
	SnapshotFileType      = "activity_snapshot"
	TaskTypeStationStop   = "station_stop"
)

// ActivitySnapshot is the persisted mid-run state of an activity controller.
type ActivitySnapshot struct {
	SchemaVersion  int                 `yaml:"schema_version"`
	FileType       string              `yaml:"file_type"`
	RunID          string              `yaml:"run_id"`
	Mission        string              `yaml:"mission"`
	SavedAt        string              `yaml:"saved_at"`
	StartTimeS     float64             `yaml:"start_time_s"`
	Tasks          []TaskSnapshot      `yaml:"tasks"`
	CurrentTask    int                 `yaml:"current_task"`
	Completed      bool                `yaml:"completed"`
	Succeeded      bool                `yaml:"succeeded"`
	FailMessage    string              `yaml:"fail_message"`
	ClosingIssued  bool                `yaml:"closing_issued"`
	Conditions     []ConditionSnapshot `yaml:"conditions"`
	Messages       []MessageSnapshot   `yaml:"messages"`
	PendingEventID *int                `yaml:"pending_event_id"`
	Effects        []Effect            `yaml:"effects"`
	Motion         MotionSnapshot      `yaml:"motion"`
	Evaluation     EvaluationCounters  `yaml:"evaluation"`
}

type TaskSnapshot struct {
	Type                string     `yaml:"type"`
	Status              TaskStatus `yaml:"status"`
	IsCompleted         *bool      `yaml:"is_completed"`
	CompletedAtS        float64    `yaml:"completed_at_s"`
	Message             string     `yaml:"message"`
	ScheduledArrivalS   float64    `yaml:"scheduled_arrival_s"`
	ScheduledDepartureS float64    `yaml:"scheduled_departure_s"`
	ActualArrivalS      *float64   `yaml:"actual_arrival_s"`
	ActualDepartureS    *float64   `yaml:"actual_departure_s"`
	PlatformStartID     int        `yaml:"platform_start_id"`
	PlatformEndID       int        `yaml:"platform_end_id"`
	BoardingS           float64    `yaml:"boarding_s"`
	BoardingEndS        float64    `yaml:"boarding_end_s"`
	Arrived             bool       `yaml:"arrived"`
	MayDepart           bool       `yaml:"may_depart"`
	DistanceToSignalM   float64    `yaml:"distance_to_signal_m"`
	LastMissedCheckS    float64    `yaml:"last_missed_check_s"`
}

type ConditionSnapshot struct {
	ID              int    `yaml:"id"`
	TimesTriggered  uint32 `yaml:"times_triggered"`
	Enabled         bool   `yaml:"enabled"`
	ActivationLevel int    `yaml:"activation_level"`
	Disarmed        bool   `yaml:"disarmed"`
}

// MessageSnapshot records a message condition added at run time.
type MessageSnapshot struct {
	ID     int    `yaml:"id"`
	Header string `yaml:"header"`
	Body   string `yaml:"body"`
}

type MotionSnapshot struct {
	SpeedKnown   bool    `yaml:"speed_known"`
	TrainStopped bool    `yaml:"train_stopped"`
	LastSpeedMps float64 `yaml:"last_speed_mps"`
	LastClockS   float64 `yaml:"last_clock_s"`
}

// EvaluationCounters are the running meters scored at the end of a run.
type EvaluationCounters struct {
	CouplerBreaks        uint32  `yaml:"coupler_breaks"`
	OverSpeedEvents      uint32  `yaml:"over_speed_events"`
	TrainOverturned      uint32  `yaml:"train_overturned"`
	SnappedHoses         uint32  `yaml:"snapped_hoses"`
	FullBrakeEvents      uint32  `yaml:"full_brake_events"`
	AutopilotEngagements uint32  `yaml:"autopilot_engagements"`
	DepartBeforeBoarding uint32  `yaml:"depart_before_boarding"`
	DistanceTravelledM   float64 `yaml:"distance_travelled_m"`

	OverSpeedRunning      bool    `yaml:"over_speed_running"`
	OverSpeedStartedAtS   float64 `yaml:"over_speed_started_at_s"`
	OverSpeedAccumulatedS float64 `yaml:"over_speed_accumulated_s"`

	FullBrakeRunning      bool    `yaml:"full_brake_running"`
	FullBrakeStartedAtS   float64 `yaml:"full_brake_started_at_s"`
	FullBrakeAccumulatedS float64 `yaml:"full_brake_accumulated_s"`

	AutopilotRunning      bool    `yaml:"autopilot_running"`
	AutopilotStartedAtS   float64 `yaml:"autopilot_started_at_s"`
	AutopilotAccumulatedS float64 `yaml:"autopilot_accumulated_s"`

	HasSample   bool    `yaml:"has_sample"`
	LastSampleS float64 `yaml:"last_sample_s"`

	// Frozen is set once the run completed; nothing changes afterwards.
	Frozen bool `yaml:"frozen"`
}
