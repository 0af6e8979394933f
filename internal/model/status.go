package model

import "fmt"

// TaskStatus is the progress of a single station stop.
type TaskStatus string

const (
	TaskStatusNotArrived    TaskStatus = "not_arrived"
	TaskStatusArrived       TaskStatus = "arrived"
	TaskStatusReadyToDepart TaskStatus = "ready_to_depart"
	TaskStatusCompleted     TaskStatus = "completed"
	TaskStatusMissed        TaskStatus = "missed"
)

type ActivityStatus string

const (
	ActivityStatusRunning   ActivityStatus = "running"
	ActivityStatusSucceeded ActivityStatus = "succeeded"
	ActivityStatusFailed    ActivityStatus = "failed"
)

var terminalTaskStatuses = map[TaskStatus]bool{
	TaskStatusCompleted: true,
	TaskStatusMissed:    true,
}

// not_arrived → arrived → ready_to_depart → completed, with not_arrived → missed.
// arrived → completed covers a departure before boarding finished.
var validTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusNotArrived: {
		TaskStatusArrived: true,
		TaskStatusMissed:  true,
	},
	TaskStatusArrived: {
		TaskStatusReadyToDepart: true,
		TaskStatusCompleted:     true,
	},
	TaskStatusReadyToDepart: {
		TaskStatusCompleted: true,
	},
}

func IsTaskTerminal(s TaskStatus) bool {
	return terminalTaskStatuses[s]
}

func ValidateTaskTransition(from, to TaskStatus) error {
	if IsTaskTerminal(from) {
		return fmt.Errorf("cannot transition from terminal task status %q", from)
	}
	allowed, ok := validTaskTransitions[from]
	if !ok {
		return fmt.Errorf("unknown task status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid task transition: %q → %q", from, to)
	}
	return nil
}
