package activity

import (
	"errors"
	"fmt"

	"github.com/msageha/railscript/internal/task"
)

var (
	// ErrNoPendingEvent is returned by Acknowledge when nothing awaits acknowledgement.
	ErrNoPendingEvent = errors.New("no pending event")
	// ErrAckMismatch is the sentinel wrapped by AckMismatchError.
	ErrAckMismatch = errors.New("acknowledged event is not the pending event")
	// ErrTaskCountMismatch is returned by Restore when the snapshot's task list
	// does not line up with the mission.
	ErrTaskCountMismatch = task.ErrTaskCountMismatch
)

// AckMismatchError reports an acknowledgement for an event other than the pending one.
type AckMismatchError struct {
	Pending EventID
	Got     EventID
}

func (e *AckMismatchError) Error() string {
	return fmt.Sprintf("acknowledge event %d: pending event is %d", e.Got, e.Pending)
}

func (e *AckMismatchError) Unwrap() error {
	return ErrAckMismatch
}

// ContentError is a malformed reference in the mission, skipped at run time.
type ContentError struct {
	ConditionID int
	Field       string
	RefID       int
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("condition %d: %s references unknown condition %d", e.ConditionID, e.Field, e.RefID)
}
