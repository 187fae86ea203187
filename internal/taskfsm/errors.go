package taskfsm

import (
	"errors"
	"fmt"

	"github.com/syntrixbase/pegasus/pkg/models"
)

// ErrRegistryFull is returned by Registry.Register when the non-terminal
// task count already equals the configured cap.
var ErrRegistryFull = errors.New("taskfsm: registry full")

// ErrTaskNotFound is returned by Registry.Get for an unknown task id.
var ErrTaskNotFound = errors.New("taskfsm: task not found")

// ErrInvalidState is returned by TaskFSM.ResumeCompleted when the task is
// not currently COMPLETED (spec.md §4.3 "fails with InvalidState otherwise").
var ErrInvalidState = errors.New("taskfsm: invalid state for operation")

// InvalidTransitionError is returned when an event is not defined for the
// FSM's current state in the spec.md §4.2 transition table.
type InvalidTransitionError struct {
	State models.TaskState
	Event models.EventType
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("taskfsm: invalid transition: event %s in state %s", e.Event, e.State)
}

// IsInvalidTransition reports whether err is an *InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}
