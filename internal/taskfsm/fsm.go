// Package taskfsm implements the per-task finite state machine and the
// bounded-pool task registry described in spec.md §4.2.
//
// Each TaskFSM holds a pointer to its TaskContext. Transition and
// ResumeCompleted update the state-machine fields (Iteration, Error, and on
// resume the input, messages and per-round results); the Agent's stages
// write Reasoning, Plan, ActionsDone and FinalResult directly. Callers are
// expected to serialize all of this per task (see spec.md §5,
// "single-writer for that task's FSM object").
package taskfsm

import (
	"fmt"
	"time"

	"github.com/syntrixbase/pegasus/pkg/models"
)

// DefaultMaxCognitiveIterations bounds REASONING→ACTING→REFLECTING loops
// before a REFLECT_DONE(continue) forces FAILED.
const DefaultMaxCognitiveIterations = 5

// TaskFSM drives one TaskContext through its lifecycle via Transition.
type TaskFSM struct {
	state                  models.TaskState
	ctx                    *models.TaskContext
	maxCognitiveIterations int
	previousNonTerminal    models.TaskState
}

// New creates a TaskFSM in state CREATED for the given context.
func New(taskCtx *models.TaskContext, maxCognitiveIterations int) *TaskFSM {
	if maxCognitiveIterations <= 0 {
		maxCognitiveIterations = DefaultMaxCognitiveIterations
	}
	return &TaskFSM{
		state:                  models.TaskCreated,
		ctx:                    taskCtx,
		maxCognitiveIterations: maxCognitiveIterations,
	}
}

// State returns the FSM's current state.
func (f *TaskFSM) State() models.TaskState {
	return f.state
}

// Context returns the TaskContext this FSM owns. Callers must not mutate it
// concurrently with a Transition call.
func (f *TaskFSM) Context() *models.TaskContext {
	return f.ctx
}

// reflectPayload extracts the Reflection from a REFLECT_DONE event's payload.
func reflectPayload(event models.Event) *models.Reflection {
	if p, ok := event.Payload.(models.ReflectDonePayload); ok {
		return p.Reflection
	}
	if p, ok := event.Payload.(*models.ReflectDonePayload); ok && p != nil {
		return p.Reflection
	}
	return nil
}

// Transition applies event to the FSM per the spec.md §4.2 table and returns
// the resulting state. Terminal states ignore every event (the table's
// "ignored" row): Transition returns the unchanged terminal state with no
// error. Any event undefined for a non-terminal current state returns
// *InvalidTransitionError and leaves the task's state and context
// untouched.
func (f *TaskFSM) Transition(event models.Event) (models.TaskState, error) {
	if f.state.IsTerminal() {
		return f.state, nil
	}

	next, err := f.next(event)
	if err != nil {
		return f.state, err
	}

	if f.state != models.TaskSuspended && next == models.TaskSuspended {
		f.previousNonTerminal = f.state
	}

	if next == models.TaskReasoning {
		f.ctx.Iteration++
	}

	f.state = next
	return f.state, nil
}

func (f *TaskFSM) next(event models.Event) (models.TaskState, error) {
	switch f.state {
	case models.TaskCreated:
		switch event.Type {
		case models.EventTaskCreated:
			return models.TaskReasoning, nil
		case models.EventTaskFailed:
			return models.TaskFailed, nil
		}

	case models.TaskReasoning:
		switch event.Type {
		case models.EventReasonDone:
			return models.TaskActing, nil
		case models.EventNeedMoreInfo, models.EventTaskSuspended:
			return models.TaskSuspended, nil
		case models.EventTaskFailed:
			return models.TaskFailed, nil
		}

	case models.TaskActing:
		switch event.Type {
		case models.EventStepCompleted, models.EventToolCallDone, models.EventToolCallFailed:
			if f.ctx.Plan != nil && !f.ctx.Plan.Done() {
				return models.TaskActing, nil
			}
			return models.TaskReflecting, nil
		case models.EventActDone:
			return models.TaskReflecting, nil
		case models.EventTaskSuspended:
			return models.TaskSuspended, nil
		case models.EventTaskFailed:
			return models.TaskFailed, nil
		}

	case models.TaskReflecting:
		switch event.Type {
		case models.EventReflectDone:
			reflection := reflectPayload(event)
			if reflection == nil {
				break
			}
			switch reflection.Verdict {
			case models.VerdictComplete:
				return models.TaskCompleted, nil
			case models.VerdictContinue:
				if f.ctx.Iteration < f.maxCognitiveIterations {
					return models.TaskReasoning, nil
				}
				f.ctx.Error = "max iterations"
				return models.TaskFailed, nil
			}
		case models.EventTaskSuspended:
			return models.TaskSuspended, nil
		case models.EventTaskFailed:
			return models.TaskFailed, nil
		}

	case models.TaskSuspended:
		switch event.Type {
		case models.EventTaskResumed:
			if f.previousNonTerminal == "" {
				return models.TaskReasoning, nil
			}
			return f.previousNonTerminal, nil
		case models.EventTaskFailed:
			return models.TaskFailed, nil
		}
	}

	return f.state, &InvalidTransitionError{State: f.state, Event: event.Type}
}

// ResumeCompleted implements the Agent.Resume operation of spec.md §4.3: it
// is only valid when the task is COMPLETED. It replaces InputText, appends
// newInput as a fresh user message, resets iteration/plan/actionsDone, and
// re-enters REASONING for a full re-reasoning pass (Open Question decision:
// Resume re-runs perception and planning rather than splicing a follow-up
// turn onto the existing plan). Unlike Transition, this bypasses the
// table — COMPLETED is terminal there by design, and resumption is a
// distinct, explicitly-invoked operation rather than an event the bus
// dispatches to every subscriber.
func (f *TaskFSM) ResumeCompleted(newInput string) error {
	if f.state != models.TaskCompleted {
		return ErrInvalidState
	}

	f.ctx.InputText = newInput
	f.ctx.Messages = append(f.ctx.Messages, &models.Message{
		Role:      models.RoleUser,
		Content:   newInput,
		CreatedAt: time.Now(),
	})
	f.ctx.Iteration = 0
	f.ctx.Plan = nil
	f.ctx.ActionsDone = nil
	f.ctx.Error = ""
	f.ctx.FinalResult = nil
	f.ctx.UpdatedAt = time.Now()

	f.state = models.TaskReasoning
	f.ctx.Iteration++
	return nil
}

// String renders the FSM for debugging.
func (f *TaskFSM) String() string {
	return fmt.Sprintf("TaskFSM{id=%s, state=%s, iter=%d}", f.ctx.ID, f.state, f.ctx.Iteration)
}
