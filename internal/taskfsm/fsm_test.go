package taskfsm

import (
	"testing"

	"github.com/syntrixbase/pegasus/pkg/models"
)

func newFSM(maxIter int) *TaskFSM {
	tc := models.NewTaskContext("t1", "hello", "test", nil)
	return New(tc, maxIter)
}

func TestTransitionFullHappyPath(t *testing.T) {
	f := newFSM(5)

	steps := []struct {
		event models.EventType
		want  models.TaskState
	}{
		{models.EventTaskCreated, models.TaskReasoning},
		{models.EventReasonDone, models.TaskActing},
		{models.EventActDone, models.TaskReflecting},
	}
	for _, step := range steps {
		state, err := f.Transition(models.Event{Type: step.event})
		if err != nil {
			t.Fatalf("Transition(%s): %v", step.event, err)
		}
		if state != step.want {
			t.Fatalf("Transition(%s) = %s, want %s", step.event, state, step.want)
		}
	}

	state, err := f.Transition(models.Event{
		Type:    models.EventReflectDone,
		Payload: models.ReflectDonePayload{Reflection: &models.Reflection{Verdict: models.VerdictComplete}},
	})
	if err != nil {
		t.Fatalf("Transition(REFLECT_DONE complete): %v", err)
	}
	if state != models.TaskCompleted {
		t.Fatalf("state = %s, want COMPLETED", state)
	}
}

func TestTransitionReflectContinueReEntersReasoning(t *testing.T) {
	f := newFSM(5)
	f.Transition(models.Event{Type: models.EventTaskCreated})
	f.Transition(models.Event{Type: models.EventReasonDone})
	f.Transition(models.Event{Type: models.EventActDone})

	iterBefore := f.Context().Iteration
	state, err := f.Transition(models.Event{
		Type:    models.EventReflectDone,
		Payload: models.ReflectDonePayload{Reflection: &models.Reflection{Verdict: models.VerdictContinue}},
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if state != models.TaskReasoning {
		t.Fatalf("state = %s, want REASONING", state)
	}
	if f.Context().Iteration != iterBefore+1 {
		t.Errorf("Iteration = %d, want %d", f.Context().Iteration, iterBefore+1)
	}
}

func TestTransitionReflectContinueFailsAtMaxIterations(t *testing.T) {
	f := newFSM(1) // Iteration becomes 1 on TASK_CREATED, already at the cap.
	f.Transition(models.Event{Type: models.EventTaskCreated})
	f.Transition(models.Event{Type: models.EventReasonDone})
	f.Transition(models.Event{Type: models.EventActDone})

	state, err := f.Transition(models.Event{
		Type:    models.EventReflectDone,
		Payload: models.ReflectDonePayload{Reflection: &models.Reflection{Verdict: models.VerdictContinue}},
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if state != models.TaskFailed {
		t.Fatalf("state = %s, want FAILED", state)
	}
	if f.Context().Error == "" {
		t.Error("expected an error message to be recorded")
	}
}

func TestTransitionNeedMoreInfoSuspendsAndResumeReturnsToReasoning(t *testing.T) {
	f := newFSM(5)
	f.Transition(models.Event{Type: models.EventTaskCreated})

	state, err := f.Transition(models.Event{Type: models.EventNeedMoreInfo})
	if err != nil {
		t.Fatalf("Transition(NEED_MORE_INFO): %v", err)
	}
	if state != models.TaskSuspended {
		t.Fatalf("state = %s, want SUSPENDED", state)
	}

	state, err = f.Transition(models.Event{Type: models.EventTaskResumed})
	if err != nil {
		t.Fatalf("Transition(TASK_RESUMED): %v", err)
	}
	if state != models.TaskReasoning {
		t.Fatalf("state = %s, want REASONING (the state suspended from)", state)
	}
}

func TestTransitionUndefinedEventReturnsInvalidTransitionError(t *testing.T) {
	f := newFSM(5)
	state, err := f.Transition(models.Event{Type: models.EventReflectDone})
	if err == nil {
		t.Fatal("expected an error for REFLECT_DONE in CREATED state")
	}
	if !IsInvalidTransition(err) {
		t.Errorf("err = %v, want an *InvalidTransitionError", err)
	}
	if state != models.TaskCreated {
		t.Errorf("state = %s, want the unchanged CREATED state", state)
	}
}

func TestTransitionOnTerminalStateIgnoresEverything(t *testing.T) {
	f := newFSM(5)
	f.Transition(models.Event{Type: models.EventTaskCreated})
	f.Transition(models.Event{Type: models.EventReasonDone})
	f.Transition(models.Event{Type: models.EventActDone})
	f.Transition(models.Event{
		Type:    models.EventReflectDone,
		Payload: models.ReflectDonePayload{Reflection: &models.Reflection{Verdict: models.VerdictComplete}},
	})
	if f.State() != models.TaskCompleted {
		t.Fatalf("setup: state = %s, want COMPLETED", f.State())
	}

	state, err := f.Transition(models.Event{Type: models.EventTaskFailed})
	if err != nil {
		t.Fatalf("Transition on terminal state returned an error: %v", err)
	}
	if state != models.TaskCompleted {
		t.Fatalf("state = %s, want COMPLETED to remain unchanged", state)
	}
}

func TestResumeCompletedResetsContextAndReturnsToReasoning(t *testing.T) {
	f := newFSM(5)
	f.Transition(models.Event{Type: models.EventTaskCreated})
	f.Transition(models.Event{Type: models.EventReasonDone})
	f.Transition(models.Event{Type: models.EventActDone})
	f.Transition(models.Event{
		Type:    models.EventReflectDone,
		Payload: models.ReflectDonePayload{Reflection: &models.Reflection{Verdict: models.VerdictComplete}},
	})
	f.Context().ActionsDone = append(f.Context().ActionsDone, models.ActionResult{Success: true})
	f.Context().FinalResult = &models.TaskResult{TaskID: "t1"}

	if err := f.ResumeCompleted("a follow-up"); err != nil {
		t.Fatalf("ResumeCompleted: %v", err)
	}

	if f.State() != models.TaskReasoning {
		t.Fatalf("state = %s, want REASONING", f.State())
	}
	tc := f.Context()
	if tc.InputText != "a follow-up" {
		t.Errorf("InputText = %q, want %q", tc.InputText, "a follow-up")
	}
	if len(tc.Messages) == 0 || tc.Messages[len(tc.Messages)-1].Content != "a follow-up" {
		t.Error("expected the new input appended as a trailing user message")
	}
	if tc.Plan != nil || tc.ActionsDone != nil || tc.Error != "" || tc.FinalResult != nil {
		t.Errorf("expected Plan/ActionsDone/Error/FinalResult reset, got %+v", tc)
	}
	if tc.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1", tc.Iteration)
	}
}

func TestResumeCompletedFailsUnlessCompleted(t *testing.T) {
	f := newFSM(5)
	if err := f.ResumeCompleted("x"); err != ErrInvalidState {
		t.Fatalf("err = %v, want ErrInvalidState for a CREATED task", err)
	}
}
