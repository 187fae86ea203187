package models

import "time"

// TaskState is the closed enumeration of Task FSM states.
type TaskState string

const (
	TaskCreated    TaskState = "CREATED"
	TaskReasoning  TaskState = "REASONING"
	TaskActing     TaskState = "ACTING"
	TaskReflecting TaskState = "REFLECTING"
	TaskSuspended  TaskState = "SUSPENDED"
	TaskCompleted  TaskState = "COMPLETED"
	TaskFailed     TaskState = "FAILED"
)

// IsTerminal reports whether the state is a terminal FSM state.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ActionType is the closed enumeration of plan step action types.
type ActionType string

const (
	ActionToolCall ActionType = "tool_call"
	ActionRespond  ActionType = "respond"
	ActionGenerate ActionType = "generate"
	ActionSubTask  ActionType = "sub_task"
)

// ReflectionVerdict is the closed enumeration of reflector verdicts.
type ReflectionVerdict string

const (
	VerdictComplete ReflectionVerdict = "complete"
	VerdictContinue ReflectionVerdict = "continue"
	VerdictReplan   ReflectionVerdict = "replan"
)

// PlanStep is a single step of a Plan.
type PlanStep struct {
	Index        int            `json:"index"`
	Description  string         `json:"description"`
	ActionType   ActionType     `json:"action_type"`
	ActionParams map[string]any `json:"action_params,omitempty"`
	Completed    bool           `json:"completed"`
}

// Plan is the ordered sequence of steps produced by the Planner.
type Plan struct {
	Goal      string     `json:"goal"`
	Reasoning string     `json:"reasoning"`
	Steps     []PlanStep `json:"steps"`
}

// CurrentStep returns a pointer to the first incomplete step in index order,
// or nil if every step is complete.
func (p *Plan) CurrentStep() *PlanStep {
	if p == nil {
		return nil
	}
	for i := range p.Steps {
		if !p.Steps[i].Completed {
			return &p.Steps[i]
		}
	}
	return nil
}

// Done reports whether every step in the plan is complete.
func (p *Plan) Done() bool {
	return p.CurrentStep() == nil
}

// ActionResult is a snapshot of one executed plan step.
type ActionResult struct {
	StepIndex   int            `json:"step_index"`
	ActionType  ActionType     `json:"action_type"`
	Input       map[string]any `json:"input,omitempty"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Success     bool           `json:"success"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Duration    time.Duration  `json:"duration"`
}

// Reflection is the output of the Reflector stage.
type Reflection struct {
	Verdict    ReflectionVerdict `json:"verdict"`
	Assessment string            `json:"assessment"`
	Lessons    []string          `json:"lessons,omitempty"`
}

// Reasoning is the tagged-variant output of the Thinker stage, replacing the
// source system's untyped reasoning map (spec.md §9 design note).
type Reasoning struct {
	Response          string     `json:"response,omitempty"`
	Approach          string     `json:"approach,omitempty"`
	NeedsClarification bool      `json:"needs_clarification,omitempty"`
	ToolCalls         []ToolCall `json:"tool_calls,omitempty"`
}

// TaskType classifies the input for Planner policy purposes.
type TaskType string

const (
	TaskTypeConversation TaskType = "conversation"
	TaskTypeAction       TaskType = "action"
)

// TaskContext is the mutable per-task record owned exclusively by its TaskFSM.
type TaskContext struct {
	ID             string
	InputText      string
	InputMetadata  map[string]any
	Source         string
	TaskType       TaskType

	Perception string
	Reasoning  *Reasoning
	Plan       *Plan

	ActionsDone []ActionResult
	Reflections []Reflection

	Messages []*Message

	Iteration int

	FinalResult *TaskResult
	Error       string

	SuspendedState  TaskState
	SuspendReason   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTaskContext creates a fresh TaskContext for an inbound message.
func NewTaskContext(id, inputText, source string, metadata map[string]any) *TaskContext {
	now := time.Now()
	taskType := TaskTypeConversation
	return &TaskContext{
		ID:            id,
		InputText:     inputText,
		InputMetadata: metadata,
		Source:        source,
		TaskType:      taskType,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
