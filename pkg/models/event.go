package models

import "time"

// EventType identifies the kind of a bus Event. Closed enumeration per the
// cognitive task core's event model.
type EventType string

const (
	EventMessageReceived  EventType = "MESSAGE_RECEIVED"
	EventWebhookTriggered EventType = "WEBHOOK_TRIGGERED"
	EventScheduleFired    EventType = "SCHEDULE_FIRED"
	EventSystemStarted    EventType = "SYSTEM_STARTED"
	EventTaskCreated      EventType = "TASK_CREATED"
	EventTaskSuspended    EventType = "TASK_SUSPENDED"
	EventTaskResumed      EventType = "TASK_RESUMED"
	EventTaskCompleted    EventType = "TASK_COMPLETED"
	EventTaskFailed       EventType = "TASK_FAILED"
	EventReasonDone       EventType = "REASON_DONE"
	EventActDone          EventType = "ACT_DONE"
	EventStepCompleted    EventType = "STEP_COMPLETED"
	EventToolCallDone     EventType = "TOOL_CALL_COMPLETED"
	EventToolCallFailed   EventType = "TOOL_CALL_FAILED"
	EventReflectDone      EventType = "REFLECT_DONE"
	EventNeedMoreInfo     EventType = "NEED_MORE_INFO"
)

// Event is an immutable record produced by the Agent, cognitive stages, or
// external inputs. Events are never mutated after emission.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Type is the closed event-type enumeration.
	Type EventType `json:"type"`

	// Source identifies the channel or subsystem that produced the event
	// (e.g. "terminal", "discord", "scheduler", "agent").
	Source string `json:"source"`

	// Time is the monotonic emission timestamp.
	Time time.Time `json:"time"`

	// TaskID is the task this event pertains to, if any.
	TaskID string `json:"task_id,omitempty"`

	// ParentEventID supports causal tracing back to the event that triggered
	// this one.
	ParentEventID string `json:"parent_event_id,omitempty"`

	// Payload is an arbitrary typed payload; callers type-assert based on Type.
	Payload any `json:"payload,omitempty"`
}

// MessageReceivedPayload is the payload for EventMessageReceived.
type MessageReceivedPayload struct {
	Text string `json:"text"`
}

// TaskCompletedPayload is the payload for EventTaskCompleted.
type TaskCompletedPayload struct {
	Result *TaskResult `json:"result"`
}

// TaskFailedPayload is the payload for EventTaskFailed.
type TaskFailedPayload struct {
	Error string `json:"error"`
}

// ToolCallCompletedPayload is the payload for EventToolCallDone / EventToolCallFailed.
type ToolCallCompletedPayload struct {
	ToolName    string    `json:"tool_name"`
	Success     bool      `json:"success"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// ReasonDonePayload is the payload for EventReasonDone.
type ReasonDonePayload struct {
	Reasoning *Reasoning `json:"reasoning"`
}

// ReflectDonePayload is the payload for EventReflectDone.
type ReflectDonePayload struct {
	Reflection *Reflection `json:"reflection"`
}

// TaskResult is the compiled outcome of a completed task, per spec.md §6's
// TASK_COMPLETED payload shape.
type TaskResult struct {
	TaskID      string       `json:"taskId"`
	Input       string       `json:"input"`
	Response    *string      `json:"response"`
	Actions     []ActionResult `json:"actions"`
	Reflections []Reflection   `json:"reflections"`
	Iterations  int          `json:"iterations"`
}
