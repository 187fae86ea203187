// Package core implements the Agent and its four cognitive stages — the
// event-driven center of the cognitive task core described in spec.md §4.3
// and §4.4. The Agent is a stateless event processor: it owns an EventBus, a
// TaskRegistry, a ToolExecutor, a ModelRegistry, and two semaphores, and
// drives tasks to completion purely by reacting to bus events and emitting
// more of them. It never recurses directly between stages — every
// continuation re-enters through Emit, keeping the scheduler flat, the way
// the teacher's internal/agent.Runtime keeps its tool loop flat by driving
// iterations through a single dispatch loop rather than stage-to-stage
// recursion.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syntrixbase/pegasus/internal/bus"
	"github.com/syntrixbase/pegasus/internal/modelregistry"
	"github.com/syntrixbase/pegasus/internal/sessionlog"
	"github.com/syntrixbase/pegasus/internal/taskfsm"
	"github.com/syntrixbase/pegasus/internal/toolexec"
	"github.com/syntrixbase/pegasus/pkg/models"
)

// NotifyFunc delivers an outbound (agent-to-channel) message. Channel
// adapters register one per session/source; the Project Adapter's worker
// exit message and the Agent's own responses both flow through it.
type NotifyFunc func(ctx context.Context, source string, message *models.Message)

// Agent is the stateless event processor described in spec.md §4.3.
type Agent struct {
	bus      *bus.Bus
	tasks    *taskfsm.Registry
	toolExec *toolexec.Executor
	toolReg  *toolexec.Registry
	models   *modelregistry.Registry
	sessions *sessionlog.Store
	notify   NotifyFunc
	memory   MemoryIndex
	logger   *slog.Logger

	cfg Config

	thinker   Thinker
	planner   Planner
	actor     Actor
	reflector Reflector

	llmSem  chan struct{}
	toolSem chan struct{}

	mu      sync.Mutex
	running bool
}

// New constructs an Agent. sessions and notify may be nil for tests that
// don't exercise persistence or outbound delivery.
func New(
	b *bus.Bus,
	tasks *taskfsm.Registry,
	toolExec *toolexec.Executor,
	toolReg *toolexec.Registry,
	modelReg *modelregistry.Registry,
	sessions *sessionlog.Store,
	notify NotifyFunc,
	memory MemoryIndex,
	persona Persona,
	cfg Config,
	logger *slog.Logger,
) *Agent {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		bus:       b,
		tasks:     tasks,
		toolExec:  toolExec,
		toolReg:   toolReg,
		models:    modelReg,
		sessions:  sessions,
		notify:    notify,
		memory:    memory,
		logger:    logger,
		cfg:       cfg,
		thinker:   Thinker{Persona: persona, Memory: memory},
		planner:   Planner{},
		actor:     Actor{Persona: persona},
		reflector: Reflector{},
		llmSem:    make(chan struct{}, cfg.MaxConcurrentLLMCalls),
		toolSem:   make(chan struct{}, cfg.MaxConcurrentTools),
	}
}

// Start installs the Agent's bus subscriptions and marks it running.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	for _, et := range []models.EventType{
		models.EventMessageReceived,
		models.EventWebhookTriggered,
		models.EventScheduleFired,
	} {
		a.bus.Subscribe(et, a.handleInbound)
	}

	a.bus.Subscribe(models.EventTaskCreated, a.handleLifecycle)
	a.bus.Subscribe(models.EventReasonDone, a.handleLifecycle)
	a.bus.Subscribe(models.EventNeedMoreInfo, a.handleLifecycle)
	a.bus.Subscribe(models.EventStepCompleted, a.handleLifecycle)
	a.bus.Subscribe(models.EventToolCallDone, a.handleLifecycle)
	a.bus.Subscribe(models.EventToolCallFailed, a.handleLifecycle)
	a.bus.Subscribe(models.EventActDone, a.handleLifecycle)
	a.bus.Subscribe(models.EventReflectDone, a.handleLifecycle)
	a.bus.Subscribe(models.EventTaskSuspended, a.handleLifecycle)
	a.bus.Subscribe(models.EventTaskResumed, a.handleLifecycle)

	// TASK_COMPLETED and TASK_FAILED are terminal notifications, never
	// transition-driving events themselves (the table's only FAILED entry
	// point from a running task is reached via REFLECT_DONE or the direct
	// Transition call in emitFailure) — handleTerminal only notifies, it
	// never calls Transition, so it cannot re-trigger itself.
	a.bus.Subscribe(models.EventTaskCompleted, a.handleTerminal)
	a.bus.Subscribe(models.EventTaskFailed, a.handleTerminal)
}

// Stop marks the Agent as no longer running, then awaits all outstanding
// background stage work via the bus (per spec.md §5, "Stop() ... awaits all
// outstanding background work to settle").
func (a *Agent) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.bus.Stop()
}

// Occupancy reports how many of the configured LLM and tool concurrency
// slots are currently held, for the ambient metrics surface (spec.md §5's
// concurrency model).
func (a *Agent) Occupancy() (llmInUse, toolInUse int) {
	return len(a.llmSem), len(a.toolSem)
}

// Submit creates a task for an inbound message and returns its id once the
// task's TASK_CREATED event is observed in the bus history, per spec.md
// §4.3 ("waits briefly ... for the matching TASK_CREATED event").
func (a *Agent) Submit(ctx context.Context, text, source string) (string, error) {
	return a.submit(ctx, models.EventMessageReceived, text, source, nil)
}

func (a *Agent) submit(ctx context.Context, eventType models.EventType, text, source string, metadata map[string]any) (string, error) {
	event := models.Event{
		ID:     uuid.NewString(),
		Type:   eventType,
		Source: source,
		Time:   time.Now(),
		Payload: models.MessageReceivedPayload{
			Text: text,
		},
	}
	a.bus.Emit(ctx, event)

	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		for _, e := range a.bus.History() {
			if e.Type == models.EventTaskCreated && e.ParentEventID == event.ID {
				return e.TaskID, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("core: submit: %w", ErrTimeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// WaitForTask polls the registry until taskID reaches a terminal state or
// timeout elapses, per spec.md §4.3.
func (a *Agent) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*taskfsm.TaskFSM, error) {
	if timeout <= 0 {
		timeout = a.cfg.TaskTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		fsm, err := a.tasks.Get(taskID)
		if err != nil {
			return nil, err
		}
		if fsm.State().IsTerminal() {
			return fsm, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// OnTaskComplete fires callback once taskID reaches COMPLETED or FAILED. If
// the task is already terminal, it fires synchronously.
func (a *Agent) OnTaskComplete(taskID string, callback func(*taskfsm.TaskFSM)) {
	if fsm, err := a.tasks.Get(taskID); err == nil && fsm.State().IsTerminal() {
		callback(fsm)
		return
	}

	var tokenCompleted, tokenFailed uint64
	fire := func(ctx context.Context, event models.Event) error {
		if event.TaskID != taskID {
			return nil
		}
		fsm, err := a.tasks.Get(taskID)
		if err != nil {
			return err
		}
		a.bus.Unsubscribe(models.EventTaskCompleted, tokenCompleted)
		a.bus.Unsubscribe(models.EventTaskFailed, tokenFailed)
		callback(fsm)
		return nil
	}
	tokenCompleted = a.bus.Subscribe(models.EventTaskCompleted, fire)
	tokenFailed = a.bus.Subscribe(models.EventTaskFailed, fire)
}

// Resume re-enters a COMPLETED task for a follow-up turn, per spec.md
// §4.3. It fails with ErrInvalidState unless the task is COMPLETED.
func (a *Agent) Resume(ctx context.Context, taskID, newInput string) (string, error) {
	fsm, err := a.tasks.Get(taskID)
	if err != nil {
		return "", err
	}
	if fsm.State() != models.TaskCompleted {
		return "", ErrInvalidState
	}
	if err := fsm.ResumeCompleted(newInput); err != nil {
		return "", err
	}
	if err := a.tasks.ReRegisterNonTerminal(taskID); err != nil {
		return "", err
	}

	tc := fsm.Context()
	if a.sessions != nil {
		_ = a.sessions.Append(tc.Messages[len(tc.Messages)-1], nil)
	}

	a.bus.Emit(ctx, models.Event{
		ID:     uuid.NewString(),
		Type:   models.EventTaskResumed,
		Source: a.cfg.Source,
		Time:   time.Now(),
		TaskID: taskID,
	})

	a.dispatchReasoning(ctx, taskID, tc)
	return taskID, nil
}

// handleInbound creates a task for MESSAGE_RECEIVED / WEBHOOK_TRIGGERED /
// SCHEDULE_FIRED and emits TASK_CREATED, per spec.md §4.3's subscription
// table.
func (a *Agent) handleInbound(ctx context.Context, event models.Event) error {
	payload, _ := event.Payload.(models.MessageReceivedPayload)

	taskID := uuid.NewString()
	tc := models.NewTaskContext(taskID, payload.Text, event.Source, nil)
	tc.Messages = append(tc.Messages, &models.Message{
		Role:      models.RoleUser,
		Content:   payload.Text,
		CreatedAt: time.Now(),
	})

	fsm := taskfsm.New(tc, a.cfg.MaxCognitiveIterations)
	if err := a.tasks.Register(fsm); err != nil {
		a.logger.Warn("core: dropping inbound event, task registry full", "source", event.Source, "error", err)
		return err
	}

	if a.sessions != nil {
		_ = a.sessions.Append(tc.Messages[0], nil)
	}

	a.bus.Emit(ctx, models.Event{
		ID:            uuid.NewString(),
		Type:          models.EventTaskCreated,
		Source:        a.cfg.Source,
		Time:          time.Now(),
		TaskID:        taskID,
		ParentEventID: event.ID,
	})
	return nil
}

// handleLifecycle applies the FSM transition for event and dispatches the
// resulting stage's work, per spec.md §4.3's "all task-lifecycle events"
// row.
func (a *Agent) handleLifecycle(ctx context.Context, event models.Event) error {
	if event.TaskID == "" {
		return nil
	}

	// Tool-call completion mutates context before the transition so the FSM
	// can read an up-to-date Plan.Done() (see internal/taskfsm.fsm.go).
	if event.Type == models.EventToolCallDone || event.Type == models.EventToolCallFailed {
		a.recordToolResult(event)
	}

	state, err := a.tasks.Transition(event.TaskID, event)
	if err != nil {
		if taskfsm.IsInvalidTransition(err) {
			a.logger.Debug("core: ignoring event with no defined transition", "task_id", event.TaskID, "event_type", event.Type)
			return nil
		}
		return err
	}

	fsm, err := a.tasks.Get(event.TaskID)
	if err != nil {
		return err
	}
	tc := fsm.Context()

	switch state {
	case models.TaskReasoning:
		a.dispatchReasoning(ctx, event.TaskID, tc)
	case models.TaskActing:
		a.dispatchActing(ctx, event.TaskID, tc)
	case models.TaskReflecting:
		a.dispatchReflecting(ctx, event.TaskID, tc)
	case models.TaskCompleted:
		a.finalizeCompleted(ctx, event.TaskID, tc)
	case models.TaskFailed:
		a.finalizeFailed(ctx, event.TaskID, tc)
	case models.TaskSuspended:
		if event.Type == models.EventNeedMoreInfo {
			if reason, ok := event.Payload.(string); ok {
				tc.SuspendReason = reason
			}
		}
	}
	return nil
}

// handleTerminal notifies the configured channel once a task reaches
// COMPLETED or FAILED. It only reads the registry and calls notify — it
// never calls Transition, so subscribing it directly to TASK_COMPLETED and
// TASK_FAILED cannot recurse back into itself.
func (a *Agent) handleTerminal(ctx context.Context, event models.Event) error {
	if a.notify == nil {
		return nil
	}
	fsm, err := a.tasks.Get(event.TaskID)
	if err != nil {
		return nil
	}

	switch payload := event.Payload.(type) {
	case models.TaskCompletedPayload:
		if payload.Result == nil || payload.Result.Response == nil {
			return nil
		}
		a.notify(ctx, fsm.Context().Source, &models.Message{
			Role:      models.RoleAssistant,
			Content:   *payload.Result.Response,
			CreatedAt: time.Now(),
		})
	case models.TaskFailedPayload:
		a.notify(ctx, fsm.Context().Source, &models.Message{
			Role:      models.RoleAssistant,
			Content:   "I ran into an error and couldn't finish: " + payload.Error,
			CreatedAt: time.Now(),
		})
	}
	return nil
}

// dispatchReasoning runs Thinker then Planner in a tracked background
// goroutine and emits REASON_DONE or NEED_MORE_INFO on completion.
func (a *Agent) dispatchReasoning(ctx context.Context, taskID string, tc *models.TaskContext) {
	done := a.bus.Track()
	go func() {
		defer done()

		provider, err := a.models.Get(modelregistry.TierDefault, "")
		if err != nil {
			a.emitFailure(ctx, taskID, err)
			return
		}

		a.llmSem <- struct{}{}
		reasoning, err := a.thinker.Run(ctx, provider, a.toolReg.Export(), tc)
		<-a.llmSem
		if err != nil {
			a.emitFailure(ctx, taskID, err)
			return
		}
		tc.Reasoning = reasoning

		if reasoning.NeedsClarification {
			a.bus.Emit(ctx, models.Event{
				ID: uuid.NewString(), Type: models.EventNeedMoreInfo, Source: a.cfg.Source,
				Time: time.Now(), TaskID: taskID, Payload: "the request was too ambiguous to act on",
			})
			return
		}

		tc.Plan = a.planner.Run(tc)
		a.bus.Emit(ctx, models.Event{
			ID: uuid.NewString(), Type: models.EventReasonDone, Source: a.cfg.Source,
			Time: time.Now(), TaskID: taskID, Payload: models.ReasonDonePayload{Reasoning: reasoning},
		})
	}()
}

// dispatchActing runs the current plan step, per spec.md §4.4.
func (a *Agent) dispatchActing(ctx context.Context, taskID string, tc *models.TaskContext) {
	step := tc.Plan.CurrentStep()
	if step == nil {
		a.bus.Emit(ctx, models.Event{
			ID: uuid.NewString(), Type: models.EventActDone, Source: a.cfg.Source,
			Time: time.Now(), TaskID: taskID,
		})
		return
	}

	switch step.ActionType {
	case models.ActionToolCall:
		a.dispatchToolCall(ctx, taskID, tc, *step)
	case models.ActionRespond:
		result := a.actor.RunRespond(tc)
		a.completeStep(ctx, taskID, tc, step.Index, result)
	case models.ActionGenerate:
		done := a.bus.Track()
		go func() {
			defer done()
			provider, err := a.models.Get(modelregistry.TierDefault, "")
			if err != nil {
				a.emitFailure(ctx, taskID, err)
				return
			}
			a.llmSem <- struct{}{}
			result, err := a.actor.RunGenerate(ctx, provider, *step)
			<-a.llmSem
			if err != nil {
				a.completeStep(ctx, taskID, tc, step.Index, result)
				return
			}
			a.completeStep(ctx, taskID, tc, step.Index, result)
		}()
	default:
		a.completeStep(ctx, taskID, tc, step.Index, models.ActionResult{
			ActionType: step.ActionType,
			Success:    false,
			Error:      "unsupported action type",
		})
	}
}

// dispatchToolCall executes a tool_call step under the tool semaphore.
func (a *Agent) dispatchToolCall(ctx context.Context, taskID string, tc *models.TaskContext, step models.PlanStep) {
	name, _ := step.ActionParams["name"].(string)

	done := a.bus.Track()
	go func() {
		defer done()
		a.toolSem <- struct{}{}
		ic := toolexec.WithInvocationContext(ctx, toolexec.InvocationContext{TaskID: taskID})
		var args json.RawMessage
		if raw, ok := step.ActionParams["input"].(json.RawMessage); ok {
			args = raw
		}
		_ = a.toolExec.Execute(ic, name, args, tc.Source, taskID)
		<-a.toolSem
		// Execute already emitted TOOL_CALL_COMPLETED/_FAILED; the generic
		// handleLifecycle subscriber records the result and advances the FSM.
	}()
}

// recordToolResult appends the tool-result message and ActionResult for the
// task's current step, ahead of the FSM transition that follows.
func (a *Agent) recordToolResult(event models.Event) {
	fsm, err := a.tasks.Get(event.TaskID)
	if err != nil {
		return
	}
	tc := fsm.Context()
	payload, ok := event.Payload.(models.ToolCallCompletedPayload)
	if !ok || tc.Plan == nil {
		return
	}
	step := tc.Plan.CurrentStep()
	if step == nil {
		return
	}
	toolCallID, _ := step.ActionParams["tool_call_id"].(string)

	content := payload.Result
	if !payload.Success {
		content = payload.Error
	}
	tc.Messages = append(tc.Messages, &models.Message{
		Role:        models.RoleTool,
		ToolResults: []models.ToolResult{{ToolCallID: toolCallID, Content: content, IsError: !payload.Success}},
		CreatedAt:   time.Now(),
	})

	tc.ActionsDone = append(tc.ActionsDone, models.ActionResult{
		StepIndex:   step.Index,
		ActionType:  models.ActionToolCall,
		Result:      payload.Result,
		Error:       payload.Error,
		Success:     payload.Success,
		StartedAt:   payload.StartedAt,
		CompletedAt: payload.CompletedAt,
		Duration:    payload.CompletedAt.Sub(payload.StartedAt),
	})
	step.Completed = true
}

// completeStep records a synchronous action result and emits STEP_COMPLETED.
func (a *Agent) completeStep(ctx context.Context, taskID string, tc *models.TaskContext, stepIndex int, result models.ActionResult) {
	result.StepIndex = stepIndex
	if result.StartedAt.IsZero() {
		now := time.Now()
		result.StartedAt, result.CompletedAt = now, now
	}
	tc.ActionsDone = append(tc.ActionsDone, result)
	for i := range tc.Plan.Steps {
		if tc.Plan.Steps[i].Index == stepIndex {
			tc.Plan.Steps[i].Completed = true
		}
	}
	a.bus.Emit(ctx, models.Event{
		ID: uuid.NewString(), Type: models.EventStepCompleted, Source: a.cfg.Source,
		Time: time.Now(), TaskID: taskID,
	})
}

// dispatchReflecting runs the Reflector and emits REFLECT_DONE.
func (a *Agent) dispatchReflecting(ctx context.Context, taskID string, tc *models.TaskContext) {
	done := a.bus.Track()
	go func() {
		defer done()
		reflection := a.reflector.Run(tc)
		tc.Reflections = append(tc.Reflections, *reflection)
		if reflection.Verdict == models.VerdictComplete {
			tc.FinalResult = compileResult(tc)
		}
		a.bus.Emit(ctx, models.Event{
			ID: uuid.NewString(), Type: models.EventReflectDone, Source: a.cfg.Source,
			Time: time.Now(), TaskID: taskID, Payload: models.ReflectDonePayload{Reflection: reflection},
		})
	}()
}

func compileResult(tc *models.TaskContext) *models.TaskResult {
	var response *string
	if tc.Reasoning != nil && tc.Reasoning.Response != "" {
		r := tc.Reasoning.Response
		response = &r
	}
	for _, a := range tc.ActionsDone {
		if a.ActionType == models.ActionRespond && a.Result != "" {
			r := a.Result
			response = &r
		}
	}
	return &models.TaskResult{
		TaskID:      tc.ID,
		Input:       tc.InputText,
		Response:    response,
		Actions:     tc.ActionsDone,
		Reflections: tc.Reflections,
		Iterations:  tc.Iteration,
	}
}

func (a *Agent) finalizeCompleted(ctx context.Context, taskID string, tc *models.TaskContext) {
	if tc.FinalResult == nil {
		tc.FinalResult = compileResult(tc)
	}
	a.bus.Emit(ctx, models.Event{
		ID: uuid.NewString(), Type: models.EventTaskCompleted, Source: a.cfg.Source,
		Time: time.Now(), TaskID: taskID, Payload: models.TaskCompletedPayload{Result: tc.FinalResult},
	})
}

func (a *Agent) finalizeFailed(ctx context.Context, taskID string, tc *models.TaskContext) {
	a.bus.Emit(ctx, models.Event{
		ID: uuid.NewString(), Type: models.EventTaskFailed, Source: a.cfg.Source,
		Time: time.Now(), TaskID: taskID, Payload: models.TaskFailedPayload{Error: tc.Error},
	})
}

// emitFailure drives taskID directly to FAILED via the registry (not the
// bus) so the TASK_FAILED notification that follows is only ever emitted
// once: handleTerminal listens for it but never re-enters Transition, so
// there is no loop back through the dispatch-by-state switch above.
func (a *Agent) emitFailure(ctx context.Context, taskID string, err error) {
	fsm, getErr := a.tasks.Get(taskID)
	if getErr != nil {
		return
	}
	fsm.Context().Error = err.Error()

	state, transErr := a.tasks.Transition(taskID, models.Event{
		ID: uuid.NewString(), Type: models.EventTaskFailed, Source: a.cfg.Source,
		Time: time.Now(), TaskID: taskID,
	})
	if transErr != nil {
		a.logger.Error("core: could not transition task to failed", "task_id", taskID, "error", transErr)
		return
	}
	if state == models.TaskFailed {
		a.finalizeFailed(ctx, taskID, fsm.Context())
	}
}
