package core

import (
	"context"
	"fmt"

	"github.com/syntrixbase/pegasus/internal/modelregistry"
	"github.com/syntrixbase/pegasus/internal/toolexec"
	"github.com/syntrixbase/pegasus/pkg/models"
)

// Persona supplies the identity block every stage prepends to its
// stage-specific instruction, per spec.md §4.4 ("combining persona identity
// and a stage-specific instruction block"). Persona loading itself is an
// out-of-scope external collaborator (internal/identity); the core only
// consumes the rendered text.
type Persona struct {
	Identity string
}

func (p Persona) systemPrompt(instruction string) string {
	if p.Identity == "" {
		return instruction
	}
	return p.Identity + "\n\n" + instruction
}

// MemoryIndex summarizes the known knowledge-file layout for the Thinker's
// iteration-1 prompt (spec.md §4.4: "for Thinker on iteration 1, a memory
// index of known knowledge files"). Summary returns empty string when there
// is nothing to report.
type MemoryIndex interface {
	Summary(ctx context.Context) (string, error)
}

// Thinker produces a Reasoning from the task's conversation history.
type Thinker struct {
	Persona Persona
	// Memory supplies the iteration-1 memory index. May be nil.
	Memory MemoryIndex
}

const thinkerInstruction = "Decide how to respond to the user's latest message. " +
	"Call tools when you need information or side effects; otherwise respond directly. " +
	"If the request is too ambiguous to act on, ask for clarification instead of guessing."

func (t Thinker) Run(ctx context.Context, llm modelregistry.LLMProvider, tools []toolexec.LLMTool, tc *models.TaskContext) (*models.Reasoning, error) {
	system := t.Persona.systemPrompt(thinkerInstruction)
	if tc.Iteration <= 1 && t.Memory != nil {
		if summary, err := t.Memory.Summary(ctx); err == nil && summary != "" {
			system = system + "\n\nKnown knowledge files:\n" + summary
		}
	}

	resp, err := llm.Generate(ctx, modelregistry.GenerateRequest{
		System:   system,
		Messages: messagesWithInput(tc),
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("thinker: %w", err)
	}

	reasoning := &models.Reasoning{
		Response:  resp.Content,
		ToolCalls: resp.ToolCalls,
	}
	if len(resp.ToolCalls) == 0 && resp.Content == "" {
		reasoning.NeedsClarification = true
	}
	return reasoning, nil
}

// messagesWithInput appends the task's fresh input as a trailing user turn
// if it is not already the tail of tc.Messages (handleInbound appends it to
// tc.Messages; callers constructing a TaskContext directly may not have).
func messagesWithInput(tc *models.TaskContext) []models.Message {
	out := make([]models.Message, 0, len(tc.Messages)+1)
	for _, m := range tc.Messages {
		out = append(out, *m)
	}
	if len(out) == 0 || out[len(out)-1].Content != tc.InputText {
		out = append(out, models.Message{Role: models.RoleUser, Content: tc.InputText})
	}
	return out
}

// Planner turns a Reasoning into a Plan per spec.md §4.4's Planner policy.
type Planner struct{}

func (Planner) Run(tc *models.TaskContext) *models.Plan {
	reasoning := tc.Reasoning
	plan := &models.Plan{Goal: tc.InputText}
	if reasoning != nil {
		plan.Reasoning = reasoning.Response
	}

	switch {
	case reasoning != nil && len(reasoning.ToolCalls) > 0:
		for i, call := range reasoning.ToolCalls {
			plan.Steps = append(plan.Steps, models.PlanStep{
				Index:       i,
				Description: "call tool " + call.Name,
				ActionType:  models.ActionToolCall,
				ActionParams: map[string]any{
					"tool_call_id": call.ID,
					"name":         call.Name,
					"input":        call.Input,
				},
			})
		}
	case tc.TaskType == models.TaskTypeConversation:
		plan.Steps = []models.PlanStep{{
			Index:       0,
			Description: "respond to the user",
			ActionType:  models.ActionRespond,
		}}
	default:
		plan.Steps = []models.PlanStep{{
			Index:        0,
			Description:  "generate output",
			ActionType:   models.ActionGenerate,
			ActionParams: map[string]any{"prompt": tc.InputText},
		}}
	}
	return plan
}

// Actor runs one synchronous (respond/generate) plan step. tool_call steps
// are dispatched by the Agent itself, since they go through the shared
// tool semaphore and toolexec.Executor rather than the LLM.
type Actor struct {
	Persona Persona
}

const actorGenerateInstruction = "Produce the requested output directly, with no preamble."

func (a Actor) RunRespond(tc *models.TaskContext) models.ActionResult {
	response := ""
	if tc.Reasoning != nil {
		response = tc.Reasoning.Response
	}
	return models.ActionResult{
		ActionType: models.ActionRespond,
		Result:     response,
		Success:    true,
	}
}

func (a Actor) RunGenerate(ctx context.Context, llm modelregistry.LLMProvider, step models.PlanStep) (models.ActionResult, error) {
	prompt, _ := step.ActionParams["prompt"].(string)
	resp, err := llm.Generate(ctx, modelregistry.GenerateRequest{
		System:   a.Persona.systemPrompt(actorGenerateInstruction),
		Messages: []models.Message{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil {
		return models.ActionResult{ActionType: models.ActionGenerate, Success: false, Error: err.Error()}, err
	}
	return models.ActionResult{ActionType: models.ActionGenerate, Result: resp.Content, Success: true}, nil
}

// Reflector assesses a task's completed actions per spec.md §4.4's
// Reflector policy.
type Reflector struct{}

// currentRoundActions returns the ActionsDone entries produced by the
// current plan, not the task's whole history. ActionResult.StepIndex
// restarts at 0 for every new Plan, so only the most recently appended
// len(tc.Plan.Steps) entries can safely be attributed to this round.
func currentRoundActions(tc *models.TaskContext) []models.ActionResult {
	if tc.Plan == nil {
		return nil
	}
	n := len(tc.Plan.Steps)
	if n > len(tc.ActionsDone) {
		n = len(tc.ActionsDone)
	}
	return tc.ActionsDone[len(tc.ActionsDone)-n:]
}

func (Reflector) Run(tc *models.TaskContext) *models.Reflection {
	hadToolCalls := false
	allSucceeded := true
	for _, a := range currentRoundActions(tc) {
		if a.ActionType == models.ActionToolCall {
			hadToolCalls = true
		}
		if !a.Success {
			allSucceeded = false
		}
	}

	switch {
	case hadToolCalls && allSucceeded:
		return &models.Reflection{
			Verdict:    models.VerdictContinue,
			Assessment: "tool calls succeeded; summarizing results in the next reasoning round",
		}
	case tc.TaskType == models.TaskTypeConversation:
		return &models.Reflection{
			Verdict:    models.VerdictComplete,
			Assessment: "conversational turn answered directly",
		}
	case allSucceeded:
		return &models.Reflection{
			Verdict:    models.VerdictComplete,
			Assessment: "all actions succeeded",
		}
	default:
		return &models.Reflection{
			Verdict:    models.VerdictContinue,
			Assessment: "one or more actions failed; retrying",
		}
	}
}
