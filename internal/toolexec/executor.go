package toolexec

import (
	"context"
	"encoding/json"
	"time"

	"github.com/syntrixbase/pegasus/internal/bus"
	"github.com/syntrixbase/pegasus/pkg/models"
)

// DefaultTimeout is the per-call wall-clock timeout used when
// Config.Timeout is unset (settings.tools.timeout default, spec.md §4.5).
const DefaultTimeout = 30 * time.Second

// Config configures an Executor.
type Config struct {
	// Timeout bounds a single Execute call. Default DefaultTimeout.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Result is the outcome of one tool invocation.
type Result struct {
	Success    bool
	Value      any
	Error      string
	DurationMs int64
	StartedAt  time.Time
	CompletedAt time.Time
}

// Executor runs registered tools under a wall-clock timeout and publishes
// TOOL_CALL_COMPLETED / TOOL_CALL_FAILED events. The executor itself does
// not enforce a concurrency cap — callers (the Agent) acquire the shared
// tool semaphore around each Execute call, per spec.md §4.5 "Concurrency".
type Executor struct {
	registry *Registry
	bus      *bus.Bus
	cfg      Config
}

// NewExecutor creates an Executor over registry, publishing lifecycle events
// to b (may be nil to disable event emission, e.g. in isolated tests).
func NewExecutor(registry *Registry, b *bus.Bus, cfg Config) *Executor {
	return &Executor{registry: registry, bus: b, cfg: cfg.withDefaults()}
}

type invocationContextKey struct{}

// InvocationContext carries the fields spec.md §6 says a tool's ctx
// parameter provides: taskId, dataDir, memoryDir when present.
type InvocationContext struct {
	TaskID    string
	DataDir   string
	MemoryDir string
}

// WithInvocationContext attaches ic to ctx for a Handler to read back.
func WithInvocationContext(ctx context.Context, ic InvocationContext) context.Context {
	return context.WithValue(ctx, invocationContextKey{}, ic)
}

// InvocationContextFromContext retrieves the InvocationContext, if any.
func InvocationContextFromContext(ctx context.Context) (InvocationContext, bool) {
	ic, ok := ctx.Value(invocationContextKey{}).(InvocationContext)
	return ic, ok
}

// Execute resolves name, races its handler against the configured timeout,
// and returns a Result. It never panics or returns a Go error for tool
// failure — every failure mode (unknown tool, timeout, handler error) is
// reported in-band via Result.Success/Result.Error, per spec.md §4.5.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage, source string, taskID string) Result {
	started := time.Now()

	def, ok := e.registry.Get(name)
	if !ok {
		res := Result{Success: false, Error: errUnknownTool(name).Error(), StartedAt: started, CompletedAt: started}
		e.emit(ctx, name, source, taskID, res)
		return res
	}

	if err := validateArgs(def, args); err != nil {
		completed := time.Now()
		res := Result{
			Success:     false,
			Error:       err.Error(),
			StartedAt:   started,
			CompletedAt: completed,
			DurationMs:  completed.Sub(started).Milliseconds(),
		}
		e.emit(ctx, name, source, taskID, res)
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := def.Handler(callCtx, args)
		select {
		case done <- outcome{value: value, err: err}:
		default:
		}
	}()

	var res Result
	select {
	case <-callCtx.Done():
		completed := time.Now()
		res = Result{
			Success:     false,
			Error:       "timeout",
			StartedAt:   started,
			CompletedAt: completed,
			DurationMs:  completed.Sub(started).Milliseconds(),
		}
	case out := <-done:
		completed := time.Now()
		if out.err != nil {
			res = Result{
				Success:     false,
				Error:       out.err.Error(),
				StartedAt:   started,
				CompletedAt: completed,
				DurationMs:  completed.Sub(started).Milliseconds(),
			}
		} else {
			res = Result{
				Success:     true,
				Value:       out.value,
				StartedAt:   started,
				CompletedAt: completed,
				DurationMs:  completed.Sub(started).Milliseconds(),
			}
		}
	}

	e.emit(ctx, name, source, taskID, res)
	return res
}

func (e *Executor) emit(ctx context.Context, name, source, taskID string, res Result) {
	if e.bus == nil {
		return
	}
	eventType := models.EventToolCallDone
	if !res.Success {
		eventType = models.EventToolCallFailed
	}
	resultText := ""
	if res.Value != nil {
		if s, ok := res.Value.(string); ok {
			resultText = s
		} else if b, err := json.Marshal(res.Value); err == nil {
			resultText = string(b)
		}
	}
	e.bus.Emit(ctx, models.Event{
		Type:   eventType,
		Source: source,
		Time:   time.Now(),
		TaskID: taskID,
		Payload: models.ToolCallCompletedPayload{
			ToolName:    name,
			Success:     res.Success,
			Result:      resultText,
			Error:       res.Error,
			StartedAt:   res.StartedAt,
			CompletedAt: res.CompletedAt,
			DurationMs:  res.DurationMs,
		},
	})
}
