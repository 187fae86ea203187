package projectadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syntrixbase/pegasus/internal/modelregistry"
	"github.com/syntrixbase/pegasus/pkg/models"
)

// ShutdownGrace is how long StopProject waits for a voluntary
// shutdown-complete before force-terminating the worker (spec.md §4.8).
const ShutdownGrace = 30 * time.Second

var (
	// ErrProjectExists is returned by StartProject when id is already running.
	ErrProjectExists = errors.New("projectadapter: project already running")
	// ErrProjectNotFound is returned by StopProject for an unknown id.
	ErrProjectNotFound = errors.New("projectadapter: project not found")
)

// NotifyFunc delivers an inbound message from a worker (or the host's own
// worker-exit notice) into the host's session pipeline. It has the same
// shape as core.NotifyFunc so a Manager can be wired directly to an Agent's
// Submit/notify plumbing.
type NotifyFunc func(ctx context.Context, source string, message *models.Message)

// spawnedProcess abstracts exec.Cmd so tests can fake a worker without a
// real subprocess.
type spawnedProcess struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	wait   func() error
	kill   func() error
}

// Spawner constructs the process backing one project worker. The default,
// production Spawner execs the running binary in worker mode; tests supply
// one backed by in-memory pipes.
type Spawner func(ctx context.Context, projectPath string) (*spawnedProcess, error)

// ExecSpawner returns a Spawner that runs command with args plus
// projectPath appended, wiring its stdin/stdout as pipes. This is the
// production path, grounded on the teacher's StdioTransport.Connect, which
// spawns an MCP server the same way.
func ExecSpawner(command string, args ...string) Spawner {
	return func(ctx context.Context, projectPath string) (*spawnedProcess, error) {
		cmd := exec.CommandContext(ctx, command, append(append([]string{}, args...), projectPath)...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("projectadapter: stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("projectadapter: stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("projectadapter: start worker: %w", err)
		}
		return &spawnedProcess{
			stdin:  stdin,
			stdout: stdout,
			wait:   cmd.Wait,
			kill: func() error {
				if cmd.Process == nil {
					return nil
				}
				return cmd.Process.Kill()
			},
		}, nil
	}
}

// worker is the host's handle on one running project worker.
type worker struct {
	id   string
	proc *spawnedProcess
	out  *lineWriter

	exited    chan struct{}
	exitOnce  sync.Once
	readyOnce sync.Once
	ready     chan struct{}
}

// Manager multiplexes N project workers and proxies their LLM calls back to
// the host's model registry, implementing spec.md §4.8.
type Manager struct {
	mu      sync.Mutex
	workers map[string]*worker

	spawn         Spawner
	models        *modelregistry.Registry
	llmSem        chan struct{}
	tier          modelregistry.Tier
	notify        NotifyFunc
	logger        *slog.Logger
	shutdownGrace time.Duration

	wg sync.WaitGroup
}

// Config configures a Manager.
type Config struct {
	// Spawn constructs the OS process for a project worker.
	Spawn Spawner
	// Models resolves the LLMProvider used to serve worker llm_request
	// messages.
	Models *modelregistry.Registry
	// Tier is the model tier workers are served from. Defaults to
	// modelregistry.TierDefault.
	Tier modelregistry.Tier
	// MaxConcurrentLLMCalls bounds in-flight llm_request service across all
	// workers combined, sharing the host's global LLM semaphore discipline
	// (spec.md §5). Defaults to 3.
	MaxConcurrentLLMCalls int
	// Notify delivers worker `notify` messages and the worker-exit system
	// message into the host's session pipeline.
	Notify NotifyFunc
	Logger *slog.Logger
	// ShutdownGrace overrides how long StopProject waits for a voluntary
	// shutdown-complete before force-terminating. Defaults to
	// ShutdownGrace (30s); tests shorten it to avoid real 30s waits.
	ShutdownGrace time.Duration
}

// NewManager constructs a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Tier == "" {
		cfg.Tier = modelregistry.TierDefault
	}
	if cfg.MaxConcurrentLLMCalls <= 0 {
		cfg.MaxConcurrentLLMCalls = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = ShutdownGrace
	}
	return &Manager{
		workers:       make(map[string]*worker),
		spawn:         cfg.Spawn,
		models:        cfg.Models,
		llmSem:        make(chan struct{}, cfg.MaxConcurrentLLMCalls),
		tier:          cfg.Tier,
		notify:        cfg.Notify,
		logger:        cfg.Logger,
		shutdownGrace: cfg.ShutdownGrace,
	}
}

// StartProject spawns a worker for id, sends init, and registers it. It
// fails if id is already running.
func (m *Manager) StartProject(ctx context.Context, id, projectPath string) error {
	m.mu.Lock()
	if _, exists := m.workers[id]; exists {
		m.mu.Unlock()
		return ErrProjectExists
	}
	m.mu.Unlock()

	proc, err := m.spawn(ctx, projectPath)
	if err != nil {
		return fmt.Errorf("projectadapter: spawn %s: %w", id, err)
	}

	w := &worker{
		id:     id,
		proc:   proc,
		out:    newLineWriter(proc.stdin),
		exited: make(chan struct{}),
		ready:  make(chan struct{}),
	}

	m.mu.Lock()
	m.workers[id] = w
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(w)
	m.wg.Add(1)
	go m.awaitExit(w)

	if err := m.send(w, hostEnvelope{Type: HostMsgInit, ProjectPath: projectPath}); err != nil {
		m.mu.Lock()
		delete(m.workers, id)
		m.mu.Unlock()
		_ = proc.kill()
		return fmt.Errorf("projectadapter: send init to %s: %w", id, err)
	}
	return nil
}

// Deliver posts an outbound message into a running project's worker.
func (m *Manager) Deliver(ctx context.Context, id string, msg *models.Message) error {
	w, err := m.get(id)
	if err != nil {
		return err
	}
	return m.send(w, hostEnvelope{Type: HostMsgMessage, Outbound: msg})
}

// StopProject posts shutdown and waits up to ShutdownGrace for the worker
// to close voluntarily; on timeout it force-terminates.
func (m *Manager) StopProject(id string) error {
	w, err := m.get(id)
	if err != nil {
		return err
	}

	_ = m.send(w, hostEnvelope{Type: HostMsgShutdown})

	select {
	case <-w.exited:
	case <-time.After(m.shutdownGrace):
		_ = w.proc.kill()
		<-w.exited
	}
	return nil
}

// Stop stops every running project concurrently.
func (m *Manager) Stop() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = m.StopProject(id)
		}(id)
	}
	wg.Wait()
	m.wg.Wait()
}

// Running reports whether id currently has a live worker.
func (m *Manager) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.workers[id]
	return ok
}

func (m *Manager) get(id string) (*worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return w, nil
}

func (m *Manager) send(w *worker, env hostEnvelope) error {
	line, err := marshalLine(env)
	if err != nil {
		return err
	}
	return w.out.writeLine(line)
}

// readLoop consumes worker→host messages until the worker's stdout closes.
func (m *Manager) readLoop(w *worker) {
	defer m.wg.Done()
	_ = scanLines(w.proc.stdout, func(line []byte) {
		m.handleLine(w, line)
	})
}

func (m *Manager) handleLine(w *worker, line []byte) {
	var env workerEnvelope
	if err := unmarshalLine(line, &env); err != nil {
		m.logger.Error("projectadapter: malformed worker message", "project_id", w.id, "error", err)
		return
	}

	switch env.Type {
	case WorkerMsgReady:
		w.readyOnce.Do(func() { close(w.ready) })
	case WorkerMsgError:
		m.logger.Error("projectadapter: worker reported an error", "project_id", w.id, "error", env.Error)
	case WorkerMsgNotify:
		if m.notify != nil && env.Inbound != nil {
			m.notify(context.Background(), w.id, env.Inbound)
		}
	case WorkerMsgLLMRequest:
		go m.serveLLMRequest(w, env)
	case WorkerMsgShutdownComplete:
		w.exitOnce.Do(func() { close(w.exited) })
	default:
		m.logger.Warn("projectadapter: unknown worker message type", "project_id", w.id, "type", env.Type)
	}
}

// serveLLMRequest resolves the project's proxied LLM call against the
// host's real model registry, under the shared LLM semaphore, and posts the
// result back as llm_response or llm_error.
func (m *Manager) serveLLMRequest(w *worker, env workerEnvelope) {
	if env.RequestID == "" || env.Options == nil {
		return
	}

	m.llmSem <- struct{}{}
	defer func() { <-m.llmSem }()

	provider, err := m.models.Get(m.tier, "")
	if err != nil {
		_ = m.send(w, hostEnvelope{Type: HostMsgLLMError, RequestID: env.RequestID, Error: err.Error()})
		return
	}

	resp, err := provider.Generate(context.Background(), *env.Options)
	if err != nil {
		_ = m.send(w, hostEnvelope{Type: HostMsgLLMError, RequestID: env.RequestID, Error: err.Error()})
		return
	}
	_ = m.send(w, hostEnvelope{Type: HostMsgLLMResponse, RequestID: env.RequestID, Result: resp})
}

// awaitExit waits for the spawned process to terminate — voluntarily
// (shutdown-complete already closed w.exited) or by crashing — and either
// way deregisters the worker before closing w.exited, then emits the host's
// worker-exit system message exactly once.
func (m *Manager) awaitExit(w *worker) {
	defer m.wg.Done()
	_ = w.proc.wait()

	m.mu.Lock()
	delete(m.workers, w.id)
	m.mu.Unlock()

	w.exitOnce.Do(func() { close(w.exited) })

	if m.notify != nil {
		m.notify(context.Background(), w.id, &models.Message{
			Role:      models.RoleSystem,
			Content:   fmt.Sprintf("[system] Project %q Worker has terminated.", w.id),
			CreatedAt: time.Now(),
		})
	}
}

func newRequestID() string { return uuid.NewString() }
