package projectadapter

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/syntrixbase/pegasus/internal/modelregistry"
	"github.com/syntrixbase/pegasus/pkg/models"
)

// fakeWorker simulates a project worker's side of the protocol for tests,
// so Manager can be exercised without a real subprocess. behavior runs once
// per host message the fake worker receives; send posts a worker→host
// message, and exit simulates the worker process terminating.
func fakeWorker(t *testing.T, behavior func(env hostEnvelope, send func(workerEnvelope), exit func())) Spawner {
	t.Helper()
	return func(ctx context.Context, projectPath string) (*spawnedProcess, error) {
		hostR, hostW := io.Pipe()
		workerR, workerW := io.Pipe()

		exited := make(chan struct{})
		var exitOnce sync.Once
		exit := func() {
			exitOnce.Do(func() {
				hostR.Close()
				workerW.Close()
				close(exited)
			})
		}
		send := func(env workerEnvelope) {
			line, err := marshalLine(env)
			if err != nil {
				t.Fatalf("marshal worker envelope: %v", err)
			}
			_, _ = workerW.Write(line)
		}

		go func() {
			_ = scanLines(hostR, func(line []byte) {
				var env hostEnvelope
				if err := unmarshalLine(line, &env); err != nil {
					t.Errorf("malformed host envelope: %v", err)
					return
				}
				behavior(env, send, exit)
			})
		}()

		return &spawnedProcess{
			stdin:  hostW,
			stdout: workerR,
			wait: func() error {
				<-exited
				return nil
			},
			kill: func() error {
				exit()
				return nil
			},
		}, nil
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestStartProjectRegistersWorker(t *testing.T) {
	spawn := fakeWorker(t, func(env hostEnvelope, send func(workerEnvelope), exit func()) {
		if env.Type == HostMsgInit {
			send(workerEnvelope{Type: WorkerMsgReady})
		}
	})
	m := NewManager(Config{Spawn: spawn})
	t.Cleanup(m.Stop)

	if err := m.StartProject(context.Background(), "proj1", "/tmp/proj1"); err != nil {
		t.Fatalf("StartProject: %v", err)
	}
	if !m.Running("proj1") {
		t.Error("expected proj1 to be running")
	}
}

func TestStartProjectDuplicateIDFails(t *testing.T) {
	spawn := fakeWorker(t, func(env hostEnvelope, send func(workerEnvelope), exit func()) {})
	m := NewManager(Config{Spawn: spawn})
	t.Cleanup(m.Stop)

	if err := m.StartProject(context.Background(), "proj1", "/tmp/proj1"); err != nil {
		t.Fatalf("StartProject: %v", err)
	}
	if err := m.StartProject(context.Background(), "proj1", "/tmp/proj1"); err != ErrProjectExists {
		t.Fatalf("err = %v, want ErrProjectExists", err)
	}
}

func TestServeLLMRequestRoundTrip(t *testing.T) {
	got := make(chan hostEnvelope, 1)
	spawn := fakeWorker(t, func(env hostEnvelope, send func(workerEnvelope), exit func()) {
		switch env.Type {
		case HostMsgInit:
			send(workerEnvelope{
				Type:      WorkerMsgLLMRequest,
				RequestID: "req-1",
				Options:   &modelregistry.GenerateRequest{System: "you are a worker"},
			})
		case HostMsgLLMResponse, HostMsgLLMError:
			got <- env
		}
	})

	reg := modelregistry.New(modelregistry.Config{Tiers: map[modelregistry.Tier]string{
		modelregistry.TierDefault: "test/test-model",
	}})
	reg.RegisterFactory("test", func(modelID string, cfg modelregistry.ProviderConfig) (modelregistry.LLMProvider, error) {
		return stubProvider{content: "hi from host"}, nil
	})

	m := NewManager(Config{Spawn: spawn, Models: reg})
	t.Cleanup(m.Stop)

	if err := m.StartProject(context.Background(), "proj1", "/tmp/proj1"); err != nil {
		t.Fatalf("StartProject: %v", err)
	}

	select {
	case env := <-got:
		if env.Type != HostMsgLLMResponse {
			t.Fatalf("got type %s, want llm_response (error=%s)", env.Type, env.Error)
		}
		if env.RequestID != "req-1" {
			t.Errorf("RequestID = %q, want req-1", env.RequestID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for llm_response")
	}
}

type stubProvider struct{ content string }

func (s stubProvider) Generate(ctx context.Context, req modelregistry.GenerateRequest) (*modelregistry.GenerateResponse, error) {
	return &modelregistry.GenerateResponse{Content: s.content}, nil
}
func (s stubProvider) ModelID() string { return "stub" }

func TestStopProjectVoluntaryShutdown(t *testing.T) {
	spawn := fakeWorker(t, func(env hostEnvelope, send func(workerEnvelope), exit func()) {
		if env.Type == HostMsgShutdown {
			send(workerEnvelope{Type: WorkerMsgShutdownComplete})
			exit()
		}
	})
	m := NewManager(Config{Spawn: spawn, ShutdownGrace: 50 * time.Millisecond})
	t.Cleanup(m.Stop)

	if err := m.StartProject(context.Background(), "proj1", "/tmp/proj1"); err != nil {
		t.Fatalf("StartProject: %v", err)
	}

	start := time.Now()
	if err := m.StopProject("proj1"); err != nil {
		t.Fatalf("StopProject: %v", err)
	}
	if time.Since(start) >= 50*time.Millisecond {
		t.Error("expected StopProject to return promptly on voluntary shutdown-complete, not wait out the grace period")
	}
}

func TestStopProjectForceTerminatesOnTimeout(t *testing.T) {
	spawn := fakeWorker(t, func(env hostEnvelope, send func(workerEnvelope), exit func()) {
		// Never responds to shutdown.
	})
	m := NewManager(Config{Spawn: spawn, ShutdownGrace: 20 * time.Millisecond})
	t.Cleanup(m.Stop)

	if err := m.StartProject(context.Background(), "proj1", "/tmp/proj1"); err != nil {
		t.Fatalf("StartProject: %v", err)
	}
	if err := m.StopProject("proj1"); err != nil {
		t.Fatalf("StopProject: %v", err)
	}
	if m.Running("proj1") {
		t.Error("expected proj1 to be deregistered after force-termination")
	}
}

func TestWorkerExitEmitsTerminationNotice(t *testing.T) {
	var mu sync.Mutex
	var notified *models.Message
	notify := func(ctx context.Context, source string, msg *models.Message) {
		mu.Lock()
		defer mu.Unlock()
		notified = msg
	}

	var triggerExit func()
	spawn := fakeWorker(t, func(env hostEnvelope, send func(workerEnvelope), exit func()) {
		triggerExit = exit
		if env.Type == HostMsgInit {
			send(workerEnvelope{Type: WorkerMsgReady})
		}
	})
	m := NewManager(Config{Spawn: spawn, Notify: notify})
	t.Cleanup(m.Stop)

	if err := m.StartProject(context.Background(), "proj1", "/tmp/proj1"); err != nil {
		t.Fatalf("StartProject: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return triggerExit != nil })
	triggerExit()

	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return notified != nil
	})

	mu.Lock()
	defer mu.Unlock()
	want := `[system] Project "proj1" Worker has terminated.`
	if notified.Content != want {
		t.Errorf("Content = %q, want %q", notified.Content, want)
	}
	if notified.Role != models.RoleSystem {
		t.Errorf("Role = %q, want system", notified.Role)
	}
	if m.Running("proj1") {
		t.Error("expected proj1 to be deregistered after the worker exits")
	}
}

func TestStopStopsAllWorkersConcurrently(t *testing.T) {
	spawn := fakeWorker(t, func(env hostEnvelope, send func(workerEnvelope), exit func()) {
		if env.Type == HostMsgShutdown {
			send(workerEnvelope{Type: WorkerMsgShutdownComplete})
			exit()
		}
	})
	m := NewManager(Config{Spawn: spawn, ShutdownGrace: time.Second})

	for _, id := range []string{"a", "b", "c"} {
		if err := m.StartProject(context.Background(), id, "/tmp/"+id); err != nil {
			t.Fatalf("StartProject(%s): %v", id, err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	for _, id := range []string{"a", "b", "c"} {
		if m.Running(id) {
			t.Errorf("expected %s to be stopped", id)
		}
	}
}
