package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/syntrixbase/pegasus/internal/projectadapter"
)

func TestProjectHandlerRequiresAction(t *testing.T) {
	def := ProjectDefinition(projectadapter.NewManager(projectadapter.Config{}))
	args, _ := json.Marshal(map[string]any{"project_id": "p1"})
	if _, err := def.Handler(context.Background(), args); err == nil {
		t.Fatal("expected error for missing action")
	}
}

func TestProjectHandlerRequiresProjectID(t *testing.T) {
	def := ProjectDefinition(projectadapter.NewManager(projectadapter.Config{}))
	args, _ := json.Marshal(map[string]any{"action": "start", "project_path": "."})
	if _, err := def.Handler(context.Background(), args); err == nil {
		t.Fatal("expected error for missing project_id")
	}
}

func TestProjectHandlerRejectsUnknownAction(t *testing.T) {
	def := ProjectDefinition(projectadapter.NewManager(projectadapter.Config{}))
	args, _ := json.Marshal(map[string]any{"action": "teleport", "project_id": "p1"})
	if _, err := def.Handler(context.Background(), args); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestProjectHandlerStartRequiresProjectPath(t *testing.T) {
	def := ProjectDefinition(projectadapter.NewManager(projectadapter.Config{}))
	args, _ := json.Marshal(map[string]any{"action": "start", "project_id": "p1"})
	if _, err := def.Handler(context.Background(), args); err == nil {
		t.Fatal("expected error for missing project_path")
	}
}

func TestProjectHandlerStartAndStopRoundTrip(t *testing.T) {
	manager := projectadapter.NewManager(projectadapter.Config{
		Spawn:         projectadapter.ExecSpawner("cat"),
		ShutdownGrace: 50 * time.Millisecond,
	})
	def := ProjectDefinition(manager)

	startArgs, _ := json.Marshal(map[string]any{"action": "start", "project_id": "p1", "project_path": t.TempDir()})
	if _, err := def.Handler(context.Background(), startArgs); err != nil {
		t.Fatalf("start: %v", err)
	}

	stopArgs, _ := json.Marshal(map[string]any{"action": "stop", "project_id": "p1"})
	if _, err := def.Handler(context.Background(), stopArgs); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
