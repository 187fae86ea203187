package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/syntrixbase/pegasus/internal/projectadapter"
	"github.com/syntrixbase/pegasus/internal/toolexec"
	"github.com/syntrixbase/pegasus/pkg/models"
)

var projectSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["start", "stop", "message"], "description": "Operation to perform on the sub-project worker."},
    "project_id": {"type": "string", "description": "Identifier for the project worker."},
    "project_path": {"type": "string", "description": "Project directory to spawn a worker in (action=start)."},
    "text": {"type": "string", "description": "Message text to deliver to the worker (action=message)."}
  },
  "required": ["action", "project_id"]
}`)

// ProjectDefinition exposes internal/projectadapter.Manager as a tool, so
// the cognitive core can spin up an isolated sub-project worker (its own
// Agent, proxying LLM calls back through this process) and hand it work,
// per spec.md §4.8.
func ProjectDefinition(manager *projectadapter.Manager) toolexec.Definition {
	return toolexec.Definition{
		Name:        "project",
		Description: "Start, message, or stop an isolated sub-project worker.",
		Parameters:  projectSchema,
		Handler:     projectHandler(manager),
	}
}

func projectHandler(manager *projectadapter.Manager) toolexec.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var input struct {
			Action      string `json:"action"`
			ProjectID   string `json:"project_id"`
			ProjectPath string `json:"project_path"`
			Text        string `json:"text"`
		}
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid parameters: %w", err)
		}
		if input.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required")
		}

		switch input.Action {
		case "start":
			if input.ProjectPath == "" {
				return nil, fmt.Errorf("project_path is required for action=start")
			}
			if err := manager.StartProject(ctx, input.ProjectID, input.ProjectPath); err != nil {
				return nil, err
			}
			return map[string]any{"status": "started"}, nil
		case "message":
			msg := &models.Message{Content: input.Text, Direction: models.DirectionOutbound}
			if err := manager.Deliver(ctx, input.ProjectID, msg); err != nil {
				return nil, err
			}
			return map[string]any{"status": "delivered"}, nil
		case "stop":
			if err := manager.StopProject(input.ProjectID); err != nil {
				return nil, err
			}
			return map[string]any{"status": "stopped"}, nil
		default:
			return nil, fmt.Errorf("unknown action %q", input.Action)
		}
	}
}
