package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/syntrixbase/pegasus/internal/toolexec"
)

var execSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "command": {"type": "string", "description": "Shell command to execute."},
    "cwd": {"type": "string", "description": "Working directory (relative to workspace)."},
    "timeout_seconds": {"type": "integer", "description": "Kill the command after this many seconds.", "minimum": 1}
  },
  "required": ["command"]
}`)

// ExecDefinition returns the shell-exec tool definition scoped to
// workspace, with defaultTimeout applied when the call doesn't specify one.
func ExecDefinition(workspace string, defaultTimeout time.Duration) toolexec.Definition {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	resolver := pathResolver{root: workspace}
	return toolexec.Definition{
		Name:        "exec",
		Description: "Run a shell command in the workspace.",
		Parameters:  execSchema,
		Handler:     execHandler(resolver, defaultTimeout),
	}
}

func execHandler(resolver pathResolver, defaultTimeout time.Duration) toolexec.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var input struct {
			Command        string `json:"command"`
			Cwd            string `json:"cwd"`
			TimeoutSeconds int    `json:"timeout_seconds"`
		}
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid parameters: %w", err)
		}
		if input.Command == "" {
			return nil, fmt.Errorf("command is required")
		}

		timeout := defaultTimeout
		if input.TimeoutSeconds > 0 {
			timeout = time.Duration(input.TimeoutSeconds) * time.Second
		}
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		dir := resolver.root
		if input.Cwd != "" {
			resolved, err := resolver.resolve(input.Cwd)
			if err != nil {
				return nil, err
			}
			dir = resolved
		}

		cmd := exec.CommandContext(runCtx, "sh", "-c", input.Command)
		cmd.Dir = dir
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		runErr := cmd.Run()
		exitCode := 0
		if runErr != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("command timed out after %s", timeout)
			} else if exitErr, ok := runErr.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				return nil, fmt.Errorf("run command: %w", runErr)
			}
		}

		return map[string]any{
			"stdout":    stdout.String(),
			"stderr":    stderr.String(),
			"exit_code": exitCode,
		}, nil
	}
}
