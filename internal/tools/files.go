// Package tools provides the built-in, in-process tool implementations
// registered against internal/toolexec.Registry: filesystem access, shell
// execution, and web search (spec.md's Tool Executor names no concrete
// tools, only the ToolDefinition shape — these are the reference
// implementations a running assistant needs day one).
//
// Adapted from the teacher's internal/tools/files package: the same
// workspace-relative path resolver and offset/max-bytes read semantics,
// rebuilt against toolexec.Definition instead of the teacher's own Tool
// interface.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/syntrixbase/pegasus/internal/toolexec"
)

// pathResolver resolves and validates workspace-relative paths, rejecting
// any path that escapes root.
type pathResolver struct {
	root string
}

func (r pathResolver) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}

const defaultMaxReadBytes = 200_000

var readSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path to the file (relative to workspace)."},
    "offset": {"type": "integer", "description": "Byte offset to start reading from.", "minimum": 0},
    "max_bytes": {"type": "integer", "description": "Maximum bytes to read.", "minimum": 0}
  },
  "required": ["path"]
}`)

var writeSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path to write (relative to workspace)."},
    "content": {"type": "string", "description": "File contents to write."},
    "append": {"type": "boolean", "description": "Append instead of overwrite (default: false)."}
  },
  "required": ["path", "content"]
}`)

// FileDefinitions returns the read/write tool definitions scoped to
// workspace. maxReadBytes caps a single read (0 uses the default).
func FileDefinitions(workspace string, maxReadBytes int) []toolexec.Definition {
	if maxReadBytes <= 0 {
		maxReadBytes = defaultMaxReadBytes
	}
	resolver := pathResolver{root: workspace}
	return []toolexec.Definition{
		{
			Name:        "read",
			Description: "Read a file from the workspace with optional offset and byte limit.",
			Parameters:  readSchema,
			Handler:     readHandler(resolver, maxReadBytes),
		},
		{
			Name:        "write",
			Description: "Write content to a file in the workspace (overwrites by default).",
			Parameters:  writeSchema,
			Handler:     writeHandler(resolver),
		},
	}
}

func readHandler(resolver pathResolver, maxReadBytes int) toolexec.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var input struct {
			Path     string `json:"path"`
			Offset   int64  `json:"offset"`
			MaxBytes int    `json:"max_bytes"`
		}
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid parameters: %w", err)
		}
		if input.Offset < 0 {
			return nil, fmt.Errorf("offset must be >= 0")
		}

		resolved, err := resolver.resolve(input.Path)
		if err != nil {
			return nil, err
		}

		f, err := os.Open(resolved)
		if err != nil {
			return nil, fmt.Errorf("open file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat file: %w", err)
		}

		if input.Offset > 0 {
			if _, err := f.Seek(input.Offset, io.SeekStart); err != nil {
				return nil, fmt.Errorf("seek file: %w", err)
			}
		}

		limit := maxReadBytes
		if input.MaxBytes > 0 && input.MaxBytes < limit {
			limit = input.MaxBytes
		}

		remaining := int64(limit)
		if size := info.Size(); size > 0 {
			remaining = size - input.Offset
			if remaining < 0 {
				remaining = 0
			}
			if remaining > int64(limit) {
				remaining = int64(limit)
			}
		}

		buf, err := io.ReadAll(io.LimitReader(f, remaining))
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}

		return map[string]any{
			"path":      input.Path,
			"content":   string(buf),
			"offset":    input.Offset,
			"bytes":     len(buf),
			"truncated": info.Size() > 0 && input.Offset+int64(len(buf)) < info.Size(),
		}, nil
	}
}

func writeHandler(resolver pathResolver) toolexec.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var input struct {
			Path    string `json:"path"`
			Content string `json:"content"`
			Append  bool   `json:"append"`
		}
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid parameters: %w", err)
		}

		resolved, err := resolver.resolve(input.Path)
		if err != nil {
			return nil, err
		}

		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}

		flags := os.O_CREATE | os.O_WRONLY
		if input.Append {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(resolved, flags, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open file: %w", err)
		}
		defer f.Close()

		n, err := f.WriteString(input.Content)
		if err != nil {
			return nil, fmt.Errorf("write file: %w", err)
		}

		return map[string]any{
			"path":          input.Path,
			"bytes_written": n,
			"append":        input.Append,
		}, nil
	}
}
