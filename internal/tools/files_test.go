package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestReadHandlerRespectsOffsetAndMaxBytes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	defs := FileDefinitions(dir, 0)
	readDef := defs[0]

	args, _ := json.Marshal(map[string]any{"path": "note.txt", "offset": 2, "max_bytes": 3})
	result, err := readDef.Handler(context.Background(), args)
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	m := result.(map[string]any)
	if m["content"] != "234" {
		t.Errorf("content = %v, want 234", m["content"])
	}
	if m["truncated"] != true {
		t.Errorf("truncated = %v, want true", m["truncated"])
	}
}

func TestReadHandlerRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	defs := FileDefinitions(dir, 0)
	args, _ := json.Marshal(map[string]any{"path": "../../etc/passwd"})
	if _, err := defs[0].Handler(context.Background(), args); err == nil {
		t.Fatal("expected an error for a path that escapes the workspace")
	}
}

func TestWriteHandlerCreatesAndAppends(t *testing.T) {
	dir := t.TempDir()
	defs := FileDefinitions(dir, 0)
	writeDef := defs[1]

	args, _ := json.Marshal(map[string]any{"path": "out/log.txt", "content": "first\n"})
	if _, err := writeDef.Handler(context.Background(), args); err != nil {
		t.Fatalf("Handler: %v", err)
	}
	args, _ = json.Marshal(map[string]any{"path": "out/log.txt", "content": "second\n", "append": true})
	if _, err := writeDef.Handler(context.Background(), args); err != nil {
		t.Fatalf("Handler (append): %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out", "log.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "first\nsecond\n" {
		t.Errorf("content = %q", got)
	}
}
