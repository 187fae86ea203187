package sessionlog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/syntrixbase/pegasus/pkg/models"
)

func TestAppendAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := store.Append(&models.Message{
		Role:      models.RoleUser,
		Content:   "hello there",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := store.Append(&models.Message{
		Role:      models.RoleAssistant,
		Content:   "hi!",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC),
	}, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	messages, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(messages))
	}
	want := "[2026-01-02 03:04:05] hello there"
	if messages[0].Content != want {
		t.Errorf("messages[0].Content = %q, want %q", messages[0].Content, want)
	}
	if messages[1].Role != models.RoleAssistant {
		t.Errorf("messages[1].Role = %q, want assistant", messages[1].Role)
	}
}

// TestLoadRepairsOpenToolCalls exercises scenario S6 / invariant 3: a crash
// after an assistant tool call but before its result leaves a synthetic
// cancelled result on load.
func TestLoadRepairsOpenToolCalls(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := store.Append(&models.Message{
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "search", Input: json.RawMessage(`{}`)},
			{ID: "call_2", Name: "fetch", Input: json.RawMessage(`{}`)},
		},
		CreatedAt: time.Now(),
	}, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := store.Append(&models.Message{
		Role: models.RoleTool,
		ToolResults: []models.ToolResult{
			{ToolCallID: "call_1", Content: "result one"},
		},
		CreatedAt: time.Now(),
	}, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	messages, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(messages))
	}

	last := messages[2]
	if last.Role != models.RoleTool {
		t.Fatalf("last.Role = %q, want tool", last.Role)
	}
	if len(last.ToolResults) != 1 {
		t.Fatalf("len(last.ToolResults) = %d, want 1", len(last.ToolResults))
	}
	if last.ToolResults[0].ToolCallID != "call_2" {
		t.Errorf("ToolCallID = %q, want call_2", last.ToolResults[0].ToolCallID)
	}
	if !last.ToolResults[0].IsError {
		t.Error("expected synthetic result to be marked IsError")
	}
}

func TestLoadLeavesClosedToolCallsAlone(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := store.Append(&models.Message{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: "call_1", Name: "search", Input: json.RawMessage(`{}`)}},
		CreatedAt: time.Now(),
	}, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(&models.Message{
		Role:        models.RoleTool,
		ToolResults: []models.ToolResult{{ToolCallID: "call_1", Content: "done"}},
		CreatedAt:   time.Now(),
	}, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	messages, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2 (no synthetic repair expected)", len(messages))
	}
}

func TestCompactArchivesAndResets(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := store.Append(&models.Message{Role: models.RoleUser, Content: "a", CreatedAt: time.Now()}, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(&models.Message{Role: models.RoleAssistant, Content: "b", CreatedAt: time.Now()}, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	archiveName, err := store.Compact("summary of a/b exchange", nil)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if archiveName == "" {
		t.Fatal("expected non-empty archive name")
	}

	archives, err := store.ListArchives()
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(archives) != 1 || archives[0] != archiveName {
		t.Fatalf("ListArchives = %v, want [%s]", archives, archiveName)
	}

	archived, err := store.LoadArchive(archiveName)
	if err != nil {
		t.Fatalf("LoadArchive: %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("len(archived) = %d, want 2", len(archived))
	}

	current, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(current) != 1 {
		t.Fatalf("len(current) = %d, want 1", len(current))
	}
	if current[0].Role != models.RoleSystem {
		t.Errorf("current[0].Role = %q, want system", current[0].Role)
	}
	if current[0].Content != "summary of a/b exchange" {
		t.Errorf("current[0].Content = %q, want summary text", current[0].Content)
	}
}

type fixedCounter struct{ perChar int }

func (f fixedCounter) CountTokens(text string) int { return len(text) * f.perChar }

func TestEstimateTokensDelegatesToCounter(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "there", ToolCalls: []models.ToolCall{
			{Name: "search", Input: json.RawMessage(`{"q":"x"}`)},
		}},
	}
	count := EstimateTokens(messages, fixedCounter{perChar: 1})
	if count <= 0 {
		t.Errorf("EstimateTokens = %d, want > 0", count)
	}
}
