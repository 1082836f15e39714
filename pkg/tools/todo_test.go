package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func todoArgs(merge bool, items ...map[string]interface{}) map[string]interface{} {
	raw := make([]interface{}, len(items))
	for i, item := range items {
		raw[i] = item
	}
	return map[string]interface{}{"merge": merge, "todos": raw}
}

func TestTodoTool_Replace(t *testing.T) {
	tool := NewTodoTool("")

	result, err := tool.Execute(context.Background(), todoArgs(false,
		map[string]interface{}{"id": "1", "content": "first task", "status": "pending"},
		map[string]interface{}{"id": "2", "content": "second task", "status": "in_progress"},
	))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("Execute() success = false, error = %v", result.Error)
	}

	todos := tool.Todos()
	if len(todos) != 2 {
		t.Fatalf("Todos() len = %d, want 2", len(todos))
	}

	// Replace drops the previous list entirely.
	_, err = tool.Execute(context.Background(), todoArgs(false,
		map[string]interface{}{"id": "3", "content": "only task", "status": "pending"},
	))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	todos = tool.Todos()
	if len(todos) != 1 || todos[0].ID != "3" {
		t.Errorf("Todos() after replace = %+v, want single item with id 3", todos)
	}
}

func TestTodoTool_Merge(t *testing.T) {
	tool := NewTodoTool("")

	mustExec := func(args map[string]interface{}) {
		t.Helper()
		if _, err := tool.Execute(context.Background(), args); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}

	mustExec(todoArgs(false,
		map[string]interface{}{"id": "1", "content": "task", "status": "pending"},
	))
	mustExec(todoArgs(true,
		map[string]interface{}{"id": "1", "content": "task", "status": "completed"},
		map[string]interface{}{"id": "2", "content": "new task", "status": "pending"},
	))

	todos := tool.Todos()
	if len(todos) != 2 {
		t.Fatalf("Todos() len = %d, want 2", len(todos))
	}
	if todos[0].Status != "completed" {
		t.Errorf("merged todo status = %q, want 'completed'", todos[0].Status)
	}
}

func TestTodoTool_InvalidInput(t *testing.T) {
	tool := NewTodoTool("")

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing merge", map[string]interface{}{"todos": []interface{}{}}},
		{"empty todos", todoArgs(false)},
		{"missing fields", todoArgs(false, map[string]interface{}{"id": "1"})},
		{"bad status", todoArgs(false,
			map[string]interface{}{"id": "1", "content": "x", "status": "wip"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), tt.args)
			if err == nil {
				t.Error("Execute() expected error")
			}
			if result.Success {
				t.Error("Execute() success = true, want false")
			}
		})
	}
}

func TestTodoTool_MirrorsToFile(t *testing.T) {
	dir := t.TempDir()
	tool := NewTodoTool(dir)

	_, err := tool.Execute(context.Background(), todoArgs(false,
		map[string]interface{}{"id": "1", "content": "write docs", "status": "completed"},
	))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "todo.md"))
	if err != nil {
		t.Fatalf("todo.md not written: %v", err)
	}
	if !strings.Contains(string(data), "- [x] write docs") {
		t.Errorf("todo.md = %q, want completed checkbox line", data)
	}
}

func TestFormatTodosForContext(t *testing.T) {
	if out := FormatTodosForContext(nil); out != "" {
		t.Errorf("FormatTodosForContext(nil) = %q, want empty", out)
	}

	out := FormatTodosForContext([]TodoItem{
		{ID: "1", Content: "do thing", Status: "in_progress"},
	})
	if !strings.Contains(out, "<current_todos>") {
		t.Error("missing wrapper tag")
	}
	if !strings.Contains(out, "do thing") {
		t.Error("missing todo content")
	}
}
