package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TodoTool tracks the model's task list for the current session and mirrors
// it to <stateDir>/todo.md so progress survives a crash.
type TodoTool struct {
	mu       sync.RWMutex
	todos    []TodoItem
	stateDir string
}

type TodoItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

func NewTodoTool(stateDir string) *TodoTool {
	return &TodoTool{stateDir: stateDir}
}

func (t *TodoTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "todo_write",
		Description: "Create and manage a structured task list for tracking progress. Use for complex multi-step tasks (3+ steps) to demonstrate thoroughness.",
		Parameters: []ToolParameter{
			{
				Name:        "merge",
				Type:        "boolean",
				Description: "If true, merge with existing todos (for updates). If false, replace all todos (for new task).",
				Required:    true,
			},
			{
				Name:        "todos",
				Type:        "array",
				Description: "Array of todo items. Each item has: id (string), content (string), status ('pending'|'in_progress'|'completed'|'canceled')",
				Required:    true,
				Items: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id": map[string]string{
							"type":        "string",
							"description": "Unique identifier for the todo",
						},
						"content": map[string]string{
							"type":        "string",
							"description": "Description of the task",
						},
						"status": map[string]interface{}{
							"type":        "string",
							"enum":        []string{"pending", "in_progress", "completed", "canceled"},
							"description": "Current status of the task",
						},
					},
					"required": []string{"id", "content", "status"},
				},
			},
		},
	}
}

func (t *TodoTool) GetName() string {
	return "todo_write"
}

func (t *TodoTool) GetDescription() string {
	return "Create and manage todos for complex tasks"
}

func (t *TodoTool) Status(args map[string]interface{}) string {
	return "Updating task list"
}

func (t *TodoTool) ParallelSafe() bool {
	return false
}

func (t *TodoTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	merge, ok := args["merge"].(bool)
	if !ok {
		return t.errorResult("merge parameter is required (true/false)", start),
			fmt.Errorf("merge parameter is required")
	}

	todosRaw, ok := args["todos"].([]interface{})
	if !ok || len(todosRaw) == 0 {
		return t.errorResult("todos parameter is required and must be a non-empty array", start),
			fmt.Errorf("todos parameter is required")
	}

	todos := make([]TodoItem, 0, len(todosRaw))
	for i, todoRaw := range todosRaw {
		todoMap, ok := todoRaw.(map[string]interface{})
		if !ok {
			return t.errorResult(fmt.Sprintf("todo item %d is not an object", i), start),
				fmt.Errorf("invalid todo item format")
		}

		id, _ := todoMap["id"].(string)
		content, _ := todoMap["content"].(string)
		status, _ := todoMap["status"].(string)

		if id == "" || content == "" || status == "" {
			return t.errorResult(fmt.Sprintf("todo item %d is missing required fields (id, content, status)", i), start),
				fmt.Errorf("incomplete todo item")
		}

		if !isValidStatus(status) {
			return t.errorResult(fmt.Sprintf("todo item %d has invalid status: %s", i, status), start),
				fmt.Errorf("invalid status")
		}

		todos = append(todos, TodoItem{ID: id, Content: content, Status: status})
	}

	t.mu.Lock()
	if merge {
		existingByID := make(map[string]int, len(t.todos))
		for i := range t.todos {
			existingByID[t.todos[i].ID] = i
		}
		for _, newTodo := range todos {
			if i, found := existingByID[newTodo.ID]; found {
				t.todos[i] = newTodo
			} else {
				t.todos = append(t.todos, newTodo)
			}
		}
	} else {
		t.todos = todos
	}
	count := len(t.todos)
	summary := t.summaryLocked()
	t.mu.Unlock()

	if err := t.mirrorToFile(); err != nil {
		// Mirror failures are not fatal; the in-memory list is authoritative.
		summary += fmt.Sprintf("\n(warning: failed to write todo.md: %v)", err)
	}

	return ToolResult{
		Success:       true,
		Content:       summary,
		ToolName:      "todo_write",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"merge": merge,
			"count": count,
		},
	}, nil
}

// Todos returns a copy of the current list for the UI's todo panel.
func (t *TodoTool) Todos() []TodoItem {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]TodoItem, len(t.todos))
	copy(result, t.todos)
	return result
}

func (t *TodoTool) summaryLocked() string {
	if len(t.todos) == 0 {
		return "No active todos"
	}

	var pending, inProgress, completed, canceled int
	for _, todo := range t.todos {
		switch todo.Status {
		case "pending":
			pending++
		case "in_progress":
			inProgress++
		case "completed":
			completed++
		case "canceled":
			canceled++
		}
	}

	summary := fmt.Sprintf("Todo Summary: %d total (%d pending, %d in progress, %d completed, %d canceled)\n\n",
		len(t.todos), pending, inProgress, completed, canceled)

	for _, todo := range t.todos {
		summary += fmt.Sprintf("%s [%s] %s\n", statusIcon(todo.Status), todo.ID, todo.Content)
	}

	return summary
}

func (t *TodoTool) mirrorToFile() error {
	if t.stateDir == "" {
		return nil
	}
	if err := os.MkdirAll(t.stateDir, 0o755); err != nil {
		return err
	}

	t.mu.RLock()
	var b strings.Builder
	b.WriteString("# Task List\n\n")
	for _, todo := range t.todos {
		mark := " "
		switch todo.Status {
		case "completed":
			mark = "x"
		case "canceled":
			mark = "-"
		}
		b.WriteString(fmt.Sprintf("- [%s] %s (%s)\n", mark, todo.Content, todo.Status))
	}
	t.mu.RUnlock()

	return os.WriteFile(filepath.Join(t.stateDir, "todo.md"), []byte(b.String()), 0o644)
}

func (t *TodoTool) errorResult(message string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         message,
		ToolName:      "todo_write",
		ExecutionTime: time.Since(start),
	}
}

func isValidStatus(status string) bool {
	return status == "pending" || status == "in_progress" || status == "completed" || status == "canceled"
}

func statusIcon(status string) string {
	switch status {
	case "pending":
		return "[PENDING]"
	case "in_progress":
		return "[IN PROGRESS]"
	case "completed":
		return "[DONE]"
	case "canceled":
		return "[CANCELLED]"
	default:
		return "[UNKNOWN]"
	}
}

// FormatTodosForContext renders the current list as a context injection so
// the model keeps its task list in view between turns.
func FormatTodosForContext(todos []TodoItem) string {
	if len(todos) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n<current_todos>\n")
	b.WriteString("Your current task list:\n\n")
	for _, todo := range todos {
		b.WriteString(fmt.Sprintf("%s %s - %s\n", statusIcon(todo.Status), todo.Status, todo.Content))
	}
	b.WriteString("\nRemember to update todo status using todo_write tool as you make progress.\n")
	b.WriteString("</current_todos>\n")
	return b.String()
}
