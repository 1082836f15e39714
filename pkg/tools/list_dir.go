package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ListDirTool lists directory contents. Read-only and parallel-safe.
type ListDirTool struct {
	workingDir string
}

func NewListDirTool(workingDir string) *ListDirTool {
	if workingDir == "" {
		workingDir = "./"
	}
	return &ListDirTool{workingDir: workingDir}
}

func (t *ListDirTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "list_dir",
		Description: "List the contents of a directory with entry types and sizes. Use to explore project structure.",
		Parameters: []ToolParameter{
			{
				Name:        "path",
				Type:        "string",
				Description: "Directory path relative to working directory (default: '.')",
				Required:    false,
				Default:     ".",
			},
			{
				Name:        "show_hidden",
				Type:        "boolean",
				Description: "Include entries starting with '.' (default: false)",
				Required:    false,
				Default:     false,
			},
		},
	}
}

func (t *ListDirTool) GetName() string {
	return "list_dir"
}

func (t *ListDirTool) GetDescription() string {
	return "List directory contents with entry types and sizes"
}

func (t *ListDirTool) Status(args map[string]interface{}) string {
	if path, ok := args["path"].(string); ok && path != "" {
		return "Listing " + path
	}
	return "Listing directory"
}

func (t *ListDirTool) ParallelSafe() bool {
	return true
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	path := "."
	if p, ok := args["path"].(string); ok && p != "" {
		path = p
	}

	showHidden := false
	if sh, ok := args["show_hidden"].(bool); ok {
		showHidden = sh
	}

	if err := validateWorkspacePath(t.workingDir, path, true); err != nil {
		return t.errorResult(err.Error(), start), err
	}

	fullPath := filepath.Join(t.workingDir, path)
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return t.errorResult(fmt.Sprintf("failed to read directory: %v", err), start), err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var output strings.Builder
	output.WriteString(fmt.Sprintf("DIR: %s\n", path))
	output.WriteString(strings.Repeat("─", 60) + "\n")

	dirs, files := 0, 0
	for _, entry := range entries {
		name := entry.Name()
		if !showHidden && strings.HasPrefix(name, ".") {
			continue
		}

		if entry.IsDir() {
			dirs++
			output.WriteString(fmt.Sprintf("  %s/\n", name))
			continue
		}

		files++
		size := int64(0)
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		output.WriteString(fmt.Sprintf("  %-40s %8d bytes\n", name, size))
	}

	output.WriteString(strings.Repeat("─", 60) + "\n")
	output.WriteString(fmt.Sprintf("%d directories, %d files", dirs, files))

	return ToolResult{
		Success:       true,
		Content:       output.String(),
		ToolName:      "list_dir",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"path":        path,
			"directories": dirs,
			"files":       files,
		},
	}, nil
}

func (t *ListDirTool) errorResult(msg string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         msg,
		ToolName:      "list_dir",
		ExecutionTime: time.Since(start),
	}
}
