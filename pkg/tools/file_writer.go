package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const writeFileMaxSize = 1024 * 1024

// FileWriterTool creates or overwrites files inside the working directory.
// Writes are approval-gated unless the model sets skip_approval.
type FileWriterTool struct {
	workingDir string
}

func NewFileWriterTool(workingDir string) *FileWriterTool {
	if workingDir == "" {
		workingDir = "./"
	}
	return &FileWriterTool{workingDir: workingDir}
}

func (t *FileWriterTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "write_file",
		Description: "Create a new file or overwrite an existing file with content. Supports backups and safety checks.",
		Parameters: []ToolParameter{
			{
				Name:        "path",
				Type:        "string",
				Description: "File path relative to working directory",
				Required:    true,
			},
			{
				Name:        "content",
				Type:        "string",
				Description: "Content to write to the file",
				Required:    true,
			},
			{
				Name:        "backup",
				Type:        "boolean",
				Description: "Create .bak backup if file exists (default: true)",
				Required:    false,
				Default:     true,
			},
			{
				Name:        "skip_approval",
				Type:        "boolean",
				Description: "Skip the user approval prompt for low-risk writes",
				Required:    false,
				Default:     false,
			},
		},
	}
}

func (t *FileWriterTool) GetName() string {
	return "write_file"
}

func (t *FileWriterTool) GetDescription() string {
	return "Create a new file or overwrite an existing file with content"
}

func (t *FileWriterTool) Status(args map[string]interface{}) string {
	if path, ok := args["path"].(string); ok && path != "" {
		return "Writing " + path
	}
	return "Writing file"
}

func (t *FileWriterTool) ParallelSafe() bool {
	return false
}

func (t *FileWriterTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return t.errorResult("path parameter is required", start),
			fmt.Errorf("path parameter is required")
	}

	content, ok := args["content"].(string)
	if !ok {
		return t.errorResult("content parameter is required", start),
			fmt.Errorf("content parameter is required")
	}

	backup := true
	if b, ok := args["backup"].(bool); ok {
		backup = b
	}

	if err := validateWorkspacePath(t.workingDir, path, false); err != nil {
		return t.errorResult(err.Error(), start), err
	}

	if len(content) > writeFileMaxSize {
		return t.errorResult(
				fmt.Sprintf("content too large: %d bytes (max: %d)", len(content), writeFileMaxSize),
				start),
			fmt.Errorf("content exceeds max file size")
	}

	fullPath := filepath.Join(t.workingDir, path)

	fileExisted := false
	if _, err := os.Stat(fullPath); err == nil {
		fileExisted = true
		if backup {
			if err := copyFile(fullPath, fullPath+".bak"); err != nil {
				return t.errorResult(fmt.Sprintf("failed to create backup: %v", err), start), err
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return t.errorResult(fmt.Sprintf("failed to create directory: %v", err), start), err
	}

	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return t.errorResult(fmt.Sprintf("failed to write file: %v", err), start), err
	}

	action := "created"
	if fileExisted {
		action = "overwritten"
	}
	message := fmt.Sprintf("File %s successfully: %s (%d bytes)", action, path, len(content))
	if fileExisted && backup {
		message += fmt.Sprintf("\nBackup created: %s.bak", path)
	}

	return ToolResult{
		Success:       true,
		Content:       message,
		ToolName:      "write_file",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"path":         path,
			"size":         len(content),
			"backed_up":    fileExisted && backup,
			"file_existed": fileExisted,
			"action":       action,
		},
	}, nil
}

func (t *FileWriterTool) errorResult(msg string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         msg,
		ToolName:      "write_file",
		ExecutionTime: time.Since(start),
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
