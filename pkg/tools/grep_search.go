package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	grepMaxResults  = 1000
	grepMaxFileSize = 10 * 1024 * 1024
)

// GrepSearchTool searches files with Go regular expressions. Read-only and
// parallel-safe.
type GrepSearchTool struct {
	workingDir string
}

func NewGrepSearchTool(workingDir string) *GrepSearchTool {
	if workingDir == "" {
		workingDir = "./"
	}
	return &GrepSearchTool{workingDir: workingDir}
}

func (t *GrepSearchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "grep_search",
		Description: "Search for patterns in files using regular expressions. Like Unix grep but with context lines. Use for finding exact strings, symbols, or regex patterns across files.",
		Parameters: []ToolParameter{
			{
				Name:        "pattern",
				Type:        "string",
				Description: "Regular expression pattern to search for (supports Go regex syntax)",
				Required:    true,
			},
			{
				Name:        "path",
				Type:        "string",
				Description: "File or directory path to search in (relative to working directory)",
				Required:    false,
				Default:     ".",
			},
			{
				Name:        "file_pattern",
				Type:        "string",
				Description: "File glob pattern to filter files (e.g., '*.go', '*.py')",
				Required:    false,
			},
			{
				Name:        "case_insensitive",
				Type:        "boolean",
				Description: "Perform case-insensitive search (default: false)",
				Required:    false,
				Default:     false,
			},
			{
				Name:        "max_results",
				Type:        "number",
				Description: "Maximum number of matches to return (default: 100)",
				Required:    false,
				Default:     100,
			},
		},
	}
}

func (t *GrepSearchTool) GetName() string {
	return "grep_search"
}

func (t *GrepSearchTool) GetDescription() string {
	return "Search for regex patterns in files with context lines"
}

func (t *GrepSearchTool) Status(args map[string]interface{}) string {
	if pattern, ok := args["pattern"].(string); ok && pattern != "" {
		return "Searching for " + truncateString(pattern, 40)
	}
	return "Searching"
}

func (t *GrepSearchTool) ParallelSafe() bool {
	return true
}

func (t *GrepSearchTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	pattern, ok := args["pattern"].(string)
	if !ok || pattern == "" {
		return t.errorResult("pattern parameter is required", start),
			fmt.Errorf("pattern parameter is required")
	}

	searchPath := "."
	if p, ok := args["path"].(string); ok && p != "" {
		searchPath = p
	}

	if ci, ok := args["case_insensitive"].(bool); ok && ci {
		pattern = "(?i)" + pattern
	}

	maxResults := 100
	if mr, ok := args["max_results"].(float64); ok && int(mr) > 0 {
		maxResults = int(mr)
	}
	if maxResults > grepMaxResults {
		maxResults = grepMaxResults
	}

	filePattern, _ := args["file_pattern"].(string)

	regex, err := regexp.Compile(pattern)
	if err != nil {
		return t.errorResult(fmt.Sprintf("invalid regex pattern: %v", err), start), err
	}

	if err := validateWorkspacePath(t.workingDir, searchPath, true); err != nil {
		return t.errorResult(err.Error(), start), err
	}

	files, err := t.collectFiles(searchPath, filePattern)
	if err != nil {
		return t.errorResult(err.Error(), start), err
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("PATTERN: %s\n", pattern))
	output.WriteString(fmt.Sprintf("SEARCH_PATH: %s\n", searchPath))

	totalMatches := 0
	matchedFiles := 0
	var body strings.Builder

	for _, filePath := range files {
		if totalMatches >= maxResults {
			break
		}
		if ctx.Err() != nil {
			return t.errorResult("search canceled", start), ctx.Err()
		}

		matches := t.searchFile(filePath, regex, maxResults-totalMatches)
		if len(matches) == 0 {
			continue
		}

		matchedFiles++
		body.WriteString(fmt.Sprintf("\nFILE: %s\n", filePath))
		for _, m := range matches {
			body.WriteString(m + "\n")
		}
		totalMatches += len(matches)
	}

	output.WriteString(fmt.Sprintf("STATS: Found %d matches in %d files\n", totalMatches, matchedFiles))
	output.WriteString(strings.Repeat("─", 60) + "\n")
	if totalMatches == 0 {
		output.WriteString("\nNo matches found.\n")
	} else {
		output.WriteString(body.String())
	}
	if totalMatches >= maxResults {
		output.WriteString(fmt.Sprintf("\nWARN: Results limited to %d matches\n", maxResults))
	}

	return ToolResult{
		Success:       true,
		Content:       output.String(),
		ToolName:      "grep_search",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"pattern":        pattern,
			"path":           searchPath,
			"total_matches":  totalMatches,
			"files_searched": len(files),
			"truncated":      totalMatches >= maxResults,
		},
	}, nil
}

func (t *GrepSearchTool) collectFiles(searchPath, filePattern string) ([]string, error) {
	fullPath := filepath.Join(t.workingDir, searchPath)
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if !info.IsDir() {
		return []string{searchPath}, nil
	}

	var files []string
	_ = filepath.Walk(fullPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if info.IsDir() {
			name := info.Name()
			if name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Size() > grepMaxFileSize {
			return nil
		}
		if filePattern != "" {
			if matched, _ := filepath.Match(filePattern, filepath.Base(path)); !matched {
				return nil
			}
		}
		relPath, _ := filepath.Rel(t.workingDir, path)
		files = append(files, relPath)
		return nil
	})

	return files, nil
}

func (t *GrepSearchTool) searchFile(filePath string, regex *regexp.Regexp, limit int) []string {
	content, err := os.ReadFile(filepath.Join(t.workingDir, filePath))
	if err != nil {
		return nil
	}

	var matches []string
	for i, line := range strings.Split(string(content), "\n") {
		if len(matches) >= limit {
			break
		}
		if regex.MatchString(line) {
			matches = append(matches, fmt.Sprintf("%6d: %s", i+1, line))
		}
	}
	return matches
}

func (t *GrepSearchTool) errorResult(msg string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         msg,
		ToolName:      "grep_search",
		ExecutionTime: time.Since(start),
	}
}
