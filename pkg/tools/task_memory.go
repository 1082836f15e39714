package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/coda/pkg/config"
)

const memoryCollection = "task_memory"

// TaskMemoryTool stores notes across sessions. Entries are appended to a
// JSONL log under the state dir and, when an embedding model is configured,
// indexed in an embedded chromem vector store for semantic recall. Without
// embeddings, recall degrades to substring search over the log.
type TaskMemoryTool struct {
	mu         sync.Mutex
	stateDir   string
	logPath    string
	db         *chromem.DB
	collection *chromem.Collection
}

type memoryEntry struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
}

func NewTaskMemoryTool(cfg *config.Config) (*TaskMemoryTool, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}

	t := &TaskMemoryTool{
		stateDir: cfg.StateDir,
		logPath:  filepath.Join(cfg.StateDir, "task_memory.jsonl"),
	}

	if cfg.EmbeddingModel != "" && cfg.APIKey != "" {
		dbPath := filepath.Join(cfg.StateDir, "memory.chromem")
		db, err := chromem.NewPersistentDB(dbPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}

		embed := chromem.NewEmbeddingFuncOpenAICompat(cfg.Host, cfg.APIKey, cfg.EmbeddingModel, nil)
		collection, err := db.GetOrCreateCollection(memoryCollection, nil, embed)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory collection: %w", err)
		}

		t.db = db
		t.collection = collection
	}

	return t, nil
}

func (t *TaskMemoryTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "task_memory",
		Description: "Persist and recall notes across sessions. Use 'save' to record decisions or findings, 'recall' to search past notes, 'similar' to find notes related to given text.",
		Parameters: []ToolParameter{
			{
				Name:        "action",
				Type:        "string",
				Description: "Memory operation to perform",
				Required:    true,
				Enum:        []string{"save", "recall", "similar"},
			},
			{
				Name:        "content",
				Type:        "string",
				Description: "Note text to save, or reference text for 'similar'",
				Required:    false,
			},
			{
				Name:        "query",
				Type:        "string",
				Description: "Search query for 'recall'",
				Required:    false,
			},
			{
				Name:        "tags",
				Type:        "array",
				Description: "Optional tags attached to a saved note",
				Required:    false,
				Items:       map[string]interface{}{"type": "string"},
			},
			{
				Name:        "limit",
				Type:        "number",
				Description: "Maximum number of notes to return (default: 5)",
				Required:    false,
				Default:     5,
			},
		},
	}
}

func (t *TaskMemoryTool) GetName() string {
	return "task_memory"
}

func (t *TaskMemoryTool) GetDescription() string {
	return "Persist and recall notes across sessions"
}

func (t *TaskMemoryTool) Status(args map[string]interface{}) string {
	switch action, _ := args["action"].(string); action {
	case "save":
		return "Saving note"
	case "recall", "similar":
		return "Recalling notes"
	default:
		return "Accessing task memory"
	}
}

func (t *TaskMemoryTool) ParallelSafe() bool {
	return true
}

// ParallelSafeFor allows concurrency only for the read actions; save mutates
// the log and the vector index.
func (t *TaskMemoryTool) ParallelSafeFor(args map[string]interface{}) bool {
	action, _ := args["action"].(string)
	return action == "recall" || action == "similar"
}

func (t *TaskMemoryTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	action, _ := args["action"].(string)
	switch action {
	case "save":
		return t.save(ctx, args, start)
	case "recall":
		query, _ := args["query"].(string)
		if query == "" {
			return t.errorResult("query parameter is required for recall", start),
				fmt.Errorf("query parameter is required")
		}
		return t.search(ctx, query, limitArg(args), start)
	case "similar":
		content, _ := args["content"].(string)
		if content == "" {
			return t.errorResult("content parameter is required for similar", start),
				fmt.Errorf("content parameter is required")
		}
		return t.search(ctx, content, limitArg(args), start)
	default:
		return t.errorResult(fmt.Sprintf("unknown action: %q (expected save, recall, or similar)", action), start),
			fmt.Errorf("unknown action: %q", action)
	}
}

func (t *TaskMemoryTool) save(ctx context.Context, args map[string]interface{}, start time.Time) (ToolResult, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return t.errorResult("content parameter is required for save", start),
			fmt.Errorf("content parameter is required")
	}

	var tags []string
	if rawTags, ok := args["tags"].([]interface{}); ok {
		for _, raw := range rawTags {
			if tag, ok := raw.(string); ok && tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	entry := memoryEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Content:   content,
		Tags:      tags,
	}

	t.mu.Lock()
	err := t.appendLog(entry)
	t.mu.Unlock()
	if err != nil {
		return t.errorResult(fmt.Sprintf("failed to write memory log: %v", err), start), err
	}

	if t.collection != nil {
		doc := chromem.Document{
			ID:      entry.ID,
			Content: content,
			Metadata: map[string]string{
				"timestamp": entry.Timestamp,
				"tags":      strings.Join(tags, ","),
			},
		}
		if err := t.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
			return t.errorResult(fmt.Sprintf("failed to index note: %v", err), start), err
		}
	}

	return ToolResult{
		Success:       true,
		Content:       fmt.Sprintf("Saved note %s", entry.ID),
		ToolName:      "task_memory",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"id":      entry.ID,
			"indexed": t.collection != nil,
		},
	}, nil
}

func (t *TaskMemoryTool) search(ctx context.Context, query string, limit int, start time.Time) (ToolResult, error) {
	var lines []string
	var err error

	if t.collection != nil {
		lines, err = t.vectorSearch(ctx, query, limit)
	} else {
		lines, err = t.logSearch(query, limit)
	}
	if err != nil {
		return t.errorResult(fmt.Sprintf("memory search failed: %v", err), start), err
	}

	content := "No matching notes found."
	if len(lines) > 0 {
		content = strings.Join(lines, "\n")
	}

	return ToolResult{
		Success:       true,
		Content:       content,
		ToolName:      "task_memory",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"query":   query,
			"matches": len(lines),
		},
	}, nil
}

func (t *TaskMemoryTool) vectorSearch(ctx context.Context, query string, limit int) ([]string, error) {
	if count := t.collection.Count(); count < limit {
		limit = count
	}
	if limit == 0 {
		return nil, nil
	}

	results, err := t.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("[%.2f] %s (%s)", r.Similarity, r.Content, r.Metadata["timestamp"]))
	}
	return lines, nil
}

// logSearch is the no-embeddings fallback: case-insensitive substring match
// over the JSONL log, newest first.
func (t *TaskMemoryTool) logSearch(query string, limit int) ([]string, error) {
	f, err := os.Open(t.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	needle := strings.ToLower(query)
	var matches []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry memoryEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(entry.Content), needle) {
			matches = append(matches, fmt.Sprintf("%s (%s)", entry.Content, entry.Timestamp))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	return matches, nil
}

func (t *TaskMemoryTool) appendLog(entry memoryEntry) error {
	f, err := os.OpenFile(t.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

func limitArg(args map[string]interface{}) int {
	if l, ok := args["limit"].(float64); ok && int(l) > 0 {
		return int(l)
	}
	return 5
}

func (t *TaskMemoryTool) errorResult(message string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         message,
		ToolName:      "task_memory",
		ExecutionTime: time.Since(start),
	}
}
