package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadirpekel/coda/pkg/config"
)

// LocalToolSource holds in-process tools.
type LocalToolSource struct {
	name  string
	tools map[string]Tool
	mu    sync.RWMutex
}

func NewLocalToolSource(name string) *LocalToolSource {
	if name == "" {
		name = "local"
	}

	return &LocalToolSource{
		name:  name,
		tools: make(map[string]Tool),
	}
}

// NewBuiltinToolSource builds the local source pre-populated with the
// standard coding tools. Tools that need agent machinery (agent_call,
// compress_context) are registered separately once the agent exists.
func NewBuiltinToolSource(cfg *config.Config) (*LocalToolSource, error) {
	source := NewLocalToolSource("local")

	builtins := []Tool{
		NewCommandTool(cfg.WorkingDirectory, cfg.CommandTimeout, nil),
		NewReadFileTool(cfg.WorkingDirectory),
		NewFileWriterTool(cfg.WorkingDirectory),
		NewSearchReplaceTool(cfg.WorkingDirectory),
		NewGrepSearchTool(cfg.WorkingDirectory),
		NewListDirTool(cfg.WorkingDirectory),
		NewTodoTool(cfg.StateDir),
		NewWebRequestTool(DefaultWebRequestConfig()),
	}

	memory, err := NewTaskMemoryTool(cfg)
	if err != nil {
		return nil, fmt.Errorf("task memory: %w", err)
	}
	builtins = append(builtins, memory)

	for _, tool := range builtins {
		if err := source.RegisterTool(tool); err != nil {
			return nil, err
		}
	}

	return source, nil
}

func (r *LocalToolSource) GetName() string {
	return r.name
}

func (r *LocalToolSource) GetType() string {
	return "local"
}

func (r *LocalToolSource) RegisterTool(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.GetName()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered in source %s", name, r.name)
	}

	r.tools[name] = tool

	return nil
}

func (r *LocalToolSource) DiscoverTools(ctx context.Context) error {
	// Local tools are registered at construction; nothing to discover.
	return nil
}

func (r *LocalToolSource) ListTools() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tools []ToolInfo
	for _, tool := range r.tools {
		info := tool.GetInfo()
		info.Source = r.name
		tools = append(tools, info)
	}

	return tools
}

func (r *LocalToolSource) GetTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

func (r *LocalToolSource) RemoveTool(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found in source %s", name, r.name)
	}

	delete(r.tools, name)
	return nil
}

var (
	_ Tool                = (*CommandTool)(nil)
	_ Tool                = (*ReadFileTool)(nil)
	_ Tool                = (*FileWriterTool)(nil)
	_ Tool                = (*SearchReplaceTool)(nil)
	_ Tool                = (*GrepSearchTool)(nil)
	_ Tool                = (*ListDirTool)(nil)
	_ Tool                = (*TodoTool)(nil)
	_ Tool                = (*WebRequestTool)(nil)
	_ Tool                = (*TaskMemoryTool)(nil)
	_ Tool                = (*AgentCallTool)(nil)
	_ Tool                = (*CompressContextTool)(nil)
	_ Tool                = (*MCPTool)(nil)
	_ ParallelSafeChecker = (*TaskMemoryTool)(nil)
	_ ToolSource          = (*LocalToolSource)(nil)
	_ ToolSource          = (*MCPToolSource)(nil)
)
