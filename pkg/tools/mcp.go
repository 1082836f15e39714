package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPToolSource exposes the tools of one MCP server spawned as a subprocess
// over stdio.
type MCPToolSource struct {
	name    string
	command string
	args    []string
	env     []string
	client  *client.Client
	tools   map[string]Tool
	mu      sync.RWMutex
}

// MCPTool proxies a single remote tool through its source.
type MCPTool struct {
	info   ToolInfo
	source *MCPToolSource
}

func NewMCPToolSource(name, command string, env map[string]string, args ...string) (*MCPToolSource, error) {
	if command == "" {
		return nil, fmt.Errorf("command is required for MCP source")
	}
	if name == "" {
		name = "mcp"
	}

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	return &MCPToolSource{
		name:    name,
		command: command,
		args:    args,
		env:     envList,
		tools:   make(map[string]Tool),
	}, nil
}

func (r *MCPToolSource) GetName() string {
	return r.name
}

func (r *MCPToolSource) GetType() string {
	return "mcp"
}

// DiscoverTools spawns the server, initializes the session, and fetches the
// tool list.
func (r *MCPToolSource) DiscoverTools(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mcpClient, err := client.NewStdioMCPClient(r.command, r.env, r.args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "coda", Version: "1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	r.client = mcpClient
	r.tools = make(map[string]Tool, len(listResp.Tools))
	for _, remote := range listResp.Tools {
		info := ToolInfo{
			Name:        remote.Name,
			Description: remote.Description,
			Parameters:  parametersFromSchema(remote.InputSchema),
			Source:      r.name,
		}
		r.tools[remote.Name] = &MCPTool{info: info, source: r}
	}

	return nil
}

func (r *MCPToolSource) ListTools() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var infos []ToolInfo
	for _, tool := range r.tools {
		infos = append(infos, tool.GetInfo())
	}
	return infos
}

func (r *MCPToolSource) GetTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Close shuts down the server subprocess.
func (r *MCPToolSource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *MCPToolSource) call(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	r.mu.RLock()
	mcpClient := r.client
	r.mu.RUnlock()

	if mcpClient == nil {
		return "", fmt.Errorf("MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	combined := strings.Join(parts, "\n")

	if result.IsError {
		return combined, fmt.Errorf("tool %s reported an error", name)
	}
	return combined, nil
}

// parametersFromSchema flattens the server's JSON Schema into the parameter
// list the catalog renderer expects.
func parametersFromSchema(schema mcp.ToolInputSchema) []ToolParameter {
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	var params []ToolParameter
	for name, raw := range schema.Properties {
		param := ToolParameter{Name: name, Type: "string", Required: required[name]}
		if prop, ok := raw.(map[string]interface{}); ok {
			if typ, ok := prop["type"].(string); ok {
				param.Type = typ
			}
			if desc, ok := prop["description"].(string); ok {
				param.Description = desc
			}
			if items, ok := prop["items"].(map[string]interface{}); ok {
				param.Items = items
			}
			if rawEnum, ok := prop["enum"].([]interface{}); ok {
				for _, v := range rawEnum {
					if s, ok := v.(string); ok {
						param.Enum = append(param.Enum, s)
					}
				}
			}
		}
		params = append(params, param)
	}
	return params
}

func (t *MCPTool) GetInfo() ToolInfo {
	return t.info
}

func (t *MCPTool) GetName() string {
	return t.info.Name
}

func (t *MCPTool) GetDescription() string {
	return t.info.Description
}

func (t *MCPTool) Status(args map[string]interface{}) string {
	return "Calling " + t.info.Name
}

// Remote tools are opaque; assume side effects and run them sequentially.
func (t *MCPTool) ParallelSafe() bool {
	return false
}

func (t *MCPTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	content, err := t.source.call(ctx, t.info.Name, args)
	if err != nil {
		return ToolResult{
			Success:       false,
			Content:       content,
			Error:         err.Error(),
			ToolName:      t.info.Name,
			ExecutionTime: time.Since(start),
		}, err
	}

	return ToolResult{
		Success:       true,
		Content:       content,
		ToolName:      t.info.Name,
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"source": t.source.name,
		},
	}, nil
}
