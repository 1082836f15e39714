package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kadirpekel/coda/pkg/registry"
)

// ToolRegistry aggregates tools from one or more sources (local builtins,
// MCP servers) behind a flat name lookup.
type ToolRegistry struct {
	sources *registry.BaseRegistry[ToolSource]
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		sources: registry.NewBaseRegistry[ToolSource](),
	}
}

func (r *ToolRegistry) RegisterSource(source ToolSource) error {
	if source == nil {
		return fmt.Errorf("source cannot be nil")
	}
	return r.sources.Register(source.GetName(), source)
}

// DiscoverAllTools runs discovery on every registered source. Sources that
// fail are reported but do not block the others.
func (r *ToolRegistry) DiscoverAllTools(ctx context.Context) error {
	var firstErr error
	for _, name := range r.sources.Names() {
		source, _ := r.sources.Get(name)
		if err := source.DiscoverTools(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("source %s: %w", name, err)
		}
	}
	return firstErr
}

// GetTool resolves a tool by name across all sources. Sources are consulted
// in sorted name order, so a name collision resolves deterministically.
func (r *ToolRegistry) GetTool(name string) (Tool, error) {
	for _, sourceName := range r.sources.Names() {
		source, _ := r.sources.Get(sourceName)
		if tool, ok := source.GetTool(name); ok {
			return tool, nil
		}
	}
	return nil, fmt.Errorf("tool not found: %s", name)
}

// ListTools returns every tool's info, sorted by tool name.
func (r *ToolRegistry) ListTools() []ToolInfo {
	var infos []ToolInfo
	for _, sourceName := range r.sources.Names() {
		source, _ := r.sources.Get(sourceName)
		infos = append(infos, source.ListTools()...)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// CatalogEntry is one tool's schema as emitted in the model request catalog.
type CatalogEntry struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCatalog renders the full catalog in deterministic order. Two calls
// against an unchanged registry marshal to byte-identical JSON, which keeps
// the provider's prefix cache warm across turns.
func (r *ToolRegistry) ToolCatalog() []CatalogEntry {
	infos := r.ListTools()
	entries := make([]CatalogEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, CatalogEntry{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.ParametersSchema(),
		})
	}
	return entries
}

// CatalogJSON is ToolCatalog marshaled, mostly useful for cache-key tests
// and the tools subcommand.
func (r *ToolRegistry) CatalogJSON() ([]byte, error) {
	return json.Marshal(r.ToolCatalog())
}
