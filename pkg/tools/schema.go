package tools

// ParametersSchema renders the tool's parameter list as a JSON Schema object
// of the shape the chat-completions tool catalog expects. encoding/json
// serializes map keys in sorted order, so two renders of the same info are
// byte-identical.
func (info ToolInfo) ParametersSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(info.Parameters))
	required := make([]string, 0, len(info.Parameters))

	for _, p := range info.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if len(p.Items) > 0 {
			prop["items"] = p.Items
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
