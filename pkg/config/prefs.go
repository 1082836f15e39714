package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Preferences are small user-controlled settings persisted across runs in
// <state-dir>/agent_prefs.json. Unlike Config they are mutable at runtime.
type Preferences struct {
	AutoSaveOnExit bool `json:"auto_save_on_exit"`
	ShowTodoPanel  bool `json:"show_todo_panel"`

	path string
}

// LoadPreferences reads preferences from the state directory, returning
// defaults when the file is absent or unreadable.
func LoadPreferences(stateDir string) *Preferences {
	p := &Preferences{
		ShowTodoPanel: true,
		path:          filepath.Join(stateDir, "agent_prefs.json"),
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return p
	}
	// Best effort: a corrupt prefs file falls back to defaults.
	_ = json.Unmarshal(data, p)
	return p
}

// Save writes preferences back to disk, creating the state directory if
// needed.
func (p *Preferences) Save() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o644)
}
