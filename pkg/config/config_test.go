// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("CODA_API_KEY", "test-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.Host != "https://api.openai.com/v1" {
		t.Errorf("unexpected default host: %s", cfg.Host)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("unexpected default model: %s", cfg.Model)
	}
	if cfg.ContextLimit != 128000 {
		t.Errorf("unexpected context limit: %d", cfg.ContextLimit)
	}
	if cfg.CompressThreshold != 0.8 {
		t.Errorf("unexpected compress threshold: %v", cfg.CompressThreshold)
	}
	if cfg.Timeout != 120*time.Second {
		t.Errorf("unexpected timeout: %v", cfg.Timeout)
	}
	if cfg.StateDir != ".coda" {
		t.Errorf("unexpected state dir: %s", cfg.StateDir)
	}
	if cfg.ApproveAll {
		t.Error("approve-all must default off")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("CODA_API_KEY", "test-key")
	t.Setenv("CODA_HOST", "http://localhost:11434/v1")
	t.Setenv("CODA_MODEL", "qwen2.5-coder")
	t.Setenv("CODA_CONTEXT_LIMIT", "32000")
	t.Setenv("CODA_COMPRESS_THRESHOLD", "0.5")
	t.Setenv("CODA_COMMAND_TIMEOUT", "90s")
	t.Setenv("CODA_APPROVE_ALL", "true")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.Host != "http://localhost:11434/v1" {
		t.Errorf("host override lost: %s", cfg.Host)
	}
	if cfg.Model != "qwen2.5-coder" {
		t.Errorf("model override lost: %s", cfg.Model)
	}
	if cfg.ContextLimit != 32000 {
		t.Errorf("context limit override lost: %d", cfg.ContextLimit)
	}
	if cfg.CompressThreshold != 0.5 {
		t.Errorf("threshold override lost: %v", cfg.CompressThreshold)
	}
	if cfg.CommandTimeout != 90*time.Second {
		t.Errorf("command timeout override lost: %v", cfg.CommandTimeout)
	}
	if !cfg.ApproveAll {
		t.Error("approve-all override lost")
	}
}

func TestLoadFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CODA_API_KEY", "test-key")
	t.Setenv("CODA_CONTEXT_LIMIT", "not-a-number")
	t.Setenv("CODA_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.ContextLimit != 128000 {
		t.Errorf("malformed int should fall back to default, got %d", cfg.ContextLimit)
	}
	if cfg.Timeout != 120*time.Second {
		t.Errorf("malformed duration should fall back to default, got %v", cfg.Timeout)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Host:              "http://localhost/v1",
		APIKey:            "k",
		Model:             "m",
		ContextLimit:      1000,
		MaxOutputTokens:   100,
		CompressThreshold: 0.8,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing api key", func(c *Config) { c.APIKey = "" }, false},
		{"missing host", func(c *Config) { c.Host = "" }, false},
		{"missing model", func(c *Config) { c.Model = "" }, false},
		{"zero context limit", func(c *Config) { c.ContextLimit = 0 }, false},
		{"threshold above one", func(c *Config) { c.CompressThreshold = 1.5 }, false},
		{"zero output tokens", func(c *Config) { c.MaxOutputTokens = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
