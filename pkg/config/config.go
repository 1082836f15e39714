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

// Package config loads the immutable runtime configuration from the
// environment at startup. Every component receives the typed Config by
// parameter; nothing else in the codebase reads environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the complete runtime configuration.
type Config struct {
	// Model transport
	Host        string  `json:"host" jsonschema:"description=OpenAI-compatible endpoint base URL"`
	APIKey      string  `json:"-" jsonschema:"-"`
	Model       string  `json:"model" jsonschema:"description=Model name sent on every request"`
	Temperature float64 `json:"temperature"`

	// Token budgets
	ContextLimit       int     `json:"context_limit" jsonschema:"description=Model context window in tokens"`
	MaxOutputTokens    int     `json:"max_output_tokens"`
	OutputBufferTokens int     `json:"output_buffer_tokens" jsonschema:"description=Safety margin subtracted from the input estimate"`
	CompressThreshold  float64 `json:"compress_threshold" jsonschema:"description=History compression trigger as a fraction of the context limit"`

	// Transport behavior
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`

	// Embeddings for task-memory similarity recall. Empty model disables
	// vector recall; the JSONL log still works.
	EmbeddingModel string `json:"embedding_model"`

	// Tool behavior
	WorkingDirectory string        `json:"working_directory"`
	CommandTimeout   time.Duration `json:"command_timeout"`

	// ApproveAll skips approval prompts; only for non-interactive runs.
	ApproveAll bool `json:"approve_all"`

	// StateDir holds approvals, preferences and task memory (default .coda).
	StateDir string `json:"state_dir"`

	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

// LoadFromEnv builds a Config from the process environment. A .env file in
// the working directory is loaded first if present (it never overrides
// variables already set).
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:               envOr("CODA_HOST", "https://api.openai.com/v1"),
		APIKey:             os.Getenv("CODA_API_KEY"),
		Model:              envOr("CODA_MODEL", "gpt-4o"),
		Temperature:        envFloat("CODA_TEMPERATURE", 0.7),
		ContextLimit:       envInt("CODA_CONTEXT_LIMIT", 128000),
		MaxOutputTokens:    envInt("CODA_MAX_OUTPUT_TOKENS", 8192),
		OutputBufferTokens: envInt("CODA_OUTPUT_BUFFER_TOKENS", 1024),
		CompressThreshold:  envFloat("CODA_COMPRESS_THRESHOLD", 0.8),
		Timeout:            envDuration("CODA_TIMEOUT", 120*time.Second),
		MaxRetries:         envInt("CODA_MAX_RETRIES", 3),
		RetryDelay:         envDuration("CODA_RETRY_DELAY", 2*time.Second),
		EmbeddingModel:     os.Getenv("CODA_EMBEDDING_MODEL"),
		WorkingDirectory:   envOr("CODA_WORKDIR", "."),
		CommandTimeout:     envDuration("CODA_COMMAND_TIMEOUT", 30*time.Second),
		ApproveAll:         envBool("CODA_APPROVE_ALL", false),
		StateDir:           envOr("CODA_STATE_DIR", ".coda"),
		LogLevel:           envOr("CODA_LOG_LEVEL", "warn"),
		LogFile:            os.Getenv("CODA_LOG_FILE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields a misconfigured process cannot run without.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("CODA_API_KEY is required")
	}
	if c.Host == "" {
		return fmt.Errorf("model host cannot be empty")
	}
	if c.Model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.ContextLimit <= 0 {
		return fmt.Errorf("context limit must be positive, got %d", c.ContextLimit)
	}
	if c.CompressThreshold <= 0 || c.CompressThreshold > 1 {
		return fmt.Errorf("compress threshold must be in (0, 1], got %v", c.CompressThreshold)
	}
	if c.MaxOutputTokens <= 0 {
		return fmt.Errorf("max output tokens must be positive, got %d", c.MaxOutputTokens)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
