// Package config loads Pegasus's configuration file: YAML (with $include
// resolution and ${ENV} expansion) decoded into a typed Config matching
// exactly the keys spec.md §6 recognizes. Grounded on the teacher's
// internal/config loader idiom (loader.go, kept as-is); the Config struct
// itself is new, since the teacher's struct carried dozens of keys
// (gateway, observability, plugin marketplace, ...) outside this scope.
package config

import (
	"fmt"
	"time"

	"github.com/syntrixbase/pegasus/internal/mcp"
)

// LLMProviderConfig configures one named LLM backend.
type LLMProviderConfig struct {
	Type    string `yaml:"type"`
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
}

// LLMConfig is the `llm.*` key tree.
type LLMConfig struct {
	Default            string                       `yaml:"default"`
	Tiers              map[string]string             `yaml:"tiers"`
	Providers          map[string]LLMProviderConfig  `yaml:"providers"`
	MaxConcurrentCalls int                            `yaml:"maxConcurrentCalls"`
	Timeout            time.Duration                  `yaml:"timeout"`
	ContextWindow      int                            `yaml:"contextWindow"`
}

// AgentConfig is the `agent.*` key tree.
type AgentConfig struct {
	MaxActiveTasks         int           `yaml:"maxActiveTasks"`
	MaxConcurrentTools     int           `yaml:"maxConcurrentTools"`
	MaxCognitiveIterations int           `yaml:"maxCognitiveIterations"`
	TaskTimeout            time.Duration `yaml:"taskTimeout"`
}

// ToolsConfig is the `tools.*` key tree.
type ToolsConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	AllowedPaths   []string      `yaml:"allowedPaths"`
	SearchEndpoint string        `yaml:"searchEndpoint"`
}

// SessionConfig is the `session.*` key tree.
type SessionConfig struct {
	CompactThreshold float64 `yaml:"compactThreshold"`
}

// DatabaseConfig is the `database.*` key tree, backing the Task Store's
// scheduled-task persistence (internal/tasks.CockroachStore). Left empty,
// the scheduler is not started — a task core without recurring tasks needs
// no database at all.
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConnections int           `yaml:"maxConnections"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// ChannelsConfig is the `channels.*` key tree: per-platform credentials for
// the out-of-scope external collaborators internal/channels adapts (spec.md
// §6's "external interfaces"). Every token is optional — main wires only
// the adapters whose tokens are present.
type ChannelsConfig struct {
	DiscordToken      string `yaml:"discordToken"`
	SlackBotToken     string `yaml:"slackBotToken"`
	SlackAppToken     string `yaml:"slackAppToken"`
	TelegramBotToken  string `yaml:"telegramBotToken"`
}

// Config is the full recognized configuration surface of spec.md §6.
type Config struct {
	LLM       LLMConfig      `yaml:"llm"`
	Agent     AgentConfig    `yaml:"agent"`
	Tools     ToolsConfig    `yaml:"tools"`
	Session   SessionConfig  `yaml:"session"`
	Channels  ChannelsConfig `yaml:"channels"`
	Database  DatabaseConfig `yaml:"database"`
	MCP       mcp.Config     `yaml:"mcp"`
	DataDir   string         `yaml:"dataDir"`
	AuthDir   string         `yaml:"authDir"`
	LogLevel  string         `yaml:"logLevel"`
	LogFormat string         `yaml:"logFormat"`
}

// defaults matches spec.md §5's stated defaults, applied after decode for
// any key the file left unset.
func (c *Config) applyDefaults() {
	if c.LLM.MaxConcurrentCalls == 0 {
		c.LLM.MaxConcurrentCalls = 3
	}
	if c.Agent.MaxActiveTasks == 0 {
		c.Agent.MaxActiveTasks = 5
	}
	if c.Agent.MaxConcurrentTools == 0 {
		c.Agent.MaxConcurrentTools = 3
	}
	if c.Agent.MaxCognitiveIterations == 0 {
		c.Agent.MaxCognitiveIterations = 5
	}
	if c.Agent.TaskTimeout == 0 {
		c.Agent.TaskTimeout = 120 * time.Second
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = 30 * time.Second
	}
	if c.LogFormat == "" {
		c.LogFormat = "line"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the required keys spec.md §6 names: `llm.default`,
// `dataDir`, `authDir`.
func (c *Config) Validate() error {
	if c.LLM.Default == "" {
		return fmt.Errorf("config: llm.default is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir is required")
	}
	if c.AuthDir == "" {
		return fmt.Errorf("config: authDir is required")
	}
	if c.Session.CompactThreshold < 0 || c.Session.CompactThreshold > 1 {
		return fmt.Errorf("config: session.compactThreshold must be in (0, 1], got %v", c.Session.CompactThreshold)
	}
	if c.LogFormat != "json" && c.LogFormat != "line" {
		return fmt.Errorf("config: logFormat must be %q or %q, got %q", "json", "line", c.LogFormat)
	}
	return nil
}

// Load reads and decodes the configuration file at path, applying defaults
// and validating the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
