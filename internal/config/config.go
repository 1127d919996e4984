// Package config provides configuration management for the stepd server.
//
// Configuration controls:
//   - Container runtime settings: how debuggee processes are spawned
//   - Debugger settings: prompt string, entry function, inspection bounds
//   - Server settings: WebSocket port range and shutdown timeout
//   - Safety limits: maximum sessions and the supervising idle timeout
//   - Assistant settings: model and key for step explanations
//
// Configuration can be loaded from a JSON file or use sensible defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Duration is a time.Duration that unmarshals from either a JSON number
// (nanoseconds) or a string like "30m".
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the duration as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the server configuration
type Config struct {
	Runtime   RuntimeConfig   `json:"runtime"`
	Debugger  DebuggerConfig  `json:"debugger"`
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Assistant AssistantConfig `json:"assistant"`

	// Limits for safety
	MaxSessions    int      `json:"maxSessions"`
	SessionTimeout Duration `json:"sessionTimeout"`
}

// RuntimeConfig controls how debuggee processes are spawned inside
// per-project containers
type RuntimeConfig struct {
	// DockerPath is the docker binary used to exec into containers
	DockerPath string `json:"dockerPath"`

	// ContainerPrefix is prepended to project IDs to form container names
	ContainerPrefix string `json:"containerPrefix"`

	// DataDir is the host directory holding per-project data directories
	DataDir string `json:"dataDir"`

	// CodeFile is the debuggee source file name inside the data directory
	CodeFile string `json:"codeFile"`

	// PythonPath is the interpreter invoked inside the container
	PythonPath string `json:"pythonPath"`
}

// DebuggerConfig controls the pdb interaction layer
type DebuggerConfig struct {
	// Prompt is the REPL prompt string used as the read synchronization marker
	Prompt string `json:"prompt"`

	// EntryFunction is the designated entry breakpoint
	EntryFunction string `json:"entryFunction"`

	// MaxDepth bounds variable tree depth
	MaxDepth int `json:"maxDepth"`

	// MaxChildren bounds children per composite value
	MaxChildren int `json:"maxChildren"`
}

// ServerConfig controls the WebSocket/HTTP front-end
type ServerConfig struct {
	Host            string   `json:"host"`
	PortRange       [2]int   `json:"portRange"`
	ShutdownTimeout Duration `json:"shutdownTimeout"`
}

// StoreConfig controls the project store
type StoreConfig struct {
	// Path is the sqlite database file; ":memory:" keeps projects ephemeral
	Path string `json:"path"`
}

// AssistantConfig controls the step explanation backend
type AssistantConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	// Explanations are disabled when the variable is empty or unset.
	APIKeyEnv   string  `json:"apiKeyEnv"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int64   `json:"maxTokens"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			DockerPath:      "docker",
			ContainerPrefix: "project-1-",
			DataDir:         "project_containers",
			CodeFile:        "main.py",
			PythonPath:      "python",
		},
		Debugger: DebuggerConfig{
			Prompt:        "(Pdb) ",
			EntryFunction: "main",
			MaxDepth:      4,
			MaxChildren:   64,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			PortRange:       [2]int{8750, 8799},
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Store: StoreConfig{
			Path: "stepd.db",
		},
		Assistant: AssistantConfig{
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       "gpt-4.1-mini",
			Temperature: 0.5,
			MaxTokens:   3000,
		},
		MaxSessions:    10,
		SessionTimeout: Duration(30 * time.Minute),
	}
}

// LoadConfig loads configuration from a file, falling back to defaults.
// An empty path returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero-valued fields after a partial config file
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.Runtime.DockerPath == "" {
		c.Runtime.DockerPath = def.Runtime.DockerPath
	}
	if c.Runtime.ContainerPrefix == "" {
		c.Runtime.ContainerPrefix = def.Runtime.ContainerPrefix
	}
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = def.Runtime.DataDir
	}
	if c.Runtime.CodeFile == "" {
		c.Runtime.CodeFile = def.Runtime.CodeFile
	}
	if c.Runtime.PythonPath == "" {
		c.Runtime.PythonPath = def.Runtime.PythonPath
	}
	if c.Debugger.Prompt == "" {
		c.Debugger.Prompt = def.Debugger.Prompt
	}
	if c.Debugger.EntryFunction == "" {
		c.Debugger.EntryFunction = def.Debugger.EntryFunction
	}
	if c.Debugger.MaxDepth == 0 {
		c.Debugger.MaxDepth = def.Debugger.MaxDepth
	}
	if c.Debugger.MaxChildren == 0 {
		c.Debugger.MaxChildren = def.Debugger.MaxChildren
	}
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.PortRange == [2]int{} {
		c.Server.PortRange = def.Server.PortRange
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Assistant.APIKeyEnv == "" {
		c.Assistant.APIKeyEnv = def.Assistant.APIKeyEnv
	}
	if c.Assistant.Model == "" {
		c.Assistant.Model = def.Assistant.Model
	}
	if c.Assistant.Temperature == 0 {
		c.Assistant.Temperature = def.Assistant.Temperature
	}
	if c.Assistant.MaxTokens == 0 {
		c.Assistant.MaxTokens = def.Assistant.MaxTokens
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = def.MaxSessions
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = def.SessionTimeout
	}
}
