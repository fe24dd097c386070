package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Dir is the project-local directory holding jobq state.
const Dir = ".jobq"

// Hosts accepted by the host setting.
const (
	HostLoop      = "loop"
	HostImmediate = "immediate"
)

// ErrUnknownKey is returned by Set for a key that is not a config field.
var ErrUnknownKey = errors.New("unknown config key")

// Config represents the jobq configuration
type Config struct {
	// Scheduler settings
	Name             string `json:"name"`
	CompactThreshold int    `json:"compact_threshold"`
	Host             string `json:"host"`

	// Message settings (CEL expressions over msg, a and b)
	CancelWhen    string `json:"cancel_when"`
	PriorityOrder string `json:"priority_order"`
	ContextField  string `json:"context_field"`

	// Observability
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	MetricsAddr string `json:"metrics_addr"`
	Trace       bool   `json:"trace"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Name:             "jobq",
		CompactThreshold: 1000,
		Host:             HostLoop,
		CancelWhen:       `msg.type == "cancel"`,
		PriorityOrder:    `a.ts < b.ts`,
		ContextField:     "context",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.Host {
	case HostLoop, HostImmediate:
	default:
		return fmt.Errorf("invalid host %q: want %s or %s", c.Host, HostLoop, HostImmediate)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q: want text or json", c.LogFormat)
	}
	if c.CompactThreshold < 0 {
		return fmt.Errorf("invalid compact_threshold %d: must not be negative", c.CompactThreshold)
	}
	return nil
}

// Manager handles configuration loading and saving
type Manager struct {
	configPath string
	config     *Config
}

// NewManager creates a manager for <projectPath>/.jobq/config.json.
func NewManager(projectPath string) *Manager {
	return NewManagerAt(filepath.Join(projectPath, Dir, "config.json"))
}

// NewManagerAt creates a manager for an explicit config file path.
func NewManagerAt(path string) *Manager {
	return &Manager{
		configPath: path,
		config:     DefaultConfig(),
	}
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the configuration from disk. A missing file leaves the defaults
// in place. Keys absent from the file keep their default values.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}

	m.expandEnvVars(config)
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.config = config
	return nil
}

// Init writes the current configuration, creating the config directory and
// its .gitignore. An existing config file is left alone unless force is set.
func (m *Manager) Init(force bool) error {
	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	if err := m.ensureGitignore(); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}

	if _, err := os.Stat(m.configPath); err == nil && !force {
		return fmt.Errorf("config file %s already exists", m.configPath)
	}

	return m.Save()
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	return m.config
}

// Set updates a configuration value and saves
func (m *Manager) Set(key, value string) error {
	next := *m.config
	if err := next.set(key, value); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	m.config = &next
	return m.Save()
}

// Keys lists the settable configuration keys in order.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for key := range setters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var setters = map[string]func(c *Config, value string) error{
	"name":           func(c *Config, v string) error { c.Name = v; return nil },
	"host":           func(c *Config, v string) error { c.Host = v; return nil },
	"cancel_when":    func(c *Config, v string) error { c.CancelWhen = v; return nil },
	"priority_order": func(c *Config, v string) error { c.PriorityOrder = v; return nil },
	"context_field":  func(c *Config, v string) error { c.ContextField = v; return nil },
	"log_level":      func(c *Config, v string) error { c.LogLevel = v; return nil },
	"log_format":     func(c *Config, v string) error { c.LogFormat = v; return nil },
	"metrics_addr":   func(c *Config, v string) error { c.MetricsAddr = v; return nil },
	"compact_threshold": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("compact_threshold: %w", err)
		}
		c.CompactThreshold = n
		return nil
	},
	"trace": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("trace: %w", err)
		}
		c.Trace = b
		return nil
	},
}

func (c *Config) set(key, value string) error {
	setter, ok := setters[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return setter(c, value)
}

// ensureGitignore creates a .gitignore next to the config file
func (m *Manager) ensureGitignore() error {
	gitignorePath := filepath.Join(filepath.Dir(m.configPath), ".gitignore")

	if _, err := os.Stat(gitignorePath); !os.IsNotExist(err) {
		return nil // Already exists
	}

	gitignoreContent := `# jobq data directory .gitignore
#
# Commit the config, ignore run output.

*.log
*.jsonl
reports/

!config.json
!.gitignore
`

	return os.WriteFile(gitignorePath, []byte(gitignoreContent), 0o644)
}

// expandEnvVars expands environment variables in string settings
func (m *Manager) expandEnvVars(config *Config) {
	config.Name = expandString(config.Name)
	config.Host = expandString(config.Host)
	config.ContextField = expandString(config.ContextField)
	config.LogLevel = expandString(config.LogLevel)
	config.LogFormat = expandString(config.LogFormat)
	config.MetricsAddr = expandString(config.MetricsAddr)
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandString expands environment variables in a string
// Supports $VAR and ${VAR} syntax
func expandString(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		// Return original if env var not found
		return match
	})
}
