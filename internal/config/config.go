// internal/config/config.go
//
// This package handles configuration and the .stead directory structure.
// Every workspace that uses stead gets a .stead/ folder created in its root.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SteadDir is the name of the directory we create in each workspace.
const SteadDir = ".stead"

const (
	defaultEndpointLow  = 8000
	defaultEndpointHigh = 8999

	// DefaultDaemonHost is the loopback interface the command daemon binds
	// when no override is configured.
	DefaultDaemonHost = "127.0.0.1"
	// DefaultDaemonPort is the default TCP port for the command daemon.
	DefaultDaemonPort = 7420
)

const defaultWorkspaceConfigYAML = `# stead workspace configuration
version: 1

endpoint_range: [8000, 8999]

daemon:
  enabled: true
  host: 127.0.0.1
  port: 7420

modules:
  session_proxy: true
  context_generator: true
`

// EndpointRange is the inclusive [low, high] port range the endpoint broker
// negotiates within.
type EndpointRange struct {
	Low  int `yaml:"low"`
	High int `yaml:"high"`
}

// ModuleToggles holds the default-on workspace-local module flags.
type ModuleToggles struct {
	SessionProxy     *bool `yaml:"session_proxy,omitempty"`
	ContextGenerator *bool `yaml:"context_generator,omitempty"`
}

// DaemonConfig holds the workspace-local overrides for the command
// daemon's HTTP transport, layered under env var overrides in
// daemon.SettingsFromConfig.
type DaemonConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// WorkspaceConfig models .stead/stead.yaml.
type WorkspaceConfig struct {
	Version       int               `yaml:"version"`
	EndpointRange EndpointRangeYAML `yaml:"endpoint_range,omitempty"`
	Daemon        DaemonConfig      `yaml:"daemon,omitempty"`
	Modules       ModuleToggles     `yaml:"modules"`
}

// EndpointRangeYAML supports the `[low, high]` two-element-array wire
// shape while still giving the rest of the package a plain struct to work
// with.
type EndpointRangeYAML []int

// Resolved converts the wire shape into an EndpointRange, applying the
// default range when the array is absent or malformed.
func (r EndpointRangeYAML) Resolved() EndpointRange {
	if len(r) == 2 {
		return EndpointRange{Low: r[0], High: r[1]}
	}
	return EndpointRange{Low: defaultEndpointLow, High: defaultEndpointHigh}
}

// Config holds the runtime configuration for stead.
type Config struct {
	// WorkspaceRoot is the directory the daemon was started against.
	WorkspaceRoot string

	// SteadProjectDir is WorkspaceRoot/.stead
	SteadProjectDir string

	Workspace WorkspaceConfig
}

// InitWorkspace creates the .stead directory structure in the given
// workspace root.
//
// Structure created:
// .stead/
// ├── sessions/
// │   ├── claude/
// │   ├── codex/
// │   └── opencode/
// └── logs/
func InitWorkspace(root string) error {
	steadDir := filepath.Join(root, SteadDir)

	dirs := []string{
		filepath.Join(steadDir, "sessions", "claude"),
		filepath.Join(steadDir, "sessions", "codex"),
		filepath.Join(steadDir, "sessions", "opencode"),
		filepath.Join(steadDir, "logs"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	if err := ensureWorkspaceConfig(filepath.Join(steadDir, "stead.yaml")); err != nil {
		return err
	}

	return nil
}

// Load reads and validates .stead/stead.yaml, applying env var overrides and
// defaults, for the given workspace root.
func Load(root string) (*Config, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("config: workspace root is required")
	}
	if override := strings.TrimSpace(os.Getenv("STEAD_WORKSPACE_ROOT")); override != "" {
		root = override
	}

	cfg := &Config{
		WorkspaceRoot:   root,
		SteadProjectDir: filepath.Join(root, SteadDir),
		Workspace:       defaultWorkspaceConfig(),
	}

	if err := cfg.loadWorkspaceConfig(); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	return cfg, nil
}

// DBPath returns the path to the persistent store file.
func (c *Config) DBPath() string {
	return filepath.Join(c.SteadProjectDir, "stead.db")
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.SteadProjectDir, "logs")
}

// SessionsDir returns the root of the per-CLI session artifact trees.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.SteadProjectDir, "sessions")
}

// SessionsDirFor returns the on-disk root for a single CLI source.
func (c *Config) SessionsDirFor(cli string) string {
	return filepath.Join(c.SessionsDir(), cli)
}

// WorkspaceConfigPath returns the on-disk location of the workspace config file.
func (c *Config) WorkspaceConfigPath() string {
	return filepath.Join(c.SteadProjectDir, "stead.yaml")
}

// EndpointRange returns the resolved endpoint port range. The file's range
// is validated at load; STEAD_ENDPOINT_RANGE_LOW/HIGH overrides are
// applied afterwards and are not range-checked.
func (c *Config) EndpointRange() EndpointRange {
	return c.Workspace.EndpointRange.Resolved()
}

// DaemonConfig returns the workspace-local daemon transport overrides.
func (c *Config) DaemonConfig() DaemonConfig {
	return c.Workspace.Daemon
}

// ModuleEnabled reports whether the named module defaults to enabled.
func (c *Config) ModuleEnabled(name string) bool {
	switch name {
	case "session-proxy", "session_proxy":
		if c.Workspace.Modules.SessionProxy != nil {
			return *c.Workspace.Modules.SessionProxy
		}
		return true
	case "context-generator", "context_generator":
		if c.Workspace.Modules.ContextGenerator != nil {
			return *c.Workspace.Modules.ContextGenerator
		}
		return true
	default:
		return false
	}
}

func (c *Config) loadWorkspaceConfig() error {
	path := c.WorkspaceConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed WorkspaceConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&parsed); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: invalid_payload: %w", path, err)
	}

	parsed.applyDefaults()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Workspace = parsed
	return nil
}

func (c *Config) applyEnvOverrides() {
	if low := strings.TrimSpace(os.Getenv("STEAD_ENDPOINT_RANGE_LOW")); low != "" {
		if v, err := strconv.Atoi(low); err == nil {
			r := c.Workspace.EndpointRange.Resolved()
			r.Low = v
			c.Workspace.EndpointRange = EndpointRangeYAML{r.Low, r.High}
		}
	}
	if high := strings.TrimSpace(os.Getenv("STEAD_ENDPOINT_RANGE_HIGH")); high != "" {
		if v, err := strconv.Atoi(high); err == nil {
			r := c.Workspace.EndpointRange.Resolved()
			r.High = v
			c.Workspace.EndpointRange = EndpointRangeYAML{r.Low, r.High}
		}
	}
}

func defaultWorkspaceConfig() WorkspaceConfig {
	on := true
	return WorkspaceConfig{
		Version:       1,
		EndpointRange: EndpointRangeYAML{defaultEndpointLow, defaultEndpointHigh},
		Modules: ModuleToggles{
			SessionProxy:     &on,
			ContextGenerator: &on,
		},
	}
}

func (wc *WorkspaceConfig) applyDefaults() {
	if wc.Version == 0 {
		wc.Version = 1
	}
	if len(wc.EndpointRange) == 0 {
		wc.EndpointRange = EndpointRangeYAML{defaultEndpointLow, defaultEndpointHigh}
	}
	if wc.Modules.SessionProxy == nil {
		on := true
		wc.Modules.SessionProxy = &on
	}
	if wc.Modules.ContextGenerator == nil {
		on := true
		wc.Modules.ContextGenerator = &on
	}
}

func (wc *WorkspaceConfig) validate() error {
	if wc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if len(wc.EndpointRange) != 0 && len(wc.EndpointRange) != 2 {
		return fmt.Errorf("endpoint_range: invalid_payload: expected [low, high]")
	}
	r := wc.EndpointRange.Resolved()
	if r.Low < 0 || r.High > 65535 || r.Low > r.High {
		return fmt.Errorf("endpoint_range: invalid_payload: [%d, %d] is not a valid range", r.Low, r.High)
	}
	return nil
}

func ensureWorkspaceConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultWorkspaceConfigYAML), 0644)
}
