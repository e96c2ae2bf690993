package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the workspace config file.
const FileName = "diario.yml"

// Config models diario.yml.
type Config struct {
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`
	Wizard struct {
		ResetDelay time.Duration `yaml:"reset_delay"`
	} `yaml:"wizard"`
	Notifications struct {
		Enter   time.Duration `yaml:"enter"`
		Visible time.Duration `yaml:"visible"`
		Exit    time.Duration `yaml:"exit"`
	} `yaml:"notifications"`
	Export struct {
		Dir string `yaml:"dir"`
	} `yaml:"export"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with diario config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config.api.base_url must be an absolute http(s) url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config.api.base_url must use http or https")
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("config.api.timeout must not be negative")
	}
	if c.Wizard.ResetDelay < 0 {
		return fmt.Errorf("config.wizard.reset_delay must not be negative")
	}
	n := c.Notifications
	if n.Enter < 0 || n.Visible <= 0 || n.Exit < 0 {
		return fmt.Errorf("config.notifications durations must be positive")
	}
	if n.Enter > n.Visible {
		return fmt.Errorf("config.notifications.enter must not exceed visible")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `api:
  base_url: http://127.0.0.1:5000/api
  timeout: 10s

wizard:
  reset_delay: 2s

notifications:
  enter: 300ms
  visible: 3s
  exit: 300ms

export:
  dir: .

log:
  level: info
  file: ""

server:
  addr: 127.0.0.1:5000
  base_path: /api
`
