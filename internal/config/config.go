package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models caseflow.yml.
type Config struct {
	Backend struct {
		BaseURL string   `yaml:"base_url"`
		Timeout Duration `yaml:"timeout"`
		APIKey  string   `yaml:"api_key"`
	} `yaml:"backend"`
	Roles struct {
		Bulk  string   `yaml:"bulk"`
		Known []string `yaml:"known"`
	} `yaml:"roles"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		DevLogin bool   `yaml:"dev_login"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Duration is a time.Duration that reads YAML strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

var logFormats = []string{"text", "logfmt", "json"}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cfl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("config.backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config.backend.base_url must be an absolute http(s) URL")
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("config.backend.timeout must not be negative")
	}
	if strings.TrimSpace(c.Roles.Bulk) == "" {
		return fmt.Errorf("config.roles.bulk is required")
	}
	for _, role := range c.Roles.Known {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("config.roles.known contains empty role id")
		}
	}
	if len(c.Roles.Known) > 0 && !slices.Contains(c.Roles.Known, c.Roles.Bulk) {
		return fmt.Errorf("config.roles.known must include bulk role %s", c.Roles.Bulk)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Logging.Format != "" && !slices.Contains(logFormats, c.Logging.Format) {
		return fmt.Errorf("config.logging.format must be one of %s", strings.Join(logFormats, ", "))
	}
	return nil
}

// KnowsRole reports whether role is declared. An empty Known list accepts any role.
func (c *Config) KnowsRole(role string) bool {
	return len(c.Roles.Known) == 0 || slices.Contains(c.Roles.Known, role)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("config: default template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys
// keep their default values.
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

// Encode renders cfg as YAML.
func (c *Config) Encode() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `backend:
  base_url: http://127.0.0.1:9000/api
  timeout: 10s

roles:
  bulk: bulk_approver
  known:
    - reporter
    - section_head
    - quality_officer
    - bulk_approver

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  dev_login: false

logging:
  level: info
  format: text
`
