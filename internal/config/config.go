package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"taskdesk/internal/domain"
)

// Config models taskdesk.yml.
type Config struct {
	Institution struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"institution"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Defaults struct {
		Priority string `yaml:"priority"`
	} `yaml:"defaults"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig configures one outbound notification webhook.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	Types          []string `yaml:"types"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Institution.ID == "" {
		return fmt.Errorf("config.institution.id is required")
	}
	if c.Defaults.Priority != "" && !domain.Priority(c.Defaults.Priority).Valid() {
		return fmt.Errorf("config.defaults.priority %q is not a known priority", c.Defaults.Priority)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, t := range hook.Types {
			if t == "" {
				return fmt.Errorf("config.webhooks[%d] has empty notification type", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskdesk.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run taskdesk init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config struct for an institution.
func Default(institutionID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(institutionID)), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(institutionID string) string {
	return fmt.Sprintf(defaultTemplate, institutionID, institutionID)
}

// DefaultPriority resolves the configured default priority, falling back to
// medium.
func (c *Config) DefaultPriority() domain.Priority {
	if c != nil && c.Defaults.Priority != "" {
		return domain.Priority(c.Defaults.Priority)
	}
	return domain.PriorityMedium
}

const defaultTemplate = `institution:
  id: %s
  name: %s

auth:
  jwt_secret: ""
  allow_legacy_actor_header: true

defaults:
  priority: medium

webhooks: []
`
