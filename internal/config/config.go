package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models mindlock.yml.
type Config struct {
	Economy struct {
		UnlockCost  int64 `yaml:"unlock_cost"`
		SignupBonus int64 `yaml:"signup_bonus"`
	} `yaml:"economy"`
	Catalog  []CatalogTask `yaml:"catalog"`
	Auth     AuthConfig    `yaml:"auth"`
	Webhooks []Webhook     `yaml:"webhooks"`
}

type CatalogTask struct {
	ID              string `yaml:"id"`
	Title           string `yaml:"title"`
	Description     string `yaml:"description"`
	Kind            string `yaml:"kind"`
	DurationSeconds int    `yaml:"duration_seconds"`
	GemReward       int64  `yaml:"gem_reward"`
}

type AuthConfig struct {
	// DevLogin enables POST /v1/auth/dev/login, which mints a token for any
	// user id without credentials. Never enable outside local development.
	DevLogin bool `yaml:"dev_login"`
}

type Webhook struct {
	ID             string   `yaml:"id"`
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var validKinds = map[string]bool{
	"breathing":  true,
	"movement":   true,
	"reflection": true,
	"game":       true,
	"other":      true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with ml init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Economy.UnlockCost < 0 {
		return fmt.Errorf("config.economy.unlock_cost must not be negative")
	}
	if c.Economy.SignupBonus < 0 {
		return fmt.Errorf("config.economy.signup_bonus must not be negative")
	}
	seen := map[string]bool{}
	for i, t := range c.Catalog {
		if t.ID == "" {
			return fmt.Errorf("catalog entry %d has empty id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("catalog task %s defined twice", t.ID)
		}
		seen[t.ID] = true
		if t.Title == "" {
			return fmt.Errorf("catalog task %s has empty title", t.ID)
		}
		if !validKinds[t.Kind] {
			return fmt.Errorf("catalog task %s has unknown kind %s", t.ID, t.Kind)
		}
		if t.DurationSeconds <= 0 {
			return fmt.Errorf("catalog task %s must have a positive duration", t.ID)
		}
		if t.GemReward < 0 {
			return fmt.Errorf("catalog task %s has negative gem reward", t.ID)
		}
	}
	for i, h := range c.Webhooks {
		if h.ID == "" {
			return fmt.Errorf("webhook %d has empty id", i)
		}
		if h.URL == "" {
			return fmt.Errorf("webhook %s has empty url", h.ID)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "mindlock.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `economy:
  unlock_cost: 20
  signup_bonus: 0

catalog:
  - id: box-breathing
    title: Box Breathing
    description: "Inhale 4s, hold 4s, exhale 4s, hold 4s"
    kind: breathing
    duration_seconds: 10
    gem_reward: 5

  - id: quick-walk
    title: Quick Walk
    description: "Step away from the screen and walk"
    kind: movement
    duration_seconds: 15
    gem_reward: 10

  - id: water-break
    title: Water Break
    description: "Drink a glass of water"
    kind: other
    duration_seconds: 5
    gem_reward: 3

  - id: identify-5-things
    title: Identify 5 Things
    description: "Name five things you can see around you"
    kind: reflection
    duration_seconds: 10
    gem_reward: 5

  - id: shoulder-roll
    title: Shoulder Roll
    description: "Roll your shoulders back slowly"
    kind: movement
    duration_seconds: 5
    gem_reward: 2

auth:
  dev_login: false
`
