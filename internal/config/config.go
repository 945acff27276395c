package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models bountyline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Settings struct {
		ExperienceLevels []ExperienceLevel `yaml:"experience_levels"`
		BaseRate         uint64            `yaml:"base_rate"`
		BountyDeadline   int64             `yaml:"bounty_deadline"`
		BountyCurrency   string            `yaml:"bounty_currency"`
		BountyAllocator  string            `yaml:"bounty_allocator"`
	} `yaml:"settings"`
	Vault struct {
		Balances map[string]uint64 `yaml:"balances"`
	} `yaml:"vault"`
}

type ExperienceLevel struct {
	Name       string `yaml:"name"`
	Multiplier uint64 `yaml:"multiplier"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with bl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "bounty-program" {
		return fmt.Errorf("config.project.kind must be 'bounty-program'")
	}
	if len(c.Settings.ExperienceLevels) == 0 {
		return fmt.Errorf("config.settings.experience_levels is required")
	}
	for i, lvl := range c.Settings.ExperienceLevels {
		if lvl.Name == "" {
			return fmt.Errorf("experience level %d has empty name", i)
		}
		if lvl.Multiplier == 0 {
			return fmt.Errorf("experience level %s has zero multiplier", lvl.Name)
		}
	}
	if c.Settings.BaseRate == 0 {
		return fmt.Errorf("config.settings.base_rate is required")
	}
	if c.Settings.BountyDeadline <= 0 {
		return fmt.Errorf("config.settings.bounty_deadline must be positive")
	}
	for currency := range c.Vault.Balances {
		if currency == "" {
			return fmt.Errorf("config.vault.balances has empty currency")
		}
	}
	return nil
}

// Multipliers splits the configured levels into the parallel arrays the
// settings store keeps.
func (c *Config) Multipliers() (multipliers []uint64, names []string) {
	for _, lvl := range c.Settings.ExperienceLevels {
		multipliers = append(multipliers, lvl.Multiplier)
		names = append(names, lvl.Name)
	}
	return multipliers, names
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bountyline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
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

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "bounty-program"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
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

const defaultTemplate = `project:
  id: %s
  kind: bounty-program

settings:
  experience_levels:
    - name: Beginner
      multiplier: 100
    - name: Intermediate
      multiplier: 300
    - name: Advanced
      multiplier: 500
    - name: Expert
      multiplier: 1000

  base_rate: 100
  bounty_deadline: 2592000
  bounty_currency: "0x0000000000000000000000000000000000000000"
  bounty_allocator: "0x72d1ae1d6c8f3dd444b3d95bad554be483082e40"

vault:
  balances:
    "0x0000000000000000000000000000000000000000": 0
`
