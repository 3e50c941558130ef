package config

import (
	"os"
	"path/filepath"

	"github.com/gaialab/gaia/errors"
	"gopkg.in/yaml.v3"
)

// FilesystemAccess restricts what the filesystem tools may touch. Patterns
// are doublestar globs.
type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

// Config is the agent-level configuration. It is loaded from the user-global
// location first and then the project-local location, with the project file
// taking precedence field by field.
type Config struct {
	LLMClient string `yaml:"llm"`
	Model     string `yaml:"model"`

	// MaxSteps bounds the number of LLM turns per query. Zero means the
	// built-in default.
	MaxSteps int `yaml:"max_steps"`

	// DirectTools may run on the first turn without a plan.
	DirectTools []string `yaml:"direct_tools"`

	AllowedCommands  []string         `yaml:"allowed_commands"`
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access"`

	// MaxResultChars is the serialized-size threshold above which tool
	// results are truncated before entering conversation state.
	MaxResultChars int `yaml:"max_result_chars"`
}

// Dir is the per-project state directory.
const Dir = ".gaia"

// Load reads configuration from ~/.gaia/config.yaml and ./.gaia/config.yaml.
// Missing files are not errors.
func Load() (*Config, error) {
	cfg := &Config{}

	// The state directory itself is never exposed to tools.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, Dir, Dir+"/**")

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, Dir, "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			if err := loadFromFile(userPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectPath := filepath.Join(wd, Dir, "config.yaml")
	if _, err := os.Stat(projectPath); err == nil {
		if err := loadFromFile(projectPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only fields present in the YAML, which gives the
	// project-over-user merge.
	return yaml.Unmarshal(data, cfg)
}
