// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds user-tunable checkpoint behavior, read from
// chronicle.yaml in the data directory
type Settings struct {
	DefaultStrategy  string        `yaml:"default_strategy"`
	AutoCheckpoint   bool          `yaml:"auto_checkpoint"`
	CompressionLevel int           `yaml:"compression_level"`
	KeepCount        int           `yaml:"keep_count"`
	RemoveUntracked  bool          `yaml:"remove_untracked"`
	SmartMessages    int           `yaml:"smart_messages"`
	SmartFiles       int           `yaml:"smart_files"`
	SmartInterval    time.Duration `yaml:"smart_interval"`
}

// DefaultSettings returns the built-in defaults
func DefaultSettings() Settings {
	return Settings{
		DefaultStrategy:  "manual",
		CompressionLevel: 3,
		KeepCount:        50,
		SmartMessages:    10,
		SmartFiles:       3,
		SmartInterval:    5 * time.Minute,
	}
}

// Config holds resolved paths and settings for the engine
type Config struct {
	HomeDir        string
	ChronicleDir   string
	DatabasePath   string
	ContentPoolDir string
	Settings       Settings
}

// Load creates a Config rooted at the user's home directory
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(home, ".chronicle"))
}

// LoadFrom creates a Config rooted at dir, reading dir/chronicle.yaml when
// present. A missing settings file yields defaults; a malformed one is an
// error.
func LoadFrom(dir string) (*Config, error) {
	for _, d := range []string{dir, filepath.Join(dir, "content_pool")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, err
		}
	}

	settings := DefaultSettings()
	settingsPath := filepath.Join(dir, "chronicle.yaml")
	if data, err := os.ReadFile(settingsPath); err == nil {
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("parse %s: %w", settingsPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	home, _ := os.UserHomeDir()

	return &Config{
		HomeDir:        home,
		ChronicleDir:   dir,
		DatabasePath:   filepath.Join(dir, "chronicle.db"),
		ContentPoolDir: filepath.Join(dir, "content_pool"),
		Settings:       settings,
	}, nil
}
