// Package config handles the daemon-wide defaults file: the retention
// expressions and paths new jobs inherit unless overridden, and where the
// run-history database and logs live. The file is TOML, decoded with
// BurntSushi/toml, and managed through a Manager with Read/Write plus
// ReadFromFile/Init helpers.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the daemon-wide defaults document.
type Config struct {
	LogDir                      string `toml:"log_dir"`
	HistoryDBPath               string `toml:"history_db_path"`
	DefaultSourceRetention      string `toml:"default_source_retention"`
	DefaultDestinationRetention string `toml:"default_destination_retention"`
	DefaultCompress             bool   `toml:"default_compress"`
}

// NewConfig returns a Config with paths derived from baseDir and
// reasonable retention defaults.
func NewConfig(baseDir string) *Config {
	return &Config{
		LogDir:                      filepath.Join(baseDir, "log"),
		HistoryDBPath:               filepath.Join(baseDir, "history.db"),
		DefaultSourceRetention:      "7d:daily, 4w:weekly, 12m:monthly",
		DefaultDestinationRetention: "7d:daily, 4w:weekly, 12m:monthly, 10y:yearly",
		DefaultCompress:             false,
	}
}

// Manager reads and writes Config documents.
type Manager struct{}

func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a fresh Config to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
