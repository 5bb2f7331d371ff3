// Package config holds the typed runtime configuration for the gocep
// server and CLI.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all gocep configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	// Path is the SQLite file path; empty means an in-memory database.
	Path string `yaml:"path"`
}

type EmbeddingConfig struct {
	// URL of an Ollama-compatible embedding API. Empty disables the
	// remote provider and falls back to the deterministic term hasher.
	URL        string `yaml:"url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	// IndexPath is where the ANN index snapshot is persisted.
	IndexPath string `yaml:"index_path"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 8900,
		},
		Database: DatabaseConfig{
			Path: "",
		},
		Embedding: EmbeddingConfig{
			URL:        "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 256,
			IndexPath:  "gocep-index.bin",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is
// not an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
