// Package config loads relayd's YAML configuration, in the same shape
// cmd/demo's Config and internal/cli used: nested structs with yaml tags,
// sane defaults filled in before unmarshalling overwrites them.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level homeserver configuration.
type Config struct {
	Pool struct {
		QueueSize  int `yaml:"queue_size"`
		WorkerNum  int `yaml:"worker_num"`
	} `yaml:"pool"`

	Storage struct {
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`

	Backup struct {
		Dir string `yaml:"dir"`
	} `yaml:"backup"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Server struct {
		Name string `yaml:"name"`
	} `yaml:"server"`
}

// Default returns the configuration relayd starts with when no file is
// given. Pool.QueueSize/WorkerNum are left at values pool.New would clamp
// to anyway if they were ever out of range - the defaults here are simply
// reasonable ones, not a second copy of the clamp logic.
func Default() *Config {
	c := &Config{}
	c.Pool.QueueSize = 256
	c.Pool.WorkerNum = 4
	c.Storage.DataDir = "./data"
	c.Backup.Dir = "./data/backups"
	c.Metrics.Enabled = true
	c.Metrics.Addr = ":9090"
	c.Server.Name = "relayd"
	return c
}

// Load reads and parses a YAML config file at path, starting from Default
// and letting the file override only the fields it sets.
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return c, nil
}
