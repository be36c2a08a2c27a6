// Package config provides configuration loading for workspaced.
package config

import (
	"fmt"

	"github.com/fyrsmithlabs/workspaced/internal/logging"
)

// Config is the root configuration for workspaced.
type Config struct {
	Workspace WorkspaceConfig `koanf:"workspace"`
	Store     StoreConfig     `koanf:"store"`
	Server    ServerConfig    `koanf:"server"`
	Logging   logging.Config  `koanf:"logging"`
}

// WorkspaceConfig controls where project directories live on disk.
type WorkspaceConfig struct {
	Dir          string `koanf:"dir"`
	TemplatesDir string `koanf:"templates_dir"`
}

// StoreConfig controls the document store backing project manifests.
type StoreConfig struct {
	Path               string `koanf:"path"`
	ProjectsCollection string `koanf:"projects_collection"`
	CorpusCollection   string `koanf:"corpus_collection"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// applyDefaults fills in zero values with hardcoded defaults.
func applyDefaults(cfg *Config) {
	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = "workspace"
	}
	if cfg.Workspace.TemplatesDir == "" {
		cfg.Workspace.TemplatesDir = "templates"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "workspaced.db"
	}
	if cfg.Store.ProjectsCollection == "" {
		cfg.Store.ProjectsCollection = "projects"
	}
	if cfg.Store.CorpusCollection == "" {
		cfg.Store.CorpusCollection = "corpus"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = map[string]string{"service": "workspaced"}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Store.ProjectsCollection == c.Store.CorpusCollection {
		return fmt.Errorf("projects and corpus collections must differ, both are %q", c.Store.ProjectsCollection)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
