// Package config loads the publishing store configuration from JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// MaintenanceEvent describes one scheduled maintenance task.
type MaintenanceEvent struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Schedule       string `json:"schedule"` // cron spec, seconds field supported
	Task           string `json:"task"`     // registered task name, e.g. "reindex"
	Enabled        bool   `json:"enabled"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// EngineConfig holds the runtime configuration for the storage engine.
type EngineConfig struct {
	DataPath           string             `json:"data_path"`            // Base directory for all persisted state
	ChecksumAlgorithm  string             `json:"checksum_algorithm"`   // Currently only "sha256"
	WatchArticles      bool               `json:"watch_articles"`       // fsnotify watch on the articles tree
	SearchDefaultLimit int                `json:"search_default_limit"` // Page size when the caller passes none
	MaxConcurrentTasks int                `json:"max_concurrent_tasks"` // Scheduler concurrency cap
	Maintenance        []MaintenanceEvent `json:"maintenance,omitempty"`
	Debug              bool               `json:"debug,omitempty"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		DataPath:           "data",
		ChecksumAlgorithm:  "sha256",
		WatchArticles:      true,
		SearchDefaultLimit: 20,
		MaxConcurrentTasks: 2,
	}
}

// Load reads pubstore.json from configPath. A missing file is not an error:
// a default config is written there and returned, so a fresh install starts
// with a usable setup on disk.
func Load(configPath string) (EngineConfig, error) {
	filePath := filepath.Join(configPath, "pubstore.json")
	cfg := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("WARN: Config %s not found. Writing defaults.", filePath)
			if writeErr := Save(filePath, cfg); writeErr != nil {
				log.Printf("ERROR: Failed to write default config %s: %v", filePath, writeErr)
			}
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", filePath, err)
	}

	// Unmarshal over the defaults so absent fields keep their default values.
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config %s: %w", filePath, err)
	}

	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), fmt.Errorf("invalid config %s: %w", filePath, err)
	}
	return cfg, nil
}

// Save writes cfg to filePath, creating parent directories as needed.
func Save(filePath string, cfg EngineConfig) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("writing config %s: %w", filePath, err)
	}
	return nil
}

// Validate checks the loaded configuration for values the engine cannot run
// with.
func (c EngineConfig) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data_path must not be empty")
	}
	if c.ChecksumAlgorithm != "sha256" {
		return fmt.Errorf("unsupported checksum_algorithm %q (only sha256)", c.ChecksumAlgorithm)
	}
	if c.SearchDefaultLimit <= 0 {
		return fmt.Errorf("search_default_limit must be positive")
	}
	if c.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("max_concurrent_tasks must be positive")
	}
	seen := make(map[string]bool)
	for _, ev := range c.Maintenance {
		if ev.ID == "" {
			return fmt.Errorf("maintenance event with empty id")
		}
		if seen[ev.ID] {
			return fmt.Errorf("duplicate maintenance event id %q", ev.ID)
		}
		seen[ev.ID] = true
		if ev.Enabled && ev.Schedule == "" {
			return fmt.Errorf("maintenance event %q enabled without a schedule", ev.ID)
		}
		if ev.Enabled && ev.Task == "" {
			return fmt.Errorf("maintenance event %q enabled without a task", ev.ID)
		}
	}
	return nil
}
