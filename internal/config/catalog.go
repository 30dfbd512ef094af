package config

import (
	"log/slog"
	"os"
	"strconv"
)

// CatalogConfig represents the probe and session catalog configuration
type CatalogConfig struct {
	Enabled      bool   `json:"enabled"`       // Whether probes and sessions are recorded
	DatabasePath string `json:"database_path"` // Custom database path (empty = XDG cache path)
}

// GetDefaultCatalogConfig returns the default catalog configuration
func GetDefaultCatalogConfig() *CatalogConfig {
	return &CatalogConfig{
		Enabled:      true,
		DatabasePath: "",
	}
}

// ApplyCatalogEnvironmentOverrides applies environment variable overrides to catalog config
func ApplyCatalogEnvironmentOverrides(config *CatalogConfig) *CatalogConfig {
	result := *config

	if enabledStr := os.Getenv("CODECBRIDGE_CATALOG"); enabledStr != "" {
		if enabled, err := strconv.ParseBool(enabledStr); err == nil {
			result.Enabled = enabled
			slog.Debug("applied catalog override from environment", "value", enabled)
		} else {
			slog.Warn("invalid CODECBRIDGE_CATALOG environment variable", "value", enabledStr, "error", err)
		}
	}

	if path := os.Getenv("CODECBRIDGE_CATALOG_PATH"); path != "" {
		result.DatabasePath = path
		slog.Debug("applied catalog path override from environment", "value", path)
	}

	return &result
}
