package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// FileLoggingConfig represents file-based logging configuration
type FileLoggingConfig struct {
	Enabled    bool   `json:"enabled"`      // Whether file logging is enabled
	Filename   string `json:"filename"`     // Log file path (empty = XDG cache path)
	MaxSizeMB  int    `json:"max_size_mb"`  // Max file size in MB before rotation
	MaxBackups int    `json:"max_backups"`  // Max number of backup files to keep
	MaxAgeDays int    `json:"max_age_days"` // Max age in days before deletion
	Compress   bool   `json:"compress"`     // Whether to compress rotated files
}

// DecoderConfig sizes the software codec's output buffer pool
type DecoderConfig struct {
	BufferCount     int `json:"buffer_count"`
	FramesPerBuffer int `json:"frames_per_buffer"`
}

// ReaderConfig tunes the decode loop of every reader
type ReaderConfig struct {
	EmptyChunkPolicy     string `json:"empty_chunk_policy"`      // retry or end_of_stream
	MaxEmptyChunkRetries int    `json:"max_empty_chunk_retries"` // consecutive empty chunks tolerated
}

// MidiConfig controls the MIDI device watcher
type MidiConfig struct {
	PollInterval string `json:"poll_interval"` // Go duration, e.g. "1s"
}

// PlaybackConfig controls the play command
type PlaybackConfig struct {
	Volume  float64 `json:"volume"`  // Audio volume (0.0 to 1.0)
	Backend string  `json:"backend"` // Audio backend (auto, malgo, oto)
}

// Config represents codecbridge configuration
type Config struct {
	LogLevel    string             `json:"log_level"`              // Log level (debug, info, warn, error)
	FileLogging *FileLoggingConfig `json:"file_logging,omitempty"` // File logging configuration
	Decoder     DecoderConfig      `json:"decoder"`
	Reader      ReaderConfig       `json:"reader"`
	Midi        MidiConfig         `json:"midi"`
	Playback    PlaybackConfig     `json:"playback"`
	Catalog     *CatalogConfig     `json:"catalog,omitempty"`
}

// MidiPollInterval parses the configured poll interval, falling back to one
// second when it is empty or invalid
func (c *Config) MidiPollInterval() time.Duration {
	interval, err := time.ParseDuration(c.Midi.PollInterval)
	if err != nil || interval <= 0 {
		return time.Second
	}
	return interval
}

// XDGInterface defines the interface for XDG directory operations
type XDGInterface interface {
	GetConfigPaths(filename string) []string
	GetCachePath(purpose string) string
	CreateCacheDir(purpose string) error
}

// ConfigManager handles loading, saving, and validating configuration
type ConfigManager struct {
	xdg XDGInterface
	fs  afero.Fs
}

// NewConfigManager creates a new configuration manager on the OS filesystem
func NewConfigManager() *ConfigManager {
	return NewConfigManagerWithFilesystem(afero.NewOsFs())
}

// NewConfigManagerWithFilesystem creates a configuration manager that reads
// and writes through filesystem
func NewConfigManagerWithFilesystem(filesystem afero.Fs) *ConfigManager {
	slog.Debug("creating new config manager")
	return &ConfigManager{
		xdg: NewXDGDirsWithFilesystem(filesystem),
		fs:  filesystem,
	}
}

// GetDefaultConfig returns the default configuration
func (cm *ConfigManager) GetDefaultConfig() *Config {
	defaultConfig := &Config{
		LogLevel: "warn",
		FileLogging: &FileLoggingConfig{
			Enabled:    false,
			Filename:   "", // Empty = XDG cache path
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Decoder: DecoderConfig{
			BufferCount:     4,
			FramesPerBuffer: 1024,
		},
		Reader: ReaderConfig{
			EmptyChunkPolicy:     "retry",
			MaxEmptyChunkRetries: 64,
		},
		Midi: MidiConfig{
			PollInterval: "1s",
		},
		Playback: PlaybackConfig{
			Volume:  0.5,
			Backend: "auto",
		},
		Catalog: GetDefaultCatalogConfig(),
	}

	slog.Debug("generated default config",
		"log_level", defaultConfig.LogLevel,
		"buffer_count", defaultConfig.Decoder.BufferCount,
		"empty_chunk_policy", defaultConfig.Reader.EmptyChunkPolicy,
		"audio_backend", defaultConfig.Playback.Backend,
		"catalog_enabled", defaultConfig.Catalog.Enabled)

	return defaultConfig
}

// LoadFromFile loads configuration from a specific file. Fields missing from
// the file keep their default values.
func (cm *ConfigManager) LoadFromFile(filePath string) (*Config, error) {
	slog.Debug("loading config from file", "file_path", filePath)

	data, err := afero.ReadFile(cm.fs, filePath)
	if err != nil {
		slog.Error("failed to read config file", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := cm.GetDefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		slog.Error("failed to parse config JSON", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	err = cm.ValidateConfig(config)
	if err != nil {
		slog.Error("config validation failed", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	slog.Debug("config loaded successfully",
		"file_path", filePath,
		"log_level", config.LogLevel,
		"empty_chunk_policy", config.Reader.EmptyChunkPolicy)

	return config, nil
}

// SaveToFile saves configuration to a specific file
func (cm *ConfigManager) SaveToFile(config *Config, filePath string) error {
	slog.Debug("saving config to file", "file_path", filePath)

	err := cm.ValidateConfig(config)
	if err != nil {
		slog.Error("cannot save invalid config", "error", err)
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	dir := filepath.Dir(filePath)
	err = cm.fs.MkdirAll(dir, 0755)
	if err != nil {
		slog.Error("failed to create config directory", "directory", dir, "error", err)
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		slog.Error("failed to marshal config", "error", err)
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	lock, err := acquireFileLock(cm.fs, filePath+".lock", DefaultLockTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire config write lock: %w", err)
	}
	defer lock.Release()

	err = afero.WriteFile(cm.fs, filePath, data, 0644)
	if err != nil {
		slog.Error("failed to write config file", "file_path", filePath, "error", err)
		return fmt.Errorf("failed to write config file: %w", err)
	}

	slog.Info("config saved successfully", "file_path", filePath)
	return nil
}

// configFileName is the config file looked up in every XDG config directory
const configFileName = "config.json"

// UserConfigPath returns the user-level config file location, the first
// place LoadConfig looks
func (cm *ConfigManager) UserConfigPath() string {
	return cm.xdg.GetConfigPaths(configFileName)[0]
}

// LoadConfig loads configuration using XDG path discovery
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	slog.Debug("loading config using XDG path discovery")

	configPaths := cm.xdg.GetConfigPaths(configFileName)

	for i, configPath := range configPaths {
		slog.Debug("checking config path", "path_index", i, "path", configPath)

		if _, err := cm.fs.Stat(configPath); err == nil {
			slog.Debug("found config file", "path", configPath)
			return cm.LoadFromFile(configPath)
		}
	}

	slog.Debug("no config file found, using defaults", "searched", len(configPaths))
	return cm.GetDefaultConfig(), nil
}

var (
	validLogLevels          = []string{"debug", "info", "warn", "error"}
	validEmptyChunkPolicies = []string{"retry", "end_of_stream"}
)

// ValidateConfig validates configuration values, reporting every problem at once
func (cm *ConfigManager) ValidateConfig(config *Config) error {
	var errors []string

	if config.LogLevel != "" && !slices.Contains(validLogLevels, config.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s', must be one of: %s",
			config.LogLevel, strings.Join(validLogLevels, ", ")))
	}

	if config.FileLogging != nil {
		fileLogging := config.FileLogging

		if fileLogging.MaxSizeMB < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_size_mb must be >= 0, got %d", fileLogging.MaxSizeMB))
		}
		if fileLogging.MaxBackups < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_backups must be >= 0, got %d", fileLogging.MaxBackups))
		}
		if fileLogging.MaxAgeDays < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_age_days must be >= 0, got %d", fileLogging.MaxAgeDays))
		}
	}

	if config.Decoder.BufferCount < 0 {
		errors = append(errors, fmt.Sprintf("decoder buffer_count must be >= 0, got %d", config.Decoder.BufferCount))
	}
	if config.Decoder.FramesPerBuffer < 0 {
		errors = append(errors, fmt.Sprintf("decoder frames_per_buffer must be >= 0, got %d", config.Decoder.FramesPerBuffer))
	}

	if config.Reader.EmptyChunkPolicy != "" && !slices.Contains(validEmptyChunkPolicies, config.Reader.EmptyChunkPolicy) {
		errors = append(errors, fmt.Sprintf("invalid empty chunk policy '%s', must be one of: %s",
			config.Reader.EmptyChunkPolicy, strings.Join(validEmptyChunkPolicies, ", ")))
	}
	if config.Reader.MaxEmptyChunkRetries < 0 {
		errors = append(errors, fmt.Sprintf("reader max_empty_chunk_retries must be >= 0, got %d", config.Reader.MaxEmptyChunkRetries))
	}

	if config.Midi.PollInterval != "" {
		if interval, err := time.ParseDuration(config.Midi.PollInterval); err != nil || interval <= 0 {
			errors = append(errors, fmt.Sprintf("midi poll_interval must be a positive duration, got '%s'", config.Midi.PollInterval))
		}
	}

	if config.Playback.Volume < 0.0 || config.Playback.Volume > 1.0 {
		errors = append(errors, fmt.Sprintf("volume must be between 0.0 and 1.0, got %f", config.Playback.Volume))
	}
	if !cm.IsValidAudioBackend(config.Playback.Backend) {
		errors = append(errors, fmt.Sprintf("invalid audio backend '%s', must be one of: %s",
			config.Playback.Backend, strings.Join(cm.GetSupportedAudioBackends(), ", ")))
	}

	if len(errors) > 0 {
		errMsg := strings.Join(errors, "; ")
		slog.Error("config validation failed", "errors", errMsg)
		return fmt.Errorf("config validation failed: %s", errMsg)
	}

	slog.Debug("config validation passed")
	return nil
}

// ApplyEnvironmentOverrides applies CODECBRIDGE_* environment variable
// overrides to a copy of config
func (cm *ConfigManager) ApplyEnvironmentOverrides(config *Config) *Config {
	slog.Debug("applying environment variable overrides")

	result := *config

	if logLevel := os.Getenv("CODECBRIDGE_LOG_LEVEL"); logLevel != "" {
		result.LogLevel = logLevel
		slog.Debug("applied log level override from environment", "value", logLevel)
	}

	if volStr := os.Getenv("CODECBRIDGE_VOLUME"); volStr != "" {
		if vol, err := strconv.ParseFloat(volStr, 64); err == nil {
			result.Playback.Volume = vol
			slog.Debug("applied volume override from environment", "value", vol)
		} else {
			slog.Warn("invalid CODECBRIDGE_VOLUME environment variable", "value", volStr, "error", err)
		}
	}

	if audioBackend := os.Getenv("CODECBRIDGE_AUDIO_BACKEND"); audioBackend != "" {
		if cm.IsValidAudioBackend(audioBackend) {
			result.Playback.Backend = audioBackend
			slog.Debug("applied audio backend override from environment", "value", audioBackend)
		} else {
			slog.Warn("invalid CODECBRIDGE_AUDIO_BACKEND environment variable", "value", audioBackend)
		}
	}

	if policy := os.Getenv("CODECBRIDGE_EMPTY_CHUNK_POLICY"); policy != "" {
		if slices.Contains(validEmptyChunkPolicies, policy) {
			result.Reader.EmptyChunkPolicy = policy
			slog.Debug("applied empty chunk policy override from environment", "value", policy)
		} else {
			slog.Warn("invalid CODECBRIDGE_EMPTY_CHUNK_POLICY environment variable", "value", policy)
		}
	}

	if interval := os.Getenv("CODECBRIDGE_MIDI_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil && d > 0 {
			result.Midi.PollInterval = interval
			slog.Debug("applied MIDI poll interval override from environment", "value", interval)
		} else {
			slog.Warn("invalid CODECBRIDGE_MIDI_POLL_INTERVAL environment variable", "value", interval)
		}
	}

	if result.Catalog == nil {
		result.Catalog = GetDefaultCatalogConfig()
	}
	result.Catalog = ApplyCatalogEnvironmentOverrides(result.Catalog)

	slog.Debug("environment overrides applied")
	return &result
}

// ResolveLogFilePath resolves the log file path using XDG cache directory when filename is empty
func (cm *ConfigManager) ResolveLogFilePath(filename string) string {
	if filename != "" {
		return filename
	}
	return filepath.Join(cm.xdg.GetCachePath("logs"), "codecbridge.log")
}

// ResolveCatalogPath resolves the catalog database path using XDG cache directory when path is empty
func (cm *ConfigManager) ResolveCatalogPath(path string) string {
	if path != "" {
		return path
	}
	return filepath.Join(cm.xdg.GetCachePath(""), "catalog.db")
}

// GetSupportedAudioBackends returns a list of all supported audio backend types
func (cm *ConfigManager) GetSupportedAudioBackends() []string {
	return []string{"auto", "malgo", "oto"}
}

// IsValidAudioBackend checks if an audio backend type is supported
func (cm *ConfigManager) IsValidAudioBackend(backend string) bool {
	// Empty string is valid (defaults to auto)
	if backend == "" {
		return true
	}
	return slices.Contains(cm.GetSupportedAudioBackends(), backend)
}
