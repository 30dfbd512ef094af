package config

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeXDG points config discovery at fixed paths
type fakeXDG struct {
	configPaths []string
	cacheRoot   string
}

func (f *fakeXDG) GetConfigPaths(filename string) []string {
	paths := make([]string, len(f.configPaths))
	for i, p := range f.configPaths {
		paths[i] = filepath.Join(p, filename)
	}
	return paths
}

func (f *fakeXDG) GetCachePath(purpose string) string {
	return filepath.Join(f.cacheRoot, purpose)
}

func (f *fakeXDG) CreateCacheDir(string) error { return nil }

func newTestManager(t *testing.T) (*ConfigManager, afero.Fs) {
	t.Helper()
	memFS := afero.NewMemMapFs()
	cm := NewConfigManagerWithFilesystem(memFS)
	cm.xdg = &fakeXDG{
		configPaths: []string{"/home/user/.config/codecbridge", "/etc/xdg/codecbridge"},
		cacheRoot:   "/home/user/.cache/codecbridge",
	}
	return cm, memFS
}

func TestDefaultConfigIsValid(t *testing.T) {
	cm, _ := newTestManager(t)
	cfg := cm.GetDefaultConfig()

	require.NoError(t, cm.ValidateConfig(cfg))
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "retry", cfg.Reader.EmptyChunkPolicy)
	assert.Equal(t, 4, cfg.Decoder.BufferCount)
	assert.Equal(t, 1024, cfg.Decoder.FramesPerBuffer)
	assert.Equal(t, time.Second, cfg.MidiPollInterval())
	assert.Equal(t, "auto", cfg.Playback.Backend)
	require.NotNil(t, cfg.Catalog)
	assert.True(t, cfg.Catalog.Enabled)
}

func TestLoadFromFileKeepsDefaultsForMissingFields(t *testing.T) {
	cm, memFS := newTestManager(t)
	require.NoError(t, afero.WriteFile(memFS, "/test/config.json", []byte(`{
		"log_level": "debug",
		"reader": {"empty_chunk_policy": "end_of_stream"},
		"midi": {"poll_interval": "250ms"}
	}`), 0644))

	cfg, err := cm.LoadFromFile("/test/config.json")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "end_of_stream", cfg.Reader.EmptyChunkPolicy)
	assert.Equal(t, 64, cfg.Reader.MaxEmptyChunkRetries, "unset field keeps its default")
	assert.Equal(t, 250*time.Millisecond, cfg.MidiPollInterval())
	assert.Equal(t, 0.5, cfg.Playback.Volume)
}

func TestLoadFromFileErrors(t *testing.T) {
	cm, memFS := newTestManager(t)

	_, err := cm.LoadFromFile("/missing.json")
	assert.ErrorContains(t, err, "failed to read config file")

	require.NoError(t, afero.WriteFile(memFS, "/broken.json", []byte(`{"log_level":`), 0644))
	_, err = cm.LoadFromFile("/broken.json")
	assert.ErrorContains(t, err, "failed to parse config JSON")

	require.NoError(t, afero.WriteFile(memFS, "/invalid.json", []byte(`{"playback": {"volume": 3}}`), 0644))
	_, err = cm.LoadFromFile("/invalid.json")
	assert.ErrorContains(t, err, "volume must be between 0.0 and 1.0")
}

func TestSaveAndReload(t *testing.T) {
	cm, memFS := newTestManager(t)
	cfg := cm.GetDefaultConfig()
	cfg.Decoder.FramesPerBuffer = 2048
	cfg.Playback.Backend = "oto"

	require.NoError(t, cm.SaveToFile(cfg, "/home/user/.config/codecbridge/config.json"))

	data, err := afero.ReadFile(memFS, "/home/user/.config/codecbridge/config.json")
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "reader")

	loaded, err := cm.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	cm, memFS := newTestManager(t)
	cfg := cm.GetDefaultConfig()
	cfg.LogLevel = "verbose"

	err := cm.SaveToFile(cfg, "/out/config.json")
	require.Error(t, err)

	exists, _ := afero.Exists(memFS, "/out/config.json")
	assert.False(t, exists)
}

func TestLoadConfigDiscovery(t *testing.T) {
	t.Run("no file uses defaults", func(t *testing.T) {
		cm, _ := newTestManager(t)
		cfg, err := cm.LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, cm.GetDefaultConfig(), cfg)
	})

	t.Run("system path is a fallback", func(t *testing.T) {
		cm, memFS := newTestManager(t)
		require.NoError(t, afero.WriteFile(memFS, "/etc/xdg/codecbridge/config.json", []byte(`{"log_level":"error"}`), 0644))

		cfg, err := cm.LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "error", cfg.LogLevel)
	})

	t.Run("user path wins", func(t *testing.T) {
		cm, memFS := newTestManager(t)
		require.NoError(t, afero.WriteFile(memFS, "/etc/xdg/codecbridge/config.json", []byte(`{"log_level":"error"}`), 0644))
		require.NoError(t, afero.WriteFile(memFS, "/home/user/.config/codecbridge/config.json", []byte(`{"log_level":"info"}`), 0644))

		cfg, err := cm.LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "info", cfg.LogLevel)
	})
}

func TestValidateConfigReportsEveryProblem(t *testing.T) {
	cm, _ := newTestManager(t)
	cfg := cm.GetDefaultConfig()
	cfg.LogLevel = "loud"
	cfg.Reader.EmptyChunkPolicy = "ignore"
	cfg.Reader.MaxEmptyChunkRetries = -1
	cfg.Decoder.BufferCount = -2
	cfg.Midi.PollInterval = "often"
	cfg.Playback.Backend = "alsa"
	cfg.FileLogging.MaxBackups = -1

	err := cm.ValidateConfig(cfg)
	require.Error(t, err)
	for _, fragment := range []string{
		"invalid log level 'loud'",
		"invalid empty chunk policy 'ignore'",
		"max_empty_chunk_retries must be >= 0",
		"buffer_count must be >= 0",
		"poll_interval must be a positive duration",
		"invalid audio backend 'alsa'",
		"max_backups must be >= 0",
	} {
		assert.ErrorContains(t, err, fragment)
	}
}

func TestValidateConfigAcceptsEmptyOptionalFields(t *testing.T) {
	cm, _ := newTestManager(t)
	cfg := &Config{}

	assert.NoError(t, cm.ValidateConfig(cfg))
	assert.Equal(t, time.Second, cfg.MidiPollInterval())
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	cm, _ := newTestManager(t)
	base := cm.GetDefaultConfig()

	t.Setenv("CODECBRIDGE_LOG_LEVEL", "debug")
	t.Setenv("CODECBRIDGE_VOLUME", "0.9")
	t.Setenv("CODECBRIDGE_AUDIO_BACKEND", "malgo")
	t.Setenv("CODECBRIDGE_EMPTY_CHUNK_POLICY", "end_of_stream")
	t.Setenv("CODECBRIDGE_MIDI_POLL_INTERVAL", "2s")
	t.Setenv("CODECBRIDGE_CATALOG", "false")
	t.Setenv("CODECBRIDGE_CATALOG_PATH", "/tmp/catalog.db")

	cfg := cm.ApplyEnvironmentOverrides(base)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.9, cfg.Playback.Volume)
	assert.Equal(t, "malgo", cfg.Playback.Backend)
	assert.Equal(t, "end_of_stream", cfg.Reader.EmptyChunkPolicy)
	assert.Equal(t, 2*time.Second, cfg.MidiPollInterval())
	assert.False(t, cfg.Catalog.Enabled)
	assert.Equal(t, "/tmp/catalog.db", cfg.Catalog.DatabasePath)

	assert.Equal(t, "warn", base.LogLevel, "base config must not be modified")
	assert.True(t, base.Catalog.Enabled, "base catalog config must not be modified")
}

func TestApplyEnvironmentOverridesIgnoresInvalidValues(t *testing.T) {
	cm, _ := newTestManager(t)
	base := cm.GetDefaultConfig()

	t.Setenv("CODECBRIDGE_VOLUME", "loud")
	t.Setenv("CODECBRIDGE_AUDIO_BACKEND", "pulse")
	t.Setenv("CODECBRIDGE_EMPTY_CHUNK_POLICY", "skip")
	t.Setenv("CODECBRIDGE_MIDI_POLL_INTERVAL", "-1s")
	t.Setenv("CODECBRIDGE_CATALOG", "maybe")

	cfg := cm.ApplyEnvironmentOverrides(base)

	assert.Equal(t, base.Playback, cfg.Playback)
	assert.Equal(t, base.Reader, cfg.Reader)
	assert.Equal(t, base.Midi, cfg.Midi)
	assert.True(t, cfg.Catalog.Enabled)
}

func TestApplyEnvironmentOverridesFillsMissingCatalog(t *testing.T) {
	cm, _ := newTestManager(t)

	cfg := cm.ApplyEnvironmentOverrides(&Config{})

	require.NotNil(t, cfg.Catalog)
	assert.True(t, cfg.Catalog.Enabled)
}

func TestResolvePaths(t *testing.T) {
	cm, _ := newTestManager(t)

	assert.Equal(t, "/custom/run.log", cm.ResolveLogFilePath("/custom/run.log"))
	assert.Equal(t, "/home/user/.cache/codecbridge/logs/codecbridge.log", cm.ResolveLogFilePath(""))

	assert.Equal(t, "/data/c.db", cm.ResolveCatalogPath("/data/c.db"))
	assert.Equal(t, "/home/user/.cache/codecbridge/catalog.db", cm.ResolveCatalogPath(""))
}

func TestAudioBackends(t *testing.T) {
	cm, _ := newTestManager(t)

	assert.Equal(t, []string{"auto", "malgo", "oto"}, cm.GetSupportedAudioBackends())
	assert.True(t, cm.IsValidAudioBackend(""))
	assert.True(t, cm.IsValidAudioBackend("oto"))
	assert.False(t, cm.IsValidAudioBackend("system_command"))
}

func TestUserConfigPath(t *testing.T) {
	cm, _ := newTestManager(t)
	assert.Equal(t, "/home/user/.config/codecbridge/config.json", cm.UserConfigPath())
}
