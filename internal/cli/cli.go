// Package cli is the codecbridge command line: probing, decoding and playing
// audio files through the platform codec adapter, browsing the session
// catalog and watching MIDI devices.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"codecbridge.dev/internal/audio"
	"codecbridge.dev/internal/catalog"
	"codecbridge.dev/internal/config"
	cbfs "codecbridge.dev/internal/fs"
	"codecbridge.dev/internal/midisetup"
	"codecbridge.dev/internal/playback"
	"codecbridge.dev/internal/softcodec"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

const Version = "0.4.0"

var errCLINotInContext = errors.New("CLI instance not found in context")

// CLI represents the command-line interface
type CLI struct {
	rootCmd          *cobra.Command
	configManager    *config.ConfigManager
	fs               afero.Fs // config, log and output files
	mediaFS          afero.Fs // audio inputs, never written
	backendFactory   playback.BackendFactory
	terminalDetector TerminalDetector
	midiOptions      []midisetup.Option

	config   *config.Config
	registry *audio.FormatRegistry
	catalog  *catalog.Catalog // nil when the catalog is disabled or unavailable
}

// NewCLI creates a CLI on the operating system filesystem
func NewCLI() *CLI {
	factory := cbfs.NewDefaultFactory()
	return newCLI(factory.Production(), factory.Media())
}

// NewCLIWithFilesystem creates a CLI whose files all live on filesystem.
// Audio inputs are read through a read-only view of it.
func NewCLIWithFilesystem(filesystem afero.Fs) *CLI {
	return newCLI(filesystem, afero.NewReadOnlyFs(filesystem))
}

func newCLI(filesystem, mediaFS afero.Fs) *CLI {
	slog.Debug("creating new CLI instance")

	rootCmd := &cobra.Command{
		Use:   "codecbridge",
		Short: "Decode audio through the platform media codec",
		Long: "codecbridge reads compressed audio files through a platform media codec, " +
			"exposing them as random-access PCM for probing, export and playback.",
		SilenceUsage:      true,
		PersistentPreRunE: runPrepareE,
		RunE:              runRootE,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(
		newProbeCommand(),
		newDecodeCommand(),
		newPlayCommand(),
		newFormatsCommand(),
		newHistoryCommand(),
		newMidiCommand(),
		newConfigCommand(),
	)

	return &CLI{
		rootCmd:          rootCmd,
		configManager:    config.NewConfigManagerWithFilesystem(filesystem),
		fs:               filesystem,
		mediaFS:          mediaFS,
		backendFactory:   playback.NewBackendFactory(),
		terminalDetector: &DefaultTerminalDetector{},
	}
}

type cliContextKey struct{}

// contextWithCLI stores the CLI instance for command handlers
func contextWithCLI(ctx context.Context, cli *CLI) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cli)
}

// cliFromContext extracts the CLI instance stored by Run
func cliFromContext(ctx context.Context) (*CLI, error) {
	if cli, ok := ctx.Value(cliContextKey{}).(*CLI); ok {
		return cli, nil
	}
	slog.Error("CLI instance not found in context")
	return nil, errCLINotInContext
}

// Run executes the CLI with the given arguments and I/O streams
func (c *CLI) Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	slog.Debug("CLI run started", "args", args)

	if len(args) > 1 && (args[1] == "--version" || args[1] == "-v") {
		c.printVersion(stdout)
		return 0
	}

	defer c.closeResources()

	c.rootCmd.SetArgs(args[1:])
	c.rootCmd.SetIn(stdin)
	c.rootCmd.SetOut(stdout)
	c.rootCmd.SetErr(stderr)
	c.rootCmd.SetContext(contextWithCLI(context.Background(), c))

	if err := c.rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		return 1
	}
	return 0
}

func (c *CLI) printVersion(w io.Writer) {
	fmt.Fprintf(w, "codecbridge version %s\n", Version)
}

func runRootE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}
	if version, _ := cmd.Flags().GetBool("version"); version {
		cli.printVersion(cmd.OutOrStdout())
		return nil
	}
	return cmd.Help()
}

// runPrepareE loads configuration and builds the shared decode stack before
// any command runs
func runPrepareE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}

	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}

	cli.setupLogging(cfg, cmd.ErrOrStderr())
	cli.config = cfg
	cli.registry = cli.newRegistry(cfg)
	cli.initializeCatalog(cfg)
	return nil
}

// loadAndValidateConfig loads configuration from flags and files, applies overrides, and validates
func loadAndValidateConfig(cmd *cobra.Command, cli *CLI) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = cli.configManager.LoadFromFile(configFile)
		if err != nil {
			slog.Error("config load failed", "file", configFile, "error", err)
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		cfg, err = cli.configManager.LoadConfig()
		if err != nil {
			slog.Error("config load failed", "error", err)
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	cfg = cli.configManager.ApplyEnvironmentOverrides(cfg)

	if logLevel != "" {
		cfg.LogLevel = logLevel
		slog.Debug("log level override applied", "value", logLevel)
	}

	if err := cli.configManager.ValidateConfig(cfg); err != nil {
		slog.Error("config validation failed", "error", err)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupLogging sends records at the configured level to stderr and, when
// file logging is enabled, every record to a rotated log file
func (c *CLI) setupLogging(cfg *config.Config, stderr io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelWarn
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}),
	}

	if cfg.FileLogging != nil && cfg.FileLogging.Enabled {
		logFilePath := c.configManager.ResolveLogFilePath(cfg.FileLogging.Filename)
		logDir := filepath.Dir(logFilePath)
		if err := c.fs.MkdirAll(logDir, 0755); err != nil {
			slog.Error("failed to create log directory, continuing without file logging", "path", logDir, "error", err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   logFilePath,
				MaxSize:    cfg.FileLogging.MaxSizeMB,
				MaxBackups: cfg.FileLogging.MaxBackups,
				MaxAge:     cfg.FileLogging.MaxAgeDays,
				Compress:   cfg.FileLogging.Compress,
			}
			handlers = append(handlers, slog.NewTextHandler(fileWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	}

	slog.SetDefault(slog.New(NewMultiLevelHandler(handlers...)))

	slog.Debug("logging setup completed",
		"level", level.String(),
		"handlers", len(handlers),
		"file_enabled", cfg.FileLogging != nil && cfg.FileLogging.Enabled)
}

// newRegistry wires the software codec behind the media codec format
func (c *CLI) newRegistry(cfg *config.Config) *audio.FormatRegistry {
	codec := softcodec.New(c.mediaFS, softcodec.Config{
		BufferCount:     cfg.Decoder.BufferCount,
		FramesPerBuffer: cfg.Decoder.FramesPerBuffer,
	})

	registry := audio.NewFormatRegistry()
	registry.Register(audio.NewMediaCodecFormat(codec, audio.ReaderOptions{
		EmptyChunkPolicy:     audio.EmptyChunkPolicy(cfg.Reader.EmptyChunkPolicy),
		MaxEmptyChunkRetries: cfg.Reader.MaxEmptyChunkRetries,
	}))
	return registry
}

// initializeCatalog opens the catalog if enabled. Failure leaves the CLI
// working without one.
func (c *CLI) initializeCatalog(cfg *config.Config) {
	if c.catalog != nil {
		return
	}
	if cfg.Catalog == nil || !cfg.Catalog.Enabled {
		slog.Debug("catalog disabled, skipping database initialization")
		return
	}

	dbPath := c.configManager.ResolveCatalogPath(cfg.Catalog.DatabasePath)
	cat, err := catalog.Open(dbPath)
	if err != nil {
		slog.Error("failed to open catalog, continuing without it", "path", dbPath, "error", err)
		return
	}
	c.catalog = cat
}

// recordSession stores a finished decode session. Errors are logged only.
func (c *CLI) recordSession(ctx context.Context, reader audio.SampleReader, path string, started time.Time, sessionErr error) {
	if c.catalog == nil {
		return
	}

	session := catalog.Session{
		Path:       path,
		Format:     reader.Info().FormatName,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if r, ok := reader.(interface{ Stats() audio.SessionStats }); ok {
		session.Stats = r.Stats()
	}
	if sessionErr != nil {
		session.Error = sessionErr.Error()
	}

	id, err := c.catalog.RecordSession(ctx, session)
	if err != nil {
		slog.Warn("failed to record session", "path", path, "error", err)
		return
	}
	slog.Debug("session recorded", "id", id, "path", path)
}

func (c *CLI) closeResources() {
	if c.catalog == nil {
		return
	}
	if err := c.catalog.Close(); err != nil {
		slog.Error("error closing catalog", "error", err)
	}
	c.catalog = nil
}
