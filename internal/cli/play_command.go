package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"codecbridge.dev/internal/playback"
	"github.com/spf13/cobra"
)

func newPlayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <file>",
		Short: "Play an audio file on the default output device",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlayE,
	}
	cmd.Flags().Float64("volume", 0, "Playback volume from 0.0 to 1.0 (default from config)")
	cmd.Flags().String("backend", "", "Audio backend: auto, malgo or oto (default from config)")
	cmd.Flags().Int("rate", 0, "Resample to this output rate in Hz (0 = source rate)")
	return cmd
}

func runPlayE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}

	volume := cli.config.Playback.Volume
	if cmd.Flags().Changed("volume") {
		volume, _ = cmd.Flags().GetFloat64("volume")
		if volume < 0.0 || volume > 1.0 {
			return fmt.Errorf("volume must be between 0.0 and 1.0, got %g", volume)
		}
	}

	backendType := cli.config.Playback.Backend
	if flag, _ := cmd.Flags().GetString("backend"); flag != "" {
		backendType = flag
	}
	if backendType == "" {
		backendType = "auto"
	}

	rate, _ := cmd.Flags().GetInt("rate")
	if rate < 0 {
		return fmt.Errorf("--rate must not be negative, got %d", rate)
	}

	backend, err := cli.backendFactory.CreateBackend(backendType)
	if err != nil {
		return fmt.Errorf("failed to create audio backend '%s': %w", backendType, err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Error("error closing audio backend", "backend", backend.Name(), "error", err)
		}
	}()

	path := args[0]
	reader, err := cli.registry.CreateReaderForFile(cli.mediaFS, path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	started := time.Now()
	err = playback.Play(ctx, backend, reader, playback.Options{
		Volume:     volume,
		OutputRate: rate,
	})
	cli.recordSession(context.WithoutCancel(ctx), reader, path, started, err)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "played %s on %s in %s\n", path, backend.Name(), time.Since(started).Round(time.Millisecond))
	return nil
}
