package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"codecbridge.dev/internal/midisetup"
	"github.com/spf13/cobra"
)

func newMidiCommand() *cobra.Command {
	midiCmd := &cobra.Command{
		Use:   "midi",
		Short: "Inspect MIDI devices",
	}

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List the MIDI devices currently available",
		Args:  cobra.NoArgs,
		RunE:  runMidiDevicesE,
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the MIDI device list whenever it changes",
		Args:  cobra.NoArgs,
		RunE:  runMidiWatchE,
	}
	watchCmd.Flags().Duration("duration", 0, "Stop watching after this long (0 = until interrupted)")

	midiCmd.AddCommand(devicesCmd, watchCmd)
	return midiCmd
}

// newMidiSetup creates a registry polling at the configured interval
func (c *CLI) newMidiSetup() *midisetup.Setup {
	opts := append([]midisetup.Option{midisetup.WithPollInterval(c.config.MidiPollInterval())}, c.midiOptions...)
	return midisetup.New(opts...)
}

func runMidiDevicesE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}

	setup := cli.newMidiSetup()
	defer setup.Close()

	devices, err := setup.Devices()
	if err != nil {
		return err
	}
	printDevices(cmd.OutOrStdout(), devices)
	return nil
}

// devicePrinter prints the device list each time the registry reports a change
type devicePrinter struct {
	mu      sync.Mutex
	setup   *midisetup.Setup
	out     io.Writer
	changes int
}

func (p *devicePrinter) MidiDevicesChanged() {
	devices, err := p.setup.Devices()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes++
	if err != nil {
		slog.Warn("failed to list MIDI devices after change", "error", err)
		return
	}
	fmt.Fprintf(p.out, "devices changed at %s\n", time.Now().Format(time.TimeOnly))
	printDevices(p.out, devices)
}

func (p *devicePrinter) changeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changes
}

func runMidiWatchE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}
	duration, _ := cmd.Flags().GetDuration("duration")

	setup := cli.newMidiSetup()
	defer setup.Close()

	printer := &devicePrinter{setup: setup, out: cmd.OutOrStdout()}
	midisetup.AddListener(setup, printer)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if err := setup.Start(ctx); err != nil {
		return err
	}

	devices, err := setup.Devices()
	if err != nil {
		return err
	}
	printer.mu.Lock()
	fmt.Fprintln(printer.out, "watching MIDI devices")
	printDevices(printer.out, devices)
	printer.mu.Unlock()

	<-ctx.Done()

	if err := setup.Close(); err != nil {
		return err
	}
	midisetup.RemoveListener(setup, printer)
	fmt.Fprintf(cmd.OutOrStdout(), "stopped after %d change(s)\n", printer.changeCount())
	return nil
}

func printDevices(out io.Writer, devices []midisetup.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(out, "no MIDI devices")
		return
	}
	for _, d := range devices {
		fmt.Fprintf(out, "id=%q name=%q", d.ID, d.Name)
		if d.Manufacturer != "" {
			fmt.Fprintf(out, " manufacturer=%q", d.Manufacturer)
		}
		fmt.Fprintln(out)
	}
}
