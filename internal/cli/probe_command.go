package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"codecbridge.dev/internal/catalog"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <file>...",
		Short: "Show sample rate, channels and length of audio files",
		Long: `Probe opens each file through the platform codec and reports its stream format.
Results are cached in the catalog until the file's size or modification time changes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runProbeE,
	}
	cmd.Flags().Bool("no-cache", false, "Ignore cached probes and decode the headers again")
	return cmd
}

// probeResult is one probed file as reported to the user
type probeResult struct {
	probe  catalog.Probe
	cached bool
	err    error
}

func runProbeE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}
	noCache, _ := cmd.Flags().GetBool("no-cache")

	results := make([]probeResult, 0, len(args))
	failed := 0
	for _, path := range args {
		probe, cached, err := cli.probeFile(cmd.Context(), path, !noCache)
		if err != nil {
			failed++
		}
		results = append(results, probeResult{probe: probe, cached: cached, err: err})
	}

	out := cmd.OutOrStdout()
	if cli.isInteractiveOutput(out) {
		printProbeTable(out, results)
	} else {
		printProbeLines(out, cmd.ErrOrStderr(), results)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be probed", failed, len(args))
	}
	return nil
}

// probeFile returns the stream metadata of path, from the catalog when it
// holds a probe for the file's current size and modification time
func (c *CLI) probeFile(ctx context.Context, path string, useCache bool) (catalog.Probe, bool, error) {
	stat, err := c.mediaFS.Stat(path)
	if err != nil {
		slog.Error("failed to stat audio file", "path", path, "error", err)
		return catalog.Probe{Path: path}, false, fmt.Errorf("stat %s: %w", path, err)
	}

	if useCache && c.catalog != nil {
		probe, ok, err := c.catalog.LookupProbe(ctx, path, stat.Size(), stat.ModTime())
		if err != nil {
			slog.Warn("catalog lookup failed, probing file", "path", path, "error", err)
		} else if ok {
			slog.Debug("probe served from catalog", "path", path)
			return probe, true, nil
		}
	}

	reader, err := c.registry.CreateReaderForFile(c.mediaFS, path)
	if err != nil {
		return catalog.Probe{Path: path}, false, err
	}
	info := reader.Info()
	if err := reader.Close(); err != nil {
		slog.Warn("failed to close reader after probe", "path", path, "error", err)
	}

	probe := catalog.Probe{
		Path:            path,
		Size:            stat.Size(),
		ModTime:         stat.ModTime(),
		Format:          info.FormatName,
		SampleRate:      info.SampleRate,
		Channels:        info.NumChannels,
		LengthInSamples: info.LengthInSamples,
	}

	if c.catalog != nil {
		if err := c.catalog.RecordProbe(ctx, probe); err != nil {
			slog.Warn("failed to cache probe", "path", path, "error", err)
		}
	}
	return probe, false, nil
}

func printProbeLines(out, errOut io.Writer, results []probeResult) {
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(errOut, "path=%s error=%q\n", r.probe.Path, r.err.Error())
			continue
		}
		p := r.probe
		fmt.Fprintf(out, "path=%s format=%q sample_rate=%d channels=%d length=%d duration=%s size=%q cached=%t\n",
			p.Path, p.Format, p.SampleRate, p.Channels, p.LengthInSamples,
			p.Duration(), humanize.Bytes(uint64(p.Size)), r.cached)
	}
}

func printProbeTable(out io.Writer, results []probeResult) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			rows = append(rows, []string{r.probe.Path, errorStyle.Render(r.err.Error()), "", "", "", "", ""})
			continue
		}
		p := r.probe
		source := "decoded"
		if r.cached {
			source = "catalog"
		}
		rows = append(rows, []string{
			p.Path,
			strconv.Itoa(p.SampleRate) + " Hz",
			strconv.Itoa(p.Channels),
			strconv.FormatInt(p.LengthInSamples, 10),
			p.Duration().String(),
			humanize.Bytes(uint64(p.Size)),
			source,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"File", "Rate", "Channels", "Samples", "Duration", "Size", "Source"},
		rows))
}
