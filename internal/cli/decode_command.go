package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codecbridge.dev/internal/audio"
	"github.com/dustin/go-humanize"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"
)

// defaultBlockFrames is how many frames decode reads per call
const defaultBlockFrames = 4096

const (
	wavBitDepth  = 16
	wavFormatPCM = 1
)

func newDecodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <input> <output.wav>",
		Short: "Decode an audio file to 16-bit PCM WAV",
		Long: `Decode reads the input through the platform codec in blocks and writes the
frames to a 16-bit WAV file. --start and --length select a range in sample frames.`,
		Args: cobra.ExactArgs(2),
		RunE: runDecodeE,
	}
	cmd.Flags().Int64("start", 0, "First sample frame to decode")
	cmd.Flags().Int64("length", 0, "Number of sample frames to decode (0 = to the end)")
	cmd.Flags().Int("block", defaultBlockFrames, "Sample frames read per call")
	return cmd
}

func runDecodeE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}

	start, _ := cmd.Flags().GetInt64("start")
	length, _ := cmd.Flags().GetInt64("length")
	block, _ := cmd.Flags().GetInt("block")
	if start < 0 || length < 0 || block <= 0 {
		return fmt.Errorf("--start and --length must not be negative and --block must be positive")
	}

	input, output := args[0], args[1]
	reader, err := cli.registry.CreateReaderForFile(cli.mediaFS, input)
	if err != nil {
		return fmt.Errorf("open %s: %w", input, err)
	}

	started := time.Now()
	frames, err := cli.decodeToWav(reader, output, start, length, block)
	cli.recordSession(cmd.Context(), reader, input, started, err)
	if closeErr := reader.Close(); closeErr != nil {
		slog.Warn("failed to close reader", "path", input, "error", closeErr)
	}
	if err != nil {
		return err
	}

	size := "unknown size"
	if stat, statErr := cli.fs.Stat(output); statErr == nil {
		size = humanize.Bytes(uint64(stat.Size()))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "decoded %d frames from %s to %s (%s)\n", frames, input, output, size)
	return nil
}

// decodeToWav writes frames [start, start+length) of reader to output and
// returns how many frames were written. A zero length means to the end.
func (c *CLI) decodeToWav(reader audio.SampleReader, output string, start, length int64, block int) (int64, error) {
	info := reader.Info()

	end := info.LengthInSamples
	if length > 0 {
		end = min(start+length, info.LengthInSamples)
	}

	file, err := c.fs.Create(output)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", output, err)
	}

	encoder := wav.NewEncoder(file, info.SampleRate, wavBitDepth, info.NumChannels, wavFormatPCM)

	slog.Info("decoding to wav",
		"output", output,
		"sample_rate", info.SampleRate,
		"channels", info.NumChannels,
		"start", start,
		"end", end)

	buf := &goaudio.IntBuffer{}
	var written int64
	for pos := start; pos < end; {
		want := int(min(int64(block), end-pos))
		n, err := audio.ReadIntoBuffer(reader, buf, pos, want)
		if err != nil {
			return written, errors.Join(fmt.Errorf("read frames at %d: %w", pos, err), encoder.Close(), file.Close())
		}
		if n == 0 {
			break
		}
		if err := encoder.Write(buf); err != nil {
			return written, errors.Join(fmt.Errorf("write %s: %w", output, err), file.Close())
		}
		pos += int64(n)
		written += int64(n)
	}

	if err := encoder.Close(); err != nil {
		return written, errors.Join(fmt.Errorf("finish %s: %w", output, err), file.Close())
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", output, err)
	}

	slog.Info("decode finished", "output", output, "frames", written)
	return written, nil
}
