package cli

import (
	"fmt"
	"io"
	"strings"

	"codecbridge.dev/internal/softcodec"
	"github.com/spf13/cobra"
)

func newFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List readable formats, codec extensions and playback backends",
		Args:  cobra.NoArgs,
		RunE:  runFormatsE,
	}
}

func runFormatsE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cli.isInteractiveOutput(out) {
		rows := make([][]string, 0, len(cli.registry.Formats())+2)
		for _, format := range cli.registry.Formats() {
			rows = append(rows, []string{"format", format.Name(), strings.Join(format.Extensions(), " ")})
		}
		rows = append(rows,
			[]string{"codec", "software codec", strings.Join(softcodec.SupportedExtensions(), " ")},
			[]string{"playback", "backends", strings.Join(cli.backendFactory.GetSupportedBackends(), " ")},
		)
		fmt.Fprintln(out, renderTable([]string{"Kind", "Name", "Supports"}, rows))
		return nil
	}

	printFormatLines(out, cli)
	return nil
}

func printFormatLines(out io.Writer, cli *CLI) {
	for _, format := range cli.registry.Formats() {
		fmt.Fprintf(out, "format=%q extensions=%q\n", format.Name(), strings.Join(format.Extensions(), " "))
	}
	fmt.Fprintf(out, "codec=%q extensions=%q\n", "software codec", strings.Join(softcodec.SupportedExtensions(), " "))
	fmt.Fprintf(out, "backends=%q\n", strings.Join(cli.backendFactory.GetSupportedBackends(), " "))
}
