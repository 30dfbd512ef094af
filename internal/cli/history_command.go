package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"codecbridge.dev/internal/catalog"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var errCatalogDisabled = errors.New("catalog is disabled or unavailable")

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent decode and playback sessions",
		Long: `History lists sessions recorded in the catalog, newest first.

--preset wins over --since/--until, which win over --days. --since and --until
accept natural dates such as "yesterday" or "3 days ago".`,
		Args: cobra.NoArgs,
		RunE: runHistoryE,
	}
	cmd.Flags().Int("days", 0, "Only sessions from the last N days")
	cmd.Flags().String("preset", "", "Date preset: today, yesterday, week, last-week, month, last-month, all")
	cmd.Flags().String("since", "", "Only sessions started at or after this date")
	cmd.Flags().String("until", "", "Only sessions started at or before this date")
	cmd.Flags().String("path", "", "Only sessions for this file")
	cmd.Flags().Int("limit", catalog.DefaultSessionLimit, "Maximum number of sessions")
	return cmd
}

func runHistoryE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}
	if cli.catalog == nil {
		return errCatalogDisabled
	}

	filter, err := historyFilter(cmd, time.Now())
	if err != nil {
		return err
	}

	sessions, err := cli.catalog.RecentSessions(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("query sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "no sessions recorded")
		return nil
	}
	if cli.isInteractiveOutput(out) {
		printHistoryTable(out, sessions)
	} else {
		printHistoryLines(out, sessions)
	}
	return nil
}

// historyFilter builds a session filter from the command's flags
func historyFilter(cmd *cobra.Command, now time.Time) (catalog.SessionFilter, error) {
	days, _ := cmd.Flags().GetInt("days")
	preset, _ := cmd.Flags().GetString("preset")
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	path, _ := cmd.Flags().GetString("path")
	limit, _ := cmd.Flags().GetInt("limit")

	if days < 0 {
		return catalog.SessionFilter{}, fmt.Errorf("--days must not be negative, got %d", days)
	}

	filter := catalog.SessionFilter{
		Days:       days,
		DatePreset: preset,
		Path:       path,
		Limit:      limit,
	}

	if preset != "" {
		if _, _, err := catalog.ParseDatePreset(preset, now); err != nil {
			return catalog.SessionFilter{}, err
		}
	}

	var err error
	if since != "" {
		if filter.Since, err = catalog.ParseNaturalDate(since, now); err != nil {
			return catalog.SessionFilter{}, err
		}
	}
	if until != "" {
		if filter.Until, err = catalog.ParseNaturalDate(until, now); err != nil {
			return catalog.SessionFilter{}, err
		}
	}

	return filter, nil
}

func printHistoryLines(out io.Writer, sessions []catalog.Session) {
	for _, s := range sessions {
		fmt.Fprintf(out, "id=%s started=%s path=%s samples=%d seeks=%d chunks=%d empty_chunks=%d took=%s",
			s.ID, s.StartedAt.Format(time.RFC3339), s.Path, s.Stats.SamplesRead, s.Stats.Seeks,
			s.Stats.ChunksDecoded, s.Stats.EmptyChunks, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
		if s.Error != "" {
			fmt.Fprintf(out, " error=%q", s.Error)
		}
		fmt.Fprintln(out)
	}
}

func printHistoryTable(out io.Writer, sessions []catalog.Session) {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		status := "ok"
		if s.Error != "" {
			status = errorStyle.Render(s.Error)
		}
		rows = append(rows, []string{
			humanize.Time(s.StartedAt),
			s.Path,
			strconv.FormatInt(s.Stats.SamplesRead, 10),
			strconv.Itoa(s.Stats.Seeks),
			strconv.Itoa(s.Stats.ChunksDecoded),
			status,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Started", "File", "Samples", "Seeks", "Chunks", "Status"},
		rows))
}
