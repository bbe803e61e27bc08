package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"prism-board/client"
	"prism-board/domain"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "watch <board-id>",
		Short: "Print the board whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := opts.Config.BaseURL
			if baseURL != "" {
				url = baseURL
			}
			c := client.New(url, opts.Logger)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, c, args[0], opts.Config.PollInterval, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "board API base URL (default $PRISM_BOARD_URL)")
	return cmd
}

func watch(ctx context.Context, c *client.Client, boardID string, interval time.Duration, out io.Writer) error {
	snap, err := c.FetchSnapshot(ctx, boardID)
	if err != nil {
		return err
	}
	printBoard(out, snap)
	last := snap.Board.Version
	client.NewFeed(c, boardID, interval, func(s domain.Snapshot) {
		if s.Board.Version == last {
			return
		}
		last = s.Board.Version
		printBoard(out, s)
	}).Run(ctx)
	return nil
}

func printBoard(out io.Writer, snap domain.Snapshot) {
	byList := make(map[string][]domain.Task, len(snap.Lists))
	for _, t := range snap.Tasks {
		byList[t.ListID] = append(byList[t.ListID], t)
	}
	fmt.Fprintf(out, "== %s (v%d)\n", snap.Board.Name, snap.Board.Version)
	for _, l := range snap.Lists {
		fmt.Fprintf(out, "%s [%s]\n", l.Name, l.ID)
		for _, t := range byList[l.ID] {
			mark := " "
			if t.Done {
				mark = "x"
			}
			fmt.Fprintf(out, "  %d. [%s] %s (%s)\n", t.Position, mark, strings.TrimSpace(t.Title), t.ID)
		}
	}
}
