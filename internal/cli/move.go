package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"prism-board/board"
	"prism-board/client"
	"prism-board/config"
)

// NewMoveCommand creates the move command.
func NewMoveCommand(opts *RootOptions) *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "move <board-id> <task-id> <list-id> <index>",
		Short: "Move a task and wait until the change is saved",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[3])
			if err != nil || index < 0 {
				return fmt.Errorf("invalid index %q", args[3])
			}
			c := client.New(urlOrDefault(baseURL, opts.Config), opts.Logger)
			return moveTask(cmd.Context(), c, opts.Config, args[0], args[1], args[2], index, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "board API base URL (default $PRISM_BOARD_URL)")
	return cmd
}

// NewMoveListCommand creates the move-list command.
func NewMoveListCommand(opts *RootOptions) *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "move-list <board-id> <list-id> <target-list-id>",
		Short: "Drop a list onto another list's slot",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(urlOrDefault(baseURL, opts.Config), opts.Logger)
			return moveList(cmd.Context(), c, opts.Config, args[0], args[1], args[2], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "board API base URL (default $PRISM_BOARD_URL)")
	return cmd
}

func urlOrDefault(flag string, cfg config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.BaseURL
}

// failureCollector keeps the failures of a one-shot view.
type failureCollector struct {
	failures []board.Failure
}

func (f *failureCollector) NotifyFailure(fl board.Failure) { f.failures = append(f.failures, fl) }

func (f *failureCollector) err() error {
	if len(f.failures) == 0 {
		return nil
	}
	return fmt.Errorf("save failed for %v: %w", f.failures[0].FailedIDs, f.failures[0].Err)
}

func openOneShot(ctx context.Context, c *client.Client, cfg config.Config, boardID string, notifier board.Notifier) (*client.View, error) {
	return client.OpenView(ctx, c, boardID, client.ViewOptions{
		TaskDelay:    cfg.TaskDebounce,
		ListDelay:    cfg.ListDebounce,
		WriteTimeout: cfg.WriteTimeout,
		PollInterval: cfg.PollInterval,
		Notifier:     notifier,
	})
}

func moveTask(ctx context.Context, c *client.Client, cfg config.Config, boardID, taskID, listID string, index int, out io.Writer) error {
	failures := &failureCollector{}
	v, err := openOneShot(ctx, c, cfg, boardID, failures)
	if err != nil {
		return err
	}
	defer v.Close()

	moves, ok := v.MoveTask(taskID, listID, index)
	if !ok {
		return fmt.Errorf("unknown task %s or list %s", taskID, listID)
	}
	v.Flush()
	if err := failures.err(); err != nil {
		return err
	}
	for _, m := range moves {
		fmt.Fprintf(out, "%s: %s[%d] -> %s[%d]\n", m.TaskID, m.FromListID, m.FromIndex, m.ToListID, m.ToIndex)
	}
	return nil
}

func moveList(ctx context.Context, c *client.Client, cfg config.Config, boardID, dragged, target string, out io.Writer) error {
	failures := &failureCollector{}
	v, err := openOneShot(ctx, c, cfg, boardID, failures)
	if err != nil {
		return err
	}
	defer v.Close()

	if !v.MoveList(dragged, target) {
		return fmt.Errorf("cannot move list %s onto %s", dragged, target)
	}
	v.Flush()
	if err := failures.err(); err != nil {
		return err
	}
	fmt.Fprintln(out, "lists:", v.Reconciler().ListOrder())
	return nil
}
