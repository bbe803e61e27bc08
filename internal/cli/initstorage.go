package cli

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-board/config"
	"prism-board/domain"
	"prism-board/storage"
)

// NewInitStorageCommand creates the init-storage command.
func NewInitStorageCommand(opts *RootOptions) *cobra.Command {
	var seed string
	cmd := &cobra.Command{
		Use:   "init-storage",
		Short: "Create tables and queues or apply SQL migrations",
		Long: `Prepare the configured storage backend.

For the sql backend the embedded migrations are applied. For the table
backend the board, list and task tables and the events queue are created.
Existing resources are left untouched.

Example:
  prism-board init-storage
  prism-board init-storage --seed demo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initStorage(cmd.Context(), opts.Config, opts.Logger, seed)
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "also create a demo board with this id")
	return cmd
}

// seeder is the subset of a store needed to create a demo board.
type seeder interface {
	CreateBoard(ctx context.Context, id, name string) (domain.Board, error)
	CreateList(ctx context.Context, boardID string, list domain.NewList) (domain.List, int64, error)
	CreateTask(ctx context.Context, boardID string, task domain.NewTask) (domain.Task, int64, error)
}

var (
	_ seeder = (*storage.SQLStore)(nil)
	_ seeder = (*storage.TableStore)(nil)
)

func initStorage(ctx context.Context, cfg config.Config, logger *log.Logger, seed string) error {
	logger.WithField("backend", cfg.Backend).Info("storage init starting")

	var store seeder
	switch cfg.Backend {
	case config.BackendTable:
		if err := storage.CreateTables(ctx, cfg.StorageConnectionString, cfg.BoardsTable, cfg.ListsTable, cfg.TasksTable); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
		ts, err := storage.NewTableStore(cfg.StorageConnectionString, storage.TableNames{
			Boards: cfg.BoardsTable,
			Lists:  cfg.ListsTable,
			Tasks:  cfg.TasksTable,
		})
		if err != nil {
			return err
		}
		store = ts
	default:
		db, err := storage.OpenSQL(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := storage.ApplyMigrations(ctx, db, cfg.DatabaseDriver); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		store = storage.NewSQLStore(db, cfg.DatabaseDriver)
	}

	if cfg.EventsQueue != "" {
		if err := storage.CreateQueues(ctx, cfg.StorageConnectionString, cfg.EventsQueue); err != nil {
			return fmt.Errorf("create queues: %w", err)
		}
	}

	if seed != "" {
		if err := seedBoard(ctx, store, seed); err != nil {
			return fmt.Errorf("seed board %s: %w", seed, err)
		}
		logger.WithField("boardId", seed).Info("demo board created")
	}
	logger.Info("storage init complete")
	return nil
}

var demoBoard = []struct {
	list  string
	color string
	tasks []string
}{
	{"Backlog", "#94a3b8", []string{"Sketch onboarding flow", "Collect feedback from beta users"}},
	{"In progress", "#f59e0b", []string{"Drag and drop between lists", "Websocket refresh"}},
	{"Done", "#22c55e", []string{"Board snapshot endpoint"}},
}

func seedBoard(ctx context.Context, store seeder, boardID string) error {
	if _, err := store.CreateBoard(ctx, boardID, "Demo board"); err != nil {
		return err
	}
	for _, l := range demoBoard {
		list, _, err := store.CreateList(ctx, boardID, domain.NewList{Name: l.list, Color: l.color})
		if err != nil {
			return err
		}
		for _, title := range l.tasks {
			if _, _, err := store.CreateTask(ctx, boardID, domain.NewTask{ListID: list.ID, Title: title}); err != nil {
				return err
			}
		}
	}
	return nil
}
