package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"prism-board/domain"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// OpenSQL opens and pings a database for driver ("sqlite" or "pgx").
func OpenSQL(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == DriverSQLite {
		// a single connection serializes writers and keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return db, nil
}

// SQLStore keeps boards in a relational database. Every write runs in a
// transaction guarded by a compare-and-set on the board version.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rebind rewrites ? placeholders to $n for postgres.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) q(query string) string { return rebind(s.driver, query) }

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateBoard inserts an empty board.
func (s *SQLStore) CreateBoard(ctx context.Context, id, name string) (domain.Board, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.db.ExecContext(ctx, s.q(`INSERT INTO boards (id, name, version) VALUES (?, ?, 0)`), id, name); err != nil {
		return domain.Board{}, fmt.Errorf("insert board: %w", err)
	}
	return domain.Board{ID: id, Name: name}, nil
}

func (s *SQLStore) FetchBoard(ctx context.Context, boardID string) (domain.Snapshot, error) {
	st, err := s.load(ctx, s.db, boardID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return st.snapshot(), nil
}

func (s *SQLStore) UpdateTaskPositions(ctx context.Context, boardID string, changes []domain.TaskPositionChange) (int64, error) {
	return s.mutate(ctx, boardID, func(st *boardState) error {
		for _, c := range changes {
			if err := st.moveTask(c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) MoveList(ctx context.Context, boardID, listID string, newPosition int) (int64, error) {
	return s.mutate(ctx, boardID, func(st *boardState) error {
		return st.moveList(listID, newPosition)
	})
}

func (s *SQLStore) CreateList(ctx context.Context, boardID string, nl domain.NewList) (domain.List, int64, error) {
	var created domain.List
	version, err := s.mutate(ctx, boardID, func(st *boardState) error {
		created = st.addList(domain.List{ID: uuid.NewString(), Name: nl.Name, Color: nl.Color})
		return nil
	})
	return created, version, err
}

func (s *SQLStore) CreateTask(ctx context.Context, boardID string, nt domain.NewTask) (domain.Task, int64, error) {
	var created domain.Task
	version, err := s.mutate(ctx, boardID, func(st *boardState) error {
		var err error
		created, err = st.addTask(domain.Task{ID: uuid.NewString(), Title: nt.Title, Notes: nt.Notes, ListID: nt.ListID})
		return err
	})
	return created, version, err
}

func (s *SQLStore) DeleteTask(ctx context.Context, boardID, taskID string) (int64, error) {
	return s.mutate(ctx, boardID, func(st *boardState) error {
		return st.deleteTask(taskID)
	})
}

var errVersionRace = errors.New("board version changed")

func (s *SQLStore) mutate(ctx context.Context, boardID string, fn func(*boardState) error) (int64, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		version, err := s.mutateOnce(ctx, boardID, fn)
		if errors.Is(err, errVersionRace) {
			continue
		}
		return version, err
	}
	return 0, fmt.Errorf("board %s: %w", boardID, domain.ErrConcurrencyConflict)
}

func (s *SQLStore) mutateOnce(ctx context.Context, boardID string, fn func(*boardState) error) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st, err := s.load(ctx, tx, boardID)
	if err != nil {
		return 0, err
	}
	if err := fn(st); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, s.q(`UPDATE boards SET version = version + 1 WHERE id = ? AND version = ?`), boardID, st.board.Version)
	if err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	} else if n == 0 {
		return 0, errVersionRace
	}

	for _, l := range st.addedLists {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO lists (id, board_id, name, color, position) VALUES (?, ?, ?, ?, ?)`),
			l.ID, boardID, l.Name, l.Color, l.Position); err != nil {
			return 0, fmt.Errorf("insert list: %w", err)
		}
	}
	for _, l := range st.changedLists() {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE lists SET position = ? WHERE id = ? AND board_id = ?`), l.Position, l.ID, boardID); err != nil {
			return 0, fmt.Errorf("update list %s: %w", l.ID, err)
		}
	}
	for _, id := range st.deletedTasks {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM tasks WHERE id = ? AND board_id = ?`), id, boardID); err != nil {
			return 0, fmt.Errorf("delete task %s: %w", id, err)
		}
	}
	for _, t := range st.addedTasks {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO tasks (id, board_id, list_id, title, notes, position, done) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			t.ID, boardID, t.ListID, t.Title, t.Notes, t.Position, t.Done); err != nil {
			return 0, fmt.Errorf("insert task: %w", err)
		}
	}
	for _, t := range st.changedTasks() {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE tasks SET list_id = ?, position = ? WHERE id = ? AND board_id = ?`),
			t.ListID, t.Position, t.ID, boardID); err != nil {
			return 0, fmt.Errorf("update task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return st.board.Version + 1, nil
}

func (s *SQLStore) load(ctx context.Context, q queryer, boardID string) (*boardState, error) {
	var board domain.Board
	err := q.QueryRowContext(ctx, s.q(`SELECT id, name, version FROM boards WHERE id = ?`), boardID).
		Scan(&board.ID, &board.Name, &board.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}

	rows, err := q.QueryContext(ctx, s.q(`SELECT id, name, color, position FROM lists WHERE board_id = ? ORDER BY position, id`), boardID)
	if err != nil {
		return nil, fmt.Errorf("load lists: %w", err)
	}
	var lists []domain.List
	for rows.Next() {
		l := domain.List{BoardID: boardID}
		if err := rows.Scan(&l.ID, &l.Name, &l.Color, &l.Position); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load lists: %w", err)
	}

	rows, err = q.QueryContext(ctx, s.q(`SELECT id, list_id, title, notes, position, done FROM tasks WHERE board_id = ? ORDER BY list_id, position, id`), boardID)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.ListID, &t.Title, &t.Notes, &t.Position, &t.Done); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	return newBoardState(board, lists, tasks), nil
}
