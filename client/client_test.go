package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-board/api"
	"prism-board/board"
	"prism-board/domain"
	"prism-board/storage"
)

type fixture struct {
	srv   *httptest.Server
	store *storage.SQLStore
	todo  domain.List
	doing domain.List
	tasks []domain.Task
}

// newFixture serves a seeded board b1 ("todo": a, b; "doing": empty). wrap
// may intercept requests before they reach the API.
func newFixture(t *testing.T, withStream bool, wrap func(http.Handler) http.Handler) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQL(ctx, storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.ApplyMigrations(ctx, db, storage.DriverSQLite))
	store := storage.NewSQLStore(db, storage.DriverSQLite)

	f := &fixture{store: store}
	_, err = store.CreateBoard(ctx, "b1", "Sprint")
	require.NoError(t, err)
	f.todo, _, err = store.CreateList(ctx, "b1", domain.NewList{Name: "todo"})
	require.NoError(t, err)
	f.doing, _, err = store.CreateList(ctx, "b1", domain.NewList{Name: "doing"})
	require.NoError(t, err)
	for _, title := range []string{"a", "b"} {
		task, _, err := store.CreateTask(ctx, "b1", domain.NewTask{ListID: f.todo.ID, Title: title})
		require.NoError(t, err)
		f.tasks = append(f.tasks, task)
	}

	logger, _ := test.NewNullLogger()
	e := echo.New()
	var broker *api.Broker
	var events api.Publisher
	if withStream {
		broker = api.NewBroker()
		events = broker
	}
	api.Register(e, store, nil, events, broker, logger)

	var h http.Handler = e
	if wrap != nil {
		h = wrap(e)
	}
	f.srv = httptest.NewServer(h)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) client() *Client {
	logger, _ := test.NewNullLogger()
	return New(f.srv.URL, logger)
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []board.Failure
}

func (n *recordingNotifier) NotifyFailure(fl board.Failure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, fl)
}

func (n *recordingNotifier) all() []board.Failure {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]board.Failure(nil), n.failures...)
}

func TestFetchSnapshotAndCreate(t *testing.T) {
	f := newFixture(t, false, nil)
	c := f.client()
	ctx := context.Background()

	snap, err := c.FetchSnapshot(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalTasks)
	assert.Equal(t, 2, snap.TotalLists)

	task, err := c.CreateTask(ctx, "b1", domain.NewTask{ListID: f.doing.ID, Title: "c"})
	require.NoError(t, err)
	assert.Equal(t, f.doing.ID, task.ListID)
	assert.Equal(t, 0, task.Position)

	list, err := c.CreateList(ctx, "b1", domain.NewList{Name: "done"})
	require.NoError(t, err)
	assert.Equal(t, 2, list.Position)

	require.NoError(t, c.DeleteTask(ctx, "b1", task.ID))
	snap, err = c.FetchSnapshot(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalTasks)
	assert.Equal(t, 3, snap.TotalLists)
}

func TestStatusErrorsUnwrapToDomain(t *testing.T) {
	f := newFixture(t, false, nil)
	c := f.client()
	ctx := context.Background()

	_, err := c.FetchSnapshot(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Status)

	err = c.Board("b1").UpdateTaskPositions(ctx, []domain.TaskPositionChange{{TaskID: f.tasks[0].ID, NewListID: "nowhere"}})
	require.ErrorIs(t, err, domain.ErrInvalidMove)
}

func TestBoardRemoteSendsIdempotencyKeys(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	f := newFixture(t, false, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				mu.Lock()
				keys = append(keys, r.Header.Get(idempotencyHeader))
				mu.Unlock()
			}
			next.ServeHTTP(w, r)
		})
	})
	remote := f.client().Board("b1")
	ctx := context.Background()

	require.NoError(t, remote.UpdateTaskPositions(ctx, []domain.TaskPositionChange{{TaskID: f.tasks[0].ID, NewListID: f.doing.ID}}))
	require.NoError(t, remote.UpdateListPosition(ctx, domain.ListPositionChange{ListID: f.doing.ID, NewPosition: 0}))
	require.NoError(t, remote.UpdateTaskPositions(ctx, nil))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.NotEqual(t, keys[0], keys[1])

	snap, err := f.store.FetchBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, f.doing.ID, snap.Lists[0].ID)
}

func TestBoardRemoteRetriesWithSameKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	f := newFixture(t, false, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			mu.Lock()
			keys = append(keys, r.Header.Get(idempotencyHeader))
			first := len(keys) == 1
			mu.Unlock()
			if first {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	before, err := f.store.FetchBoard(context.Background(), "b1")
	require.NoError(t, err)
	remote := f.client().Board("b1")
	remote.Backoff = time.Millisecond

	require.NoError(t, remote.UpdateTaskPositions(context.Background(),
		[]domain.TaskPositionChange{{TaskID: f.tasks[0].ID, NewListID: f.doing.ID}}))

	mu.Lock()
	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
	mu.Unlock()

	snap, err := f.store.FetchBoard(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, before.Board.Version+1, snap.Board.Version, "the change is applied once")
}

func TestBoardRemoteDoesNotRetryClientErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	f := newFixture(t, false, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls++
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	})
	remote := f.client().Board("b1")
	remote.Backoff = time.Millisecond

	err := remote.UpdateListPosition(context.Background(), domain.ListPositionChange{ListID: "ghost", NewPosition: 0})
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestViewPersistsDebouncedMoves(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()
	v, err := OpenView(ctx, f.client(), "b1", ViewOptions{TaskDelay: 10 * time.Millisecond, PollInterval: time.Hour})
	require.NoError(t, err)
	defer v.Close()

	a, b := f.tasks[0], f.tasks[1]
	moves, ok := v.MoveTask(a.ID, f.doing.ID, 0)
	require.True(t, ok)
	require.Len(t, moves, 2)

	g := v.Reconciler().Grouping()
	assert.Equal(t, a.ID, g[f.doing.ID][0].ID)

	require.Eventually(t, func() bool { return len(v.Reconciler().PendingTasks()) == 0 }, 2*time.Second, 10*time.Millisecond)

	snap, err := f.store.FetchBoard(ctx, "b1")
	require.NoError(t, err)
	byID := map[string]domain.Task{}
	for _, task := range snap.Tasks {
		byID[task.ID] = task
	}
	assert.Equal(t, f.doing.ID, byID[a.ID].ListID)
	assert.Equal(t, 0, byID[a.ID].Position)
	assert.Equal(t, f.todo.ID, byID[b.ID].ListID)
	assert.Equal(t, 0, byID[b.ID].Position)
}

func TestViewFlushAndListMove(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()
	v, err := OpenView(ctx, f.client(), "b1", ViewOptions{ListDelay: time.Hour, PollInterval: time.Hour})
	require.NoError(t, err)
	defer v.Close()

	require.True(t, v.MoveList(f.todo.ID, f.doing.ID))
	assert.Equal(t, []string{f.doing.ID, f.todo.ID}, v.Reconciler().ListOrder())
	assert.Equal(t, 1, v.Flush())
	assert.Empty(t, v.Reconciler().PendingLists())

	snap, err := f.store.FetchBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, f.doing.ID, snap.Lists[0].ID)
	assert.Equal(t, f.todo.ID, snap.Lists[1].ID)
}

func TestViewNotifiesOnFailedBatch(t *testing.T) {
	f := newFixture(t, false, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/tasks/positions") {
				http.Error(w, "down", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	notifier := &recordingNotifier{}
	v, err := OpenView(context.Background(), f.client(), "b1", ViewOptions{TaskDelay: time.Hour, PollInterval: time.Hour, Notifier: notifier})
	require.NoError(t, err)
	defer v.Close()

	_, ok := v.MoveTask(f.tasks[0].ID, f.doing.ID, 0)
	require.True(t, ok)
	v.Flush()

	failures := notifier.all()
	require.Len(t, failures, 1)
	assert.Equal(t, board.KindTask, failures[0].Kind)
	assert.Len(t, failures[0].FailedIDs, 2)
	assert.Empty(t, v.Reconciler().PendingTasks())
	// no rollback: the optimistic move stays
	assert.Equal(t, f.tasks[0].ID, v.Reconciler().Grouping()[f.doing.ID][0].ID)
}

func TestFeedStreamsRefreshes(t *testing.T) {
	f := newFixture(t, true, nil)
	c := f.client()
	v, err := OpenView(context.Background(), c, "b1", ViewOptions{PollInterval: time.Hour})
	require.NoError(t, err)
	defer v.Close()

	_, err = c.CreateTask(context.Background(), "b1", domain.NewTask{ListID: f.doing.ID, Title: "from elsewhere"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return v.Reconciler().Grouping().TaskCount() == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeedFallsBackToPolling(t *testing.T) {
	f := newFixture(t, false, nil)
	c := f.client()
	v, err := OpenView(context.Background(), c, "b1", ViewOptions{PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer v.Close()

	_, err = f.store.CreateTask(context.Background(), "b1", domain.NewTask{ListID: f.todo.ID, Title: "c"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return v.Reconciler().Grouping().TaskCount() == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestViewCloseStopsFeed(t *testing.T) {
	f := newFixture(t, true, nil)
	v, err := OpenView(context.Background(), f.client(), "b1", ViewOptions{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	v.Close()
	v.Close()
	assert.True(t, v.Reconciler().Closed())
	moves, _ := v.MoveTask(f.tasks[0].ID, f.doing.ID, 0)
	assert.Empty(t, moves)
	assert.Empty(t, v.Reconciler().PendingTasks())
}

func TestOpenViewErrors(t *testing.T) {
	f := newFixture(t, false, nil)
	_, err := OpenView(context.Background(), f.client(), "", ViewOptions{})
	require.Error(t, err)
	_, err = OpenView(context.Background(), f.client(), "missing", ViewOptions{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLogNotifier(t *testing.T) {
	logger, hook := test.NewNullLogger()
	LogNotifier{Logger: logger}.NotifyFailure(board.Failure{
		BoardID:   "b1",
		Kind:      board.KindList,
		FailedIDs: []string{"l1"},
		Total:     2,
		Err:       errors.New("boom"),
	})
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.ErrorLevel, entry.Level)
	assert.Equal(t, "b1", entry.Data["boardId"])
	assert.Equal(t, 2, entry.Data["total"])
}
