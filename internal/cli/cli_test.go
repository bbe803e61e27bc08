package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-board/client"
	"prism-board/config"
	"prism-board/domain"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DatabaseURL = "file:" + filepath.Join(t.TempDir(), "board.db")
	cfg.PollInterval = 20 * time.Millisecond
	return cfg
}

// startSeeded initializes storage with the demo board and serves it.
func startSeeded(t *testing.T, cfg config.Config) (*httptest.Server, *client.Client) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	ctx := context.Background()
	require.NoError(t, initStorage(ctx, cfg, logger, "demo"))

	srv, err := newServer(ctx, cfg, logger)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts, client.New(ts.URL, logger)
}

func fetch(t *testing.T, c *client.Client) domain.Snapshot {
	t.Helper()
	snap, err := c.FetchSnapshot(context.Background(), "demo")
	require.NoError(t, err)
	return snap
}

func TestInitStorageSeedsDemoBoard(t *testing.T) {
	cfg := testConfig(t)
	ts, c := startSeeded(t, cfg)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	snap := fetch(t, c)
	assert.Equal(t, 3, snap.TotalLists)
	assert.Equal(t, 5, snap.TotalTasks)
	assert.Equal(t, "Backlog", snap.Lists[0].Name)

	logger, _ := test.NewNullLogger()
	// migrations are idempotent; seeding the same id twice is not
	require.NoError(t, initStorage(context.Background(), cfg, logger, ""))
	require.Error(t, initStorage(context.Background(), cfg, logger, "demo"))
}

func TestMoveTaskCommand(t *testing.T) {
	cfg := testConfig(t)
	_, c := startSeeded(t, cfg)
	snap := fetch(t, c)
	backlog, done := snap.Lists[0], snap.Lists[2]
	first := snap.Tasks[0]
	require.Equal(t, backlog.ID, first.ListID)

	var out bytes.Buffer
	require.NoError(t, moveTask(context.Background(), c, cfg, "demo", first.ID, done.ID, 0, &out))
	assert.Contains(t, out.String(), first.ID+": "+backlog.ID+"[0] -> "+done.ID+"[0]")

	snap = fetch(t, c)
	for _, task := range snap.Tasks {
		if task.ID == first.ID {
			assert.Equal(t, done.ID, task.ListID)
			assert.Equal(t, 0, task.Position)
		}
	}

	err := moveTask(context.Background(), c, cfg, "demo", "ghost", done.ID, 0, &out)
	require.Error(t, err)
}

func TestRootCommandMoveList(t *testing.T) {
	t.Setenv(config.FileEnv, "")
	t.Setenv("STORAGE_BACKEND", "")
	cfg := testConfig(t)
	ts, c := startSeeded(t, cfg)
	snap := fetch(t, c)

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"move-list", "demo", snap.Lists[0].ID, snap.Lists[2].ID, "--url", ts.URL})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "lists:")

	snap = fetch(t, c)
	assert.Equal(t, "Backlog", snap.Lists[2].Name)
	assert.Equal(t, "In progress", snap.Lists[0].Name)
}

func TestRootCommandRejectsBadIndex(t *testing.T) {
	t.Setenv(config.FileEnv, "")
	t.Setenv("STORAGE_BACKEND", "")
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"move", "demo", "t1", "l1", "first"})
	require.Error(t, cmd.Execute())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchPrintsChanges(t *testing.T) {
	cfg := testConfig(t)
	_, c := startSeeded(t, cfg)
	snap := fetch(t, c)

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watch(ctx, c, "demo", time.Hour, out) }()

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Board snapshot endpoint"))
	}, 2*time.Second, 10*time.Millisecond)

	_, err := c.CreateTask(context.Background(), "demo", domain.NewTask{ListID: snap.Lists[0].ID, Title: "Pushed over the stream"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Pushed over the stream"))
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchGetsPushesWhileRedisIsDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := testConfig(t)
	cfg.RedisConnectionString = "redis://" + mr.Addr()
	_, c := startSeeded(t, cfg)
	snap := fetch(t, c)

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watch(ctx, c, "demo", time.Hour, out) }()
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Board snapshot endpoint"))
	}, 2*time.Second, 10*time.Millisecond)

	mr.Close()

	_, err = c.CreateTask(context.Background(), "demo", domain.NewTask{ListID: snap.Lists[0].ID, Title: "Delivered without redis"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Delivered without redis"))
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
