package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

// Backend is the board storage contract shared by SQLStore and TableStore.
type Backend interface {
	FetchBoard(ctx context.Context, boardID string) (domain.Snapshot, error)
	UpdateTaskPositions(ctx context.Context, boardID string, changes []domain.TaskPositionChange) (int64, error)
	MoveList(ctx context.Context, boardID, listID string, newPosition int) (int64, error)
	CreateList(ctx context.Context, boardID string, list domain.NewList) (domain.List, int64, error)
	CreateTask(ctx context.Context, boardID string, task domain.NewTask) (domain.Task, int64, error)
	DeleteTask(ctx context.Context, boardID, taskID string) (int64, error)
	Ping(ctx context.Context) error
}

var (
	_ Backend = (*SQLStore)(nil)
	_ Backend = (*TableStore)(nil)
	_ Backend = (*Cache)(nil)
)

// minVersionTTL bounds how long a board's version marker outlives its
// snapshot entry. A fill slower than this may still store a stale snapshot.
const minVersionTTL = 10 * time.Minute

// storeScript sets the snapshot only when no write newer than it has been
// recorded for the board.
var storeScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// invalidateScript raises the version marker and drops the snapshot.
var invalidateScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if not cur or tonumber(cur) < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

// Cache wraps a Backend with a Redis read-through cache for board snapshots.
// Every successful write evicts the board's entry and records its version,
// so a fill that read the board before the write cannot store it afterwards.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper. A nil client or zero TTL disables
// caching but keeps the wrapper usable.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchBoard(ctx context.Context, boardID string) (domain.Snapshot, error) {
	if snap, ok := c.load(ctx, boardID); ok {
		return snap, nil
	}
	snap, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	c.store(ctx, boardID, snap)
	return snap, nil
}

func (c *Cache) UpdateTaskPositions(ctx context.Context, boardID string, changes []domain.TaskPositionChange) (int64, error) {
	v, err := c.base.UpdateTaskPositions(ctx, boardID, changes)
	return v, c.after(ctx, boardID, v, err)
}

func (c *Cache) MoveList(ctx context.Context, boardID, listID string, newPosition int) (int64, error) {
	v, err := c.base.MoveList(ctx, boardID, listID, newPosition)
	return v, c.after(ctx, boardID, v, err)
}

func (c *Cache) CreateList(ctx context.Context, boardID string, list domain.NewList) (domain.List, int64, error) {
	l, v, err := c.base.CreateList(ctx, boardID, list)
	return l, v, c.after(ctx, boardID, v, err)
}

func (c *Cache) CreateTask(ctx context.Context, boardID string, task domain.NewTask) (domain.Task, int64, error) {
	t, v, err := c.base.CreateTask(ctx, boardID, task)
	return t, v, c.after(ctx, boardID, v, err)
}

func (c *Cache) DeleteTask(ctx context.Context, boardID, taskID string) (int64, error) {
	v, err := c.base.DeleteTask(ctx, boardID, taskID)
	return v, c.after(ctx, boardID, v, err)
}

func (c *Cache) Ping(ctx context.Context) error {
	if err := c.base.Ping(ctx); err != nil {
		return err
	}
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// Evict drops the cached snapshot of boardID.
func (c *Cache) Evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
}

func (c *Cache) after(ctx context.Context, boardID string, version int64, err error) error {
	if err != nil || c.redis == nil {
		return err
	}
	keys := []string{boardCacheKey(boardID), boardVersionKey(boardID)}
	if ierr := invalidateScript.Run(ctx, c.redis, keys, version, c.versionTTL().Milliseconds()).Err(); ierr != nil {
		c.Evict(ctx, boardID)
	}
	return nil
}

func (c *Cache) versionTTL() time.Duration {
	return max(c.ttl, minVersionTTL)
}

func (c *Cache) load(ctx context.Context, boardID string) (domain.Snapshot, bool) {
	if c.redis == nil {
		return domain.Snapshot{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return domain.Snapshot{}, false
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return domain.Snapshot{}, false
	}
	return snap, true
}

func (c *Cache) store(ctx context.Context, boardID string, snap domain.Snapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	keys := []string{boardCacheKey(boardID), boardVersionKey(boardID)}
	_ = storeScript.Run(ctx, c.redis, keys, data, snap.Board.Version, c.ttl.Milliseconds()).Err()
}

func boardCacheKey(boardID string) string {
	return "board:{" + boardID + "}"
}

func boardVersionKey(boardID string) string {
	return "board:{" + boardID + "}:version"
}
