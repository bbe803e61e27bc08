package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return m, client
}

func TestRedisDeduperAddRemove(t *testing.T) {
	m, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "b1", "k1")
	if err != nil || !added {
		t.Fatalf("expected first add to succeed, got %v %v", added, err)
	}
	added, err = deduper.Add(ctx, "b1", "k1")
	if err != nil || added {
		t.Fatalf("expected duplicate, got %v %v", added, err)
	}
	if !m.Exists("idem:b1:k1") {
		t.Fatalf("expected namespaced key, have %v", m.Keys())
	}
	if ttl := m.TTL("idem:b1:k1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	if err := deduper.Remove(ctx, "b1", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err = deduper.Add(ctx, "b1", "k1")
	if err != nil || !added {
		t.Fatalf("expected add after remove to succeed, got %v %v", added, err)
	}
}

func TestRedisDeduperScopesKeys(t *testing.T) {
	_, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	if added, _ := deduper.Add(ctx, "b1", "k"); !added {
		t.Fatal("expected add for b1")
	}
	if added, _ := deduper.Add(ctx, "b2", "k"); !added {
		t.Fatal("same key on another board must be independent")
	}
}
