package presence

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// fakeRedis implements redisCommander in memory, recording the TTLs it
// was handed so tests can assert the refresh behavior.
type fakeRedis struct {
	sets      map[string]map[string]struct{}
	values    map[string]string
	ttls      map[string]time.Duration
	expireTTL []time.Duration
	published []string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		sets:   make(map[string]map[string]struct{}),
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd {
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	var added int64
	for _, m := range members {
		s := fmt.Sprint(m)
		if _, exists := set[s]; !exists {
			set[s] = struct{}{}
			added++
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(added)
	return cmd
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...any) *redis.IntCmd {
	var removed int64
	for _, m := range members {
		s := fmt.Sprint(m)
		if _, exists := f.sets[key][s]; exists {
			delete(f.sets[key], s)
			removed++
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(removed)
	return cmd
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	cmd := redis.NewStringSliceCmd(ctx)
	cmd.SetVal(members)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.values[key] = fmt.Sprint(value)
	f.ttls[key] = expiration
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	value, ok := f.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(value)
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var deleted int64
	for _, key := range keys {
		if _, ok := f.sets[key]; ok {
			delete(f.sets, key)
			deleted++
		}
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			deleted++
		}
		delete(f.ttls, key)
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(deleted)
	return cmd
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.ttls[key] = expiration
	f.expireTTL = append(f.expireTTL, expiration)
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	raw, _ := message.([]byte)
	f.published = append(f.published, string(raw))
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Close() error { return nil }

func TestRegistryConnectTracksClientsAndRefreshesTTL(t *testing.T) {
	fake := newFakeRedis()
	reg := &RedisRegistry{client: fake}
	ctx := context.Background()

	if err := reg.ClientConnected(ctx, "c1"); err != nil {
		t.Fatalf("ClientConnected: %v", err)
	}
	if err := reg.ClientConnected(ctx, "c2"); err != nil {
		t.Fatalf("ClientConnected: %v", err)
	}

	clients, err := reg.Clients(ctx)
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("expected 2 clients, got %v", clients)
	}

	// Every connect refreshes the set's expiry so a live server keeps
	// its entries alive.
	if len(fake.expireTTL) != 2 {
		t.Fatalf("expected 2 TTL refreshes, got %d", len(fake.expireTTL))
	}
	for _, ttl := range fake.expireTTL {
		if ttl != registryTTL {
			t.Fatalf("expected TTL %v, got %v", registryTTL, ttl)
		}
	}

	if len(fake.published) != 2 || !strings.Contains(fake.published[0], SignalConnected) {
		t.Fatalf("expected connect signals, got %v", fake.published)
	}
}

func TestRegistryDisconnectRemovesClientAndSignals(t *testing.T) {
	fake := newFakeRedis()
	reg := &RedisRegistry{client: fake}
	ctx := context.Background()

	if err := reg.ClientConnected(ctx, "c1"); err != nil {
		t.Fatalf("ClientConnected: %v", err)
	}
	if err := reg.ClientDisconnected(ctx, "c1"); err != nil {
		t.Fatalf("ClientDisconnected: %v", err)
	}

	clients, err := reg.Clients(ctx)
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	if len(clients) != 0 {
		t.Fatalf("expected no clients, got %v", clients)
	}

	last := fake.published[len(fake.published)-1]
	if !strings.Contains(last, SignalDisconnected) {
		t.Fatalf("expected disconnect signal, got %s", last)
	}
}

func TestRegistryActiveFlagRoundTripsWithTTL(t *testing.T) {
	fake := newFakeRedis()
	reg := &RedisRegistry{client: fake}
	ctx := context.Background()

	// Unset flag reads as not visible, not as an error.
	visible, err := reg.AnyVisible(ctx)
	if err != nil || visible {
		t.Fatalf("expected not visible on empty registry, got %v, %v", visible, err)
	}

	if err := reg.SetActive(ctx, true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if visible, _ = reg.AnyVisible(ctx); !visible {
		t.Fatal("expected visible after SetActive(true)")
	}
	if ttl := fake.ttls[activeKey]; ttl != registryTTL {
		t.Fatalf("expected active flag TTL %v, got %v", registryTTL, ttl)
	}

	if err := reg.SetActive(ctx, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if visible, _ = reg.AnyVisible(ctx); visible {
		t.Fatal("expected not visible after SetActive(false)")
	}
}

func TestRegistryClearEmptiesBothKeys(t *testing.T) {
	fake := newFakeRedis()
	reg := &RedisRegistry{client: fake}
	ctx := context.Background()

	if err := reg.ClientConnected(ctx, "c1"); err != nil {
		t.Fatalf("ClientConnected: %v", err)
	}
	if err := reg.SetActive(ctx, true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	if err := reg.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	clients, err := reg.Clients(ctx)
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	if len(clients) != 0 {
		t.Fatalf("expected cleared client set, got %v", clients)
	}
	if visible, _ := reg.AnyVisible(ctx); visible {
		t.Fatal("expected cleared active flag")
	}
}
