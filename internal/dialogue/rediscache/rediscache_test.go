package rediscache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/MrWong99/npcmind/internal/dialogue/rediscache"
)

func setupTestRedis(t *testing.T, opts ...rediscache.Option) (*rediscache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := rediscache.Dial(context.Background(), "redis://"+mr.Addr(), opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_SetGet(t *testing.T) {
	t.Parallel()
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "conv:hello"); err != nil || ok {
		t.Fatalf("Get(missing) = _, %v, %v; want miss", ok, err)
	}
	if err := c.Set(ctx, "conv:hello", "Well met."); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := c.Get(ctx, "conv:hello")
	if err != nil || !ok || got != "Well met." {
		t.Errorf("Get = %q, %v, %v; want %q, true, nil", got, ok, err, "Well met.")
	}
	if !mr.Exists(rediscache.DefaultPrefix + "entry:conv:hello") {
		t.Error("entry not stored under the default prefix")
	}
}

func TestCache_Overwrite(t *testing.T) {
	t.Parallel()
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	for _, v := range []string{"first", "second"} {
		if err := c.Set(ctx, "k", v); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	got, _, _ := c.Get(ctx, "k")
	if got != "second" {
		t.Errorf("Get = %q, want %q", got, "second")
	}
	if n, _ := c.Len(ctx); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestCache_EvictsOldestHalf(t *testing.T) {
	t.Parallel()
	c, _ := setupTestRedis(t, rediscache.WithMaxSize(4))
	ctx := context.Background()

	for i := range 5 {
		if err := c.Set(ctx, fmt.Sprintf("k%d", i), "v"); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	// Inserting k4 into a full cache drops k0 and k1.
	for _, tt := range []struct {
		key  string
		want bool
	}{
		{"k0", false}, {"k1", false}, {"k2", true}, {"k3", true}, {"k4", true},
	} {
		if _, ok, _ := c.Get(ctx, tt.key); ok != tt.want {
			t.Errorf("Get(%q) present = %v, want %v", tt.key, ok, tt.want)
		}
	}
	if n, _ := c.Len(ctx); n != 3 {
		t.Errorf("Len = %d, want 3", n)
	}
}

func TestCache_TTL(t *testing.T) {
	t.Parallel()
	c, mr := setupTestRedis(t, rediscache.WithTTL(time.Minute))
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("entry survived its TTL")
	}
}

func TestCache_Clear(t *testing.T) {
	t.Parallel()
	c, mr := setupTestRedis(t, rediscache.WithPrefix("test:"))
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		if err := c.Set(ctx, k, "v"); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("keys after Clear = %v, want none", keys)
	}
}

func TestDial_Unreachable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := rediscache.Dial(context.Background(), "redis://"+addr); err == nil {
		t.Error("Dial to a closed server succeeded")
	}
	if _, err := rediscache.Dial(context.Background(), "not a url"); err == nil {
		t.Error("Dial with a bad URL succeeded")
	}
}

func TestCache_ServerDown(t *testing.T) {
	t.Parallel()
	c, mr := setupTestRedis(t)
	mr.Close()

	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Error("Get with the server down returned no error")
	}
}
