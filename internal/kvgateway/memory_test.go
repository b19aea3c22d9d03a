package kvgateway

import (
	"context"
	"testing"
	"time"

	"github.com/cooneycw/claude-power-pack/coordinationd/internal/clock"
)

func TestMemoryPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewMemory(clk)

	ok, err := m.PutIfAbsent(ctx, "k", []byte("v1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first PutIfAbsent to succeed: ok=%v err=%v", ok, err)
	}

	ok, err = m.PutIfAbsent(ctx, "k", []byte("v2"), time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second PutIfAbsent to fail: ok=%v err=%v", ok, err)
	}

	value, present, err := m.Get(ctx, "k")
	if err != nil || !present || string(value) != "v1" {
		t.Fatalf("got value=%q present=%v err=%v", value, present, err)
	}
}

func TestMemoryExpiryIsLazy(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewMemory(clk)

	if _, err := m.PutIfAbsent(ctx, "k", []byte("v1"), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk.Advance(2 * time.Second)

	_, present, err := m.Get(ctx, "k")
	if err != nil || present {
		t.Fatalf("expected key to have expired: present=%v err=%v", present, err)
	}

	ok, err := m.PutIfAbsent(ctx, "k", []byte("v2"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected PutIfAbsent to succeed after expiry: ok=%v err=%v", ok, err)
	}
}

func TestMemoryDeleteIfValueEqual(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	if err := m.Put(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := m.DeleteIfValueEqual(ctx, "k", []byte("wrong"))
	if err != nil || ok {
		t.Fatalf("expected delete to fail on value mismatch: ok=%v err=%v", ok, err)
	}

	ok, err = m.DeleteIfValueEqual(ctx, "k", []byte("v1"))
	if err != nil || !ok {
		t.Fatalf("expected delete to succeed on matching value: ok=%v err=%v", ok, err)
	}

	_, present, err := m.Get(ctx, "k")
	if err != nil || present {
		t.Fatalf("expected key to be gone: present=%v err=%v", present, err)
	}
}

func TestMemoryExpireRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewMemory(clk)

	if err := m.Put(ctx, "k", []byte("v1"), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Expire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk.Advance(2 * time.Second)

	value, present, err := m.Get(ctx, "k")
	if err != nil || !present || string(value) != "v1" {
		t.Fatalf("expected key to survive after refresh: present=%v value=%q err=%v", present, value, err)
	}
}

func TestMemoryScanPattern(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	for _, key := range []string{"root:locks:issue:1", "root:locks:issue:2", "root:locks:wave:5c"} {
		if err := m.Put(ctx, key, []byte("v"), 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	keys, err := m.Scan(ctx, "root:locks:issue:*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}

func TestMemoryKeysUnderPrefix(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewMemory(clk)

	if err := m.Put(ctx, "root:locks:issue:1", []byte("v"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Put(ctx, "root:locks:issue:2", []byte("v"), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Put(ctx, "root:sessions:sess-A", []byte("v"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk.Advance(2 * time.Second)

	keys := m.keysUnderPrefix("root:locks:")
	if len(keys) != 1 || keys[0] != "root:locks:issue:1" {
		t.Fatalf("expected only the unexpired locks key, got %v", keys)
	}
}

func TestMemoryPingAndServerInfo(t *testing.T) {
	m := NewMemory(nil)
	ok, err := m.Ping(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected ping to succeed: ok=%v err=%v", ok, err)
	}
	info, err := m.ServerInfo(context.Background())
	if err != nil || info.Version == "" {
		t.Fatalf("unexpected server info: %+v err=%v", info, err)
	}
}
