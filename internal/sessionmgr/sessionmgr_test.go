package sessionmgr

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cooneycw/claude-power-pack/coordinationd/internal/clock"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/kvgateway"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/lockmgr"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/naming"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/records"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*Manager, *clock.Fake, *lockmgr.Manager) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	kv := kvgateway.NewMemory(clk)
	resolver := naming.NewResolver("claude")
	locks := lockmgr.New(kv, resolver, clk, records.MsgpackCodec{}, nil)

	return &Manager{
		KV: kv, Resolver: resolver, Locks: locks, Clock: clk, Codec: records.MsgpackCodec{},
		Thresholds: Thresholds{
			Active: 30 * time.Second, Idle: 5 * time.Minute, Stale: 30 * time.Minute, Abandoned: 2 * time.Hour,
		},
		HeartbeatTTL: 24 * time.Hour,
		RecordTTL:    30 * 24 * time.Hour,
		Logger:       zap.NewNop(),
	}, clk, locks
}

func TestDeriveSessionIDExplicitWins(t *testing.T) {
	if got := DeriveSessionID("explicit-id", "mcp", false); got != "explicit-id" {
		t.Fatalf("got %q, want explicit-id", got)
	}
}

func TestDeriveSessionIDSynthesized(t *testing.T) {
	got := DeriveSessionID("", "coordinationd", false)
	want := fmt.Sprintf("coordinationd-%d", os.Getpid())
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDeriveSessionIDUniqueSuffixDiffers(t *testing.T) {
	a := DeriveSessionID("", "mcp", true)
	b := DeriveSessionID("", "mcp", true)
	if a == b {
		t.Fatalf("expected unique suffixes to differ, got %q twice", a)
	}
}

func TestRegisterWritesSessionAndHeartbeat(t *testing.T) {
	ctx := context.Background()
	m, clk, _ := newTestManager(t)

	res, err := m.Register(ctx, "sess-A", "/wa", map[string]string{"branch": "main"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SessionID != "sess-A" || !res.RegisteredAt.Equal(clk.Now()) {
		t.Fatalf("unexpected result: %+v", res)
	}

	status, err := m.Status(ctx, "sess-A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(status.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %+v", status.Sessions)
	}
	view := status.Sessions[0]
	if !view.IsMe || view.Tier != TierActive || view.Worktree != "/wa" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestHeartbeatRefreshesTier(t *testing.T) {
	ctx := context.Background()
	m, clk, _ := newTestManager(t)

	if _, err := m.Register(ctx, "sess-A", "/wa", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(10 * time.Minute)
	status, err := m.Status(ctx, "sess-A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Sessions[0].Tier != TierStale {
		t.Fatalf("expected stale after 10m, got %+v", status.Sessions[0])
	}

	if _, err := m.Heartbeat(ctx, "sess-A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status, err = m.Status(ctx, "sess-A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Sessions[0].Tier != TierActive {
		t.Fatalf("expected active right after heartbeat, got %+v", status.Sessions[0])
	}
}

// Scenario 5: staleness tier walk.
func TestStalenessTierWalk(t *testing.T) {
	ctx := context.Background()
	m, clk, _ := newTestManager(t)

	if _, err := m.Register(ctx, "sess-A", "/wa", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		advance time.Duration
		want    Tier
	}{
		{10 * time.Second, TierActive},
		{1 * time.Minute, TierIdle},
		{20 * time.Minute, TierStale},
		{90 * time.Minute, TierAbandoned},
	}

	start := clk.Now()
	for _, tc := range cases {
		clk.Set(start.Add(tc.advance))
		status, err := m.Status(ctx, "sess-A")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Sessions[0].Tier != tc.want {
			t.Fatalf("at +%v: got tier %v, want %v", tc.advance, status.Sessions[0].Tier, tc.want)
		}
	}
}

func TestStatusNoHeartbeatWhenHeartbeatKeyMissing(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	rec := records.Session{SessionID: "sess-orphan", StartedAt: m.Clock.Now(), Status: records.StatusActive}
	encoded, err := m.Codec.Marshal(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.KV.Put(ctx, m.Resolver.SessionsKey("sess-orphan"), encoded, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status, err := m.Status(ctx, "someone-else")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(status.Sessions) != 1 || status.Sessions[0].Tier != TierNoHeartbeat {
		t.Fatalf("expected no_heartbeat tier, got %+v", status.Sessions)
	}
}

// Scenario 4: unregister cascades into lock release (invariant I5).
func TestUnregisterReleasesOwnedLocks(t *testing.T) {
	ctx := context.Background()
	m, _, locks := newTestManager(t)

	if _, err := m.Register(ctx, "sess-A", "/wa", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := locks.Acquire(ctx, "pytest", 60*time.Second, 0, lockmgr.SessionContext{SessionID: "sess-A", Worktree: "/wa"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := locks.Acquire(ctx, "issue:7", 60*time.Second, 0, lockmgr.SessionContext{SessionID: "sess-A", Worktree: "/wa"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := m.Unregister(ctx, "sess-A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.ReleasedLocks) != 2 {
		t.Fatalf("expected 2 released locks, got %+v", res.ReleasedLocks)
	}

	check, err := locks.Check(ctx, "pytest", lockmgr.SessionContext{SessionID: "sess-B", Worktree: "/wb"})
	if err != nil || !check.Available {
		t.Fatalf("expected lock freed after unregister, got %+v err=%v", check, err)
	}

	status, err := m.Status(ctx, "sess-A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(status.Sessions) != 0 {
		t.Fatalf("expected session record gone after unregister, got %+v", status.Sessions)
	}
}
