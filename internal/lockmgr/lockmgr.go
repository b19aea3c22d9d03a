// Package lockmgr implements the Lock Manager (spec §4.3): distributed
// mutual exclusion with leases, idempotent owner re-acquisition, and
// owner-guarded release. LM is a stateless functional unit parameterized by
// a KVGateway and an NCR; it holds no in-process mutable state of its own
// (spec §9).
package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cooneycw/claude-power-pack/coordinationd/internal/clock"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/kvgateway"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/naming"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/records"
	"go.uber.org/zap"
)

// ErrInvalidArgument is returned for an unknown branch context or a
// non-positive TTL, before any backend call is made (spec §7).
var ErrInvalidArgument = errors.New("lockmgr: invalid argument")

// Reason is the closed set of unsuccessful-outcome reasons spec §7 names.
type Reason string

const (
	ReasonLockHeld           Reason = "lock_held"
	ReasonRaceCondition      Reason = "race_condition"
	ReasonNotOwner           Reason = "not_owner"
	ReasonNotFound           Reason = "not_found"
	ReasonInvalidArgument    Reason = "invalid_argument"
	ReasonBackendUnavailable Reason = "backend_unavailable"
	ReasonUnknown            Reason = "unknown"
)

// SessionContext is the immutable per-call identity spec §9 describes:
// session id, worktree, and (for "work" tokens) the current branch.
type SessionContext struct {
	SessionID     string
	Worktree      string
	CurrentBranch *string
}

// AcquireResult is the tagged success/failure outcome of Acquire.
type AcquireResult struct {
	Acquired   bool
	Extended   bool
	LockName   string
	Key        string
	ExpiresAt  time.Time
	Reason     Reason
	Holder     string
	Worktree   string
	AcquiredAt time.Time
}

// ReleaseResult is the tagged outcome of Release.
type ReleaseResult struct {
	Released bool
	LockName string
	Reason   Reason
	Holder   string
}

// CheckResult is the tagged outcome of Check.
type CheckResult struct {
	Available  bool
	LockName   string
	Holder     string
	IsMine     bool
	Worktree   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// LockEntry is one row of a List result.
type LockEntry struct {
	Name       string
	HeldBy     string
	IsMine     bool
	Worktree   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Manager implements spec §4.3's four public operations.
type Manager struct {
	KV       kvgateway.Gateway
	Resolver *naming.Resolver
	Clock    clock.Clock
	Codec    records.Codec
	Logger   *zap.Logger
}

// New constructs a Manager. codec and logger may be nil (they default to
// MsgpackCodec and a no-op logger).
func New(kv kvgateway.Gateway, resolver *naming.Resolver, clk clock.Clock, codec records.Codec, logger *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if codec == nil {
		codec = records.MsgpackCodec{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{KV: kv, Resolver: resolver, Clock: clk, Codec: codec, Logger: logger}
}

func (m *Manager) resolve(token string, sc SessionContext) (key, canonical string, err error) {
	key, canonical, err = m.Resolver.ResolveToken(token, sc.CurrentBranch)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return key, canonical, nil
}

// Acquire implements spec §4.3's seven-step algorithm.
func (m *Manager) Acquire(ctx context.Context, token string, ttl time.Duration, maxTTL time.Duration, sc SessionContext) (AcquireResult, error) {
	if ttl <= 0 {
		return AcquireResult{}, fmt.Errorf("%w: ttl must be positive", ErrInvalidArgument)
	}
	if maxTTL > 0 && ttl > maxTTL {
		ttl = maxTTL
	}

	key, canonical, err := m.resolve(token, sc)
	if err != nil {
		return AcquireResult{}, err
	}

	existing, present, err := m.KV.Get(ctx, key)
	if err != nil {
		return AcquireResult{}, err
	}

	if present {
		var rec records.Lock
		if err := m.Codec.Unmarshal(existing, &rec); err != nil {
			m.Logger.Warn("lockmgr: malformed lock record", zap.String("key", key), zap.Error(err))
			return AcquireResult{}, fmt.Errorf("lockmgr: decoding lock record at %q: %w", key, err)
		}

		if rec.SessionID == sc.SessionID {
			now := m.Clock.Now()
			rec.ExpiresAt = now.Add(ttl)
			encoded, err := m.Codec.Marshal(rec)
			if err != nil {
				return AcquireResult{}, fmt.Errorf("lockmgr: encoding lock record: %w", err)
			}
			if err := m.KV.Put(ctx, key, encoded, ttl); err != nil {
				return AcquireResult{}, err
			}
			m.Logger.Info("lock extended", zap.String("key", key), zap.String("session_id", sc.SessionID))
			return AcquireResult{
				Acquired: true, Extended: true, LockName: canonical, Key: key, ExpiresAt: rec.ExpiresAt,
			}, nil
		}

		return AcquireResult{
			Acquired: false, Reason: ReasonLockHeld, LockName: canonical,
			Holder: rec.SessionID, Worktree: rec.Worktree, AcquiredAt: rec.AcquiredAt, ExpiresAt: rec.ExpiresAt,
		}, nil
	}

	now := m.Clock.Now()
	rec := records.Lock{
		SessionID:  sc.SessionID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
		Worktree:   sc.Worktree,
	}
	encoded, err := m.Codec.Marshal(rec)
	if err != nil {
		return AcquireResult{}, fmt.Errorf("lockmgr: encoding lock record: %w", err)
	}

	acquired, err := m.KV.PutIfAbsent(ctx, key, encoded, ttl)
	if err != nil {
		return AcquireResult{}, err
	}
	if acquired {
		m.Logger.Info("lock acquired", zap.String("key", key), zap.String("session_id", sc.SessionID))
		return AcquireResult{Acquired: true, LockName: canonical, Key: key, ExpiresAt: rec.ExpiresAt}, nil
	}

	// Race lost: a concurrent acquirer won. Re-read and report its owner.
	raced, present, err := m.KV.Get(ctx, key)
	if err != nil {
		return AcquireResult{}, err
	}
	if present {
		var rec records.Lock
		if err := m.Codec.Unmarshal(raced, &rec); err == nil {
			return AcquireResult{
				Acquired: false, Reason: ReasonRaceCondition, LockName: canonical, Holder: rec.SessionID,
				Worktree: rec.Worktree, AcquiredAt: rec.AcquiredAt, ExpiresAt: rec.ExpiresAt,
			}, nil
		}
	}
	return AcquireResult{Acquired: false, Reason: ReasonUnknown, LockName: canonical}, nil
}

// Release implements spec §4.3's Release operation, upgraded per
// SPEC_FULL.md §3 to an atomic compare-and-delete rather than the source's
// plain read-then-delete.
func (m *Manager) Release(ctx context.Context, token string, sc SessionContext) (ReleaseResult, error) {
	key, canonical, err := m.resolve(token, sc)
	if err != nil {
		return ReleaseResult{}, err
	}

	existing, present, err := m.KV.Get(ctx, key)
	if err != nil {
		return ReleaseResult{}, err
	}
	if !present {
		return ReleaseResult{Released: false, Reason: ReasonNotFound, LockName: canonical}, nil
	}

	var rec records.Lock
	if err := m.Codec.Unmarshal(existing, &rec); err != nil {
		return ReleaseResult{}, fmt.Errorf("lockmgr: decoding lock record at %q: %w", key, err)
	}
	if rec.SessionID != sc.SessionID {
		return ReleaseResult{Released: false, Reason: ReasonNotOwner, LockName: canonical, Holder: rec.SessionID}, nil
	}

	deleted, err := m.KV.DeleteIfValueEqual(ctx, key, existing)
	if err != nil {
		return ReleaseResult{}, err
	}
	if !deleted {
		// The value changed between our read and the delete attempt (the
		// lock expired and someone else acquired it, or it was already
		// released); treat this exactly like the benign race spec §4.3
		// documents for the read-then-delete source behavior.
		return ReleaseResult{Released: false, Reason: ReasonNotFound, LockName: canonical}, nil
	}

	m.Logger.Info("lock released", zap.String("key", key), zap.String("session_id", sc.SessionID))
	return ReleaseResult{Released: true, LockName: canonical}, nil
}

// Check implements spec §4.3's Check operation.
func (m *Manager) Check(ctx context.Context, token string, sc SessionContext) (CheckResult, error) {
	key, canonical, err := m.resolve(token, sc)
	if err != nil {
		return CheckResult{}, err
	}

	existing, present, err := m.KV.Get(ctx, key)
	if err != nil {
		return CheckResult{}, err
	}
	if !present {
		return CheckResult{Available: true, LockName: canonical}, nil
	}

	var rec records.Lock
	if err := m.Codec.Unmarshal(existing, &rec); err != nil {
		return CheckResult{}, fmt.Errorf("lockmgr: decoding lock record at %q: %w", key, err)
	}
	return CheckResult{
		Available: false, LockName: canonical, Holder: rec.SessionID, IsMine: rec.SessionID == sc.SessionID,
		Worktree: rec.Worktree, AcquiredAt: rec.AcquiredAt, ExpiresAt: rec.ExpiresAt,
	}, nil
}

// List implements spec §4.3's List operation. An entry that disappears
// between Scan and Get is skipped silently (it expired).
func (m *Manager) List(ctx context.Context, pattern string, sc SessionContext) ([]LockEntry, error) {
	if pattern == "" {
		pattern = "*"
	}
	keys, err := m.KV.Scan(ctx, m.Resolver.LocksPattern(pattern))
	if err != nil {
		return nil, err
	}

	entries := make([]LockEntry, 0, len(keys))
	for _, key := range keys {
		value, present, err := m.KV.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !present {
			continue // expired between scan and read
		}
		var rec records.Lock
		if err := m.Codec.Unmarshal(value, &rec); err != nil {
			m.Logger.Debug("lockmgr: skipping malformed lock record", zap.String("key", key), zap.Error(err))
			continue
		}
		entries = append(entries, LockEntry{
			Name: m.Resolver.LockNameFromKey(key), HeldBy: rec.SessionID, IsMine: rec.SessionID == sc.SessionID,
			Worktree: rec.Worktree, AcquiredAt: rec.AcquiredAt, ExpiresAt: rec.ExpiresAt,
		})
	}
	return entries, nil
}

// ReleaseOwnedBy deletes every lock currently owned by sessionID, used by
// sessionmgr's Unregister cascade (spec §2: "at teardown calls
// LM-equivalent logic to free locks"). It is not part of the public RPC
// surface.
func (m *Manager) ReleaseOwnedBy(ctx context.Context, sessionID string) ([]string, error) {
	keys, err := m.KV.Scan(ctx, m.Resolver.LocksPattern("*"))
	if err != nil {
		return nil, err
	}

	var released []string
	for _, key := range keys {
		value, present, err := m.KV.Get(ctx, key)
		if err != nil {
			return released, err
		}
		if !present {
			continue
		}
		var rec records.Lock
		if err := m.Codec.Unmarshal(value, &rec); err != nil {
			continue
		}
		if rec.SessionID != sessionID {
			continue
		}
		if _, err := m.KV.DeleteIfValueEqual(ctx, key, value); err != nil {
			return released, err
		}
		released = append(released, m.Resolver.LockNameFromKey(key))
	}
	return released, nil
}
