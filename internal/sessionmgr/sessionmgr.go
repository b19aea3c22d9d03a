// Package sessionmgr implements the Session Manager (spec §4.4): session
// registration, heartbeating with tiered staleness classification,
// enumeration, and owner-scoped cleanup that cascades into lock release at
// teardown.
package sessionmgr

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cooneycw/claude-power-pack/coordinationd/internal/clock"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/kvgateway"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/lockmgr"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/naming"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/records"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tier is one of the five staleness classifications of spec §4.4.
type Tier string

const (
	TierActive      Tier = "active"
	TierIdle        Tier = "idle"
	TierStale       Tier = "stale"
	TierAbandoned   Tier = "abandoned"
	TierNoHeartbeat Tier = "no_heartbeat"
)

// Thresholds holds the four configurable tier boundaries; config.FromEnv
// already validated T_active < T_idle < T_stale < T_abandoned.
type Thresholds struct {
	Active    time.Duration
	Idle      time.Duration
	Stale     time.Duration
	Abandoned time.Duration
}

// RegisterResult is the outcome of Register.
type RegisterResult struct {
	SessionID    string
	RegisteredAt time.Time
}

// HeartbeatResult is the outcome of Heartbeat.
type HeartbeatResult struct {
	SessionID string
	Timestamp time.Time
}

// SessionView is one row of Status's enumeration.
type SessionView struct {
	SessionID         string
	IsMe              bool
	Tier              Tier
	TierSymbol        string // cosmetic only, never branched on internally
	Worktree          string
	StartedAt         time.Time
	HeartbeatAgeSecs  *float64
	Metadata          map[string]string
}

// AllSessionsStatus is the outcome of Status.
type AllSessionsStatus struct {
	MySessionID string
	Sessions    []SessionView
}

// UnregisterResult is the outcome of Unregister.
type UnregisterResult struct {
	SessionID     string
	ReleasedLocks []string
}

// Manager implements spec §4.4's public operations. It is stateless beyond
// the gateway/resolver/clock/codec it is parameterized by.
type Manager struct {
	KV           kvgateway.Gateway
	Resolver     *naming.Resolver
	Locks        *lockmgr.Manager
	Clock        clock.Clock
	Codec        records.Codec
	Thresholds   Thresholds
	HeartbeatTTL time.Duration
	RecordTTL    time.Duration // SPEC_FULL.md §3: orphan safety net, 0 disables
	Logger       *zap.Logger
}

// DeriveSessionID implements spec §4.4's identity rule: an explicit
// override wins; otherwise synthesize "<prefix>-<pid>". uniqueSuffix, when
// true, appends a short uuid segment (SPEC_FULL.md §2.4's recovered
// multi-host uniqueness affordance from the source's Open Question).
func DeriveSessionID(explicit, prefix string, uniqueSuffix bool) string {
	if explicit != "" {
		return explicit
	}
	if prefix == "" {
		prefix = "mcp"
	}
	id := fmt.Sprintf("%s-%d", prefix, os.Getpid())
	if uniqueSuffix {
		id = fmt.Sprintf("%s-%s", id, uuid.New().String()[:8])
	}
	return id
}

// Register implements spec §4.4's Register operation.
func (m *Manager) Register(ctx context.Context, sessionID, worktree string, metadata map[string]string) (RegisterResult, error) {
	now := m.Clock.Now()
	rec := records.Session{
		SessionID: sessionID,
		StartedAt: now,
		Worktree:  worktree,
		Status:    records.StatusActive,
		Metadata:  metadata,
	}
	encoded, err := m.Codec.Marshal(rec)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("sessionmgr: encoding session record: %w", err)
	}

	if err := m.KV.Put(ctx, m.Resolver.SessionsKey(sessionID), encoded, m.RecordTTL); err != nil {
		return RegisterResult{}, err
	}
	if err := m.KV.Put(ctx, m.Resolver.HeartbeatKey(sessionID), []byte(now.Format(time.RFC3339Nano)), m.HeartbeatTTL); err != nil {
		return RegisterResult{}, err
	}

	m.Logger.Info("session registered", zap.String("session_id", sessionID))
	return RegisterResult{SessionID: sessionID, RegisteredAt: now}, nil
}

// Heartbeat implements spec §4.4's Heartbeat operation. Step 2 (session
// record refresh) is best-effort: a read failure or absent record is
// skipped silently at debug level, per spec §7's tolerated-failure list.
func (m *Manager) Heartbeat(ctx context.Context, sessionID string) (HeartbeatResult, error) {
	now := m.Clock.Now()
	if err := m.KV.Put(ctx, m.Resolver.HeartbeatKey(sessionID), []byte(now.Format(time.RFC3339Nano)), m.HeartbeatTTL); err != nil {
		return HeartbeatResult{}, err
	}

	existing, present, err := m.KV.Get(ctx, m.Resolver.SessionsKey(sessionID))
	if err != nil || !present {
		if err != nil {
			m.Logger.Debug("sessionmgr: best-effort session refresh skipped", zap.String("session_id", sessionID), zap.Error(err))
		}
		return HeartbeatResult{SessionID: sessionID, Timestamp: now}, nil
	}

	var rec records.Session
	if err := m.Codec.Unmarshal(existing, &rec); err != nil {
		m.Logger.Debug("sessionmgr: best-effort session refresh skipped: malformed record", zap.String("session_id", sessionID), zap.Error(err))
		return HeartbeatResult{SessionID: sessionID, Timestamp: now}, nil
	}
	rec.Status = records.StatusActive
	rec.LastHeartbeat = &now
	encoded, err := m.Codec.Marshal(rec)
	if err != nil {
		m.Logger.Debug("sessionmgr: best-effort session refresh skipped: encode failure", zap.String("session_id", sessionID), zap.Error(err))
		return HeartbeatResult{SessionID: sessionID, Timestamp: now}, nil
	}
	if err := m.KV.Put(ctx, m.Resolver.SessionsKey(sessionID), encoded, m.RecordTTL); err != nil {
		m.Logger.Debug("sessionmgr: best-effort session refresh skipped", zap.String("session_id", sessionID), zap.Error(err))
	}

	return HeartbeatResult{SessionID: sessionID, Timestamp: now}, nil
}

// Status implements spec §4.4's Status operation, classifying each
// session's staleness tier from its heartbeat age at read time.
func (m *Manager) Status(ctx context.Context, mySessionID string) (AllSessionsStatus, error) {
	keys, err := m.KV.Scan(ctx, m.Resolver.SessionsPrefix()+"*")
	if err != nil {
		return AllSessionsStatus{}, err
	}

	views := make([]SessionView, 0, len(keys))
	now := m.Clock.Now()

	for _, key := range keys {
		value, present, err := m.KV.Get(ctx, key)
		if err != nil {
			return AllSessionsStatus{}, err
		}
		if !present {
			continue
		}
		var rec records.Session
		if err := m.Codec.Unmarshal(value, &rec); err != nil {
			m.Logger.Debug("sessionmgr: skipping malformed session record", zap.String("key", key), zap.Error(err))
			continue
		}

		hbValue, hbPresent, err := m.KV.Get(ctx, m.Resolver.HeartbeatKey(rec.SessionID))
		if err != nil {
			return AllSessionsStatus{}, err
		}

		var tier Tier
		var ageSecs *float64
		if hbPresent {
			hbTime, parseErr := time.Parse(time.RFC3339Nano, string(hbValue))
			if parseErr != nil {
				tier = TierNoHeartbeat
			} else {
				age := now.Sub(hbTime).Seconds()
				ageSecs = &age
				tier = m.classify(now.Sub(hbTime))
			}
		} else {
			tier = TierNoHeartbeat
		}

		views = append(views, SessionView{
			SessionID: rec.SessionID, IsMe: rec.SessionID == mySessionID, Tier: tier, TierSymbol: tierSymbol(tier),
			Worktree: rec.Worktree, StartedAt: rec.StartedAt, HeartbeatAgeSecs: ageSecs, Metadata: rec.Metadata,
		})
	}

	return AllSessionsStatus{MySessionID: mySessionID, Sessions: views}, nil
}

func (m *Manager) classify(age time.Duration) Tier {
	switch {
	case age < m.Thresholds.Active:
		return TierActive
	case age < m.Thresholds.Idle:
		return TierIdle
	case age < m.Thresholds.Stale:
		return TierStale
	case age < m.Thresholds.Abandoned:
		return TierAbandoned
	default:
		return TierAbandoned
	}
}

func tierSymbol(t Tier) string {
	switch t {
	case TierActive:
		return "active"
	case TierIdle:
		return "idle"
	case TierStale:
		return "stale"
	case TierAbandoned:
		return "abandoned"
	default:
		return "no_heartbeat"
	}
}

// Unregister implements spec §4.4's Unregister operation: locks are
// released before the session/heartbeat keys are deleted (invariant I5).
// If the lock-release scan fails partway, the error surfaces but whatever
// has already been deleted stays deleted — there is no rollback.
func (m *Manager) Unregister(ctx context.Context, sessionID string) (UnregisterResult, error) {
	released, err := m.Locks.ReleaseOwnedBy(ctx, sessionID)
	if err != nil {
		return UnregisterResult{}, fmt.Errorf("sessionmgr: releasing owned locks: %w", err)
	}

	if err := m.KV.Delete(ctx, m.Resolver.SessionsKey(sessionID)); err != nil {
		return UnregisterResult{}, err
	}
	if err := m.KV.Delete(ctx, m.Resolver.HeartbeatKey(sessionID)); err != nil {
		return UnregisterResult{}, err
	}

	m.Logger.Info("session unregistered", zap.String("session_id", sessionID), zap.Int("released_locks", len(released)))
	return UnregisterResult{SessionID: sessionID, ReleasedLocks: released}, nil
}
