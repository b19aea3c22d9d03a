// Package reaper runs a best-effort, singleton-elected background sweep
// that logs session staleness-tier counts at an interval. It is adapted
// from the donor KV store's StartWatcher leader-election pattern
// (src/handlers/watcher.go): only one process in a multi-process
// deployment wins the etcd concurrency lock and runs the sweep; if that
// process dies the lock's lease expires and another process takes over.
//
// This is purely observational — spec.md's invariants never depend on it.
// Lock and session lifetimes are governed entirely by TTL expiry in the
// backend (spec §4.3/§4.4); the reaper never deletes a Lock, Session, or
// Heartbeat record itself.
package reaper

import (
	"context"
	"time"

	"github.com/cooneycw/claude-power-pack/coordinationd/internal/sessionmgr"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// Reaper periodically reports session tier counts, but only on whichever
// process currently holds the elected lock.
type Reaper struct {
	Client    *clientv3.Client
	Sessions  *sessionmgr.Manager
	SessionID string
	LockKey   string
	Interval  time.Duration
	Logger    *zap.Logger
}

// New constructs a Reaper. lockKey should live outside the <root>:locks:
// namespace LM manages so the two lock concepts never collide.
func New(client *clientv3.Client, sessions *sessionmgr.Manager, root, sessionID string, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		Client: client, Sessions: sessions, SessionID: sessionID,
		LockKey: "/" + root + "/internal-locks/reaper", Interval: 2 * time.Minute, Logger: logger,
	}
}

// Run blocks until ctx is cancelled, retrying lock acquisition whenever it
// loses the election, exactly like the donor watcher's retry loop.
func (r *Reaper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if r.tryRunAsLeader(ctx) {
				time.Sleep(2 * time.Second)
			} else {
				time.Sleep(5 * time.Second)
			}
		}
	}
}

func (r *Reaper) tryRunAsLeader(ctx context.Context) bool {
	session, err := concurrency.NewSession(r.Client, concurrency.WithTTL(10), concurrency.WithContext(context.Background()))
	if err != nil {
		r.Logger.Warn("reaper: failed to create election session", zap.Error(err))
		return false
	}
	defer session.Close()

	mu := concurrency.NewMutex(session, r.LockKey)
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mu.Lock(lockCtx); err != nil {
		return false
	}
	defer mu.Unlock(context.Background())

	r.Logger.Info("reaper: elected leader, starting sweep loop")

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true
		case <-session.Done():
			r.Logger.Info("reaper: election session expired, stepping down")
			return true
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	status, err := r.Sessions.Status(ctx, r.SessionID)
	if err != nil {
		r.Logger.Warn("reaper: status scan failed", zap.Error(err))
		return
	}

	counts := map[sessionmgr.Tier]int{}
	for _, s := range status.Sessions {
		counts[s.Tier]++
	}
	r.Logger.Info("reaper: session tier sweep",
		zap.Int("active", counts[sessionmgr.TierActive]),
		zap.Int("idle", counts[sessionmgr.TierIdle]),
		zap.Int("stale", counts[sessionmgr.TierStale]),
		zap.Int("abandoned", counts[sessionmgr.TierAbandoned]),
		zap.Int("no_heartbeat", counts[sessionmgr.TierNoHeartbeat]),
	)
}
