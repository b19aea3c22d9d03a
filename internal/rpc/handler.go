// Package rpc is the thin tool-RPC dispatch shim of spec §6: one handler
// per operation, JSON request/response bodies standing in for the
// out-of-scope transport layer. It is generalized from the donor KV
// store's routes.SetupRoutes/handlers.Handler split.
package rpc

import (
	"time"

	"github.com/cooneycw/claude-power-pack/coordinationd/internal/config"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/kvgateway"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/lockmgr"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/metrics"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/naming"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/sessionmgr"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/vcsbranch"
	"go.uber.org/zap"
)

// Handler wraps the four core components plus the identity/config the
// process was started with.
type Handler struct {
	Config   *config.Config
	KV       kvgateway.Gateway
	Resolver *naming.Resolver
	Locks    *lockmgr.Manager
	Sessions *sessionmgr.Manager
	Branch   vcsbranch.Resolver
	Metrics  *metrics.Sink
	Logger   *zap.Logger

	SessionID string
	Worktree  string
}

// NewHandler constructs a Handler from its collaborators.
func NewHandler(cfg *config.Config, kv kvgateway.Gateway, resolver *naming.Resolver, locks *lockmgr.Manager, sessions *sessionmgr.Manager, branch vcsbranch.Resolver, m *metrics.Sink, logger *zap.Logger, sessionID, worktree string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Config: cfg, KV: kv, Resolver: resolver, Locks: locks, Sessions: sessions,
		Branch: branch, Metrics: m, Logger: logger, SessionID: sessionID, Worktree: worktree,
	}
}

func (h *Handler) sessionContext() lockmgr.SessionContext {
	var branch *string
	if h.Branch != nil {
		if b, ok := h.Branch.CurrentBranch(); ok {
			branch = &b
		}
	}
	return lockmgr.SessionContext{SessionID: h.SessionID, Worktree: h.Worktree, CurrentBranch: branch}
}

func (h *Handler) timeRPC(op string) func() {
	start := time.Now()
	return func() {
		if h.Metrics != nil {
			h.Metrics.ObserveRPCLatency(op, time.Since(start))
		}
	}
}
