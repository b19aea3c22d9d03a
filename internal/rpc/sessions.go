package rpc

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterSession handles the register_session operation.
func (h *Handler) RegisterSession(c echo.Context) error {
	defer h.timeRPC("register_session")()

	var req RegisterSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{"invalid request body"})
	}

	result, err := h.Sessions.Register(c.Request().Context(), h.SessionID, h.Worktree, req.Metadata)
	if err != nil {
		return h.writeLockError(c, "register_session", err)
	}
	return c.JSON(http.StatusOK, RegisterSessionResponse{
		Success: true, SessionID: result.SessionID, RegisteredAt: formatTime(result.RegisteredAt),
	})
}

// Heartbeat handles the heartbeat operation.
func (h *Handler) Heartbeat(c echo.Context) error {
	defer h.timeRPC("heartbeat")()

	result, err := h.Sessions.Heartbeat(c.Request().Context(), h.SessionID)
	if err != nil {
		return h.writeLockError(c, "heartbeat", err)
	}
	return c.JSON(http.StatusOK, HeartbeatResponse{
		Success: true, SessionID: result.SessionID, Timestamp: formatTime(result.Timestamp),
	})
}

// SessionStatus handles the session_status operation.
func (h *Handler) SessionStatus(c echo.Context) error {
	defer h.timeRPC("session_status")()

	result, err := h.Sessions.Status(c.Request().Context(), h.SessionID)
	if err != nil {
		return h.writeLockError(c, "session_status", err)
	}

	entries := make([]SessionStatusEntry, 0, len(result.Sessions))
	for _, s := range result.Sessions {
		entries = append(entries, SessionStatusEntry{
			SessionID: s.SessionID, IsMe: s.IsMe, Status: string(s.Tier), TierSymbol: s.TierSymbol,
			Worktree: s.Worktree, StartedAt: formatTime(s.StartedAt), HeartbeatAgeSecs: s.HeartbeatAgeSecs,
			Metadata: s.Metadata,
		})
	}
	return c.JSON(http.StatusOK, SessionStatusResponse{
		MySession: result.MySessionID, SessionCount: len(entries), Sessions: entries,
	})
}

// UnregisterSession handles the unregister_session operation (recovered in
// SPEC_FULL.md §3 — present in the source and in spec.md §4.4 but missing
// from spec.md's §6 RPC table).
func (h *Handler) UnregisterSession(c echo.Context) error {
	defer h.timeRPC("unregister_session")()

	result, err := h.Sessions.Unregister(c.Request().Context(), h.SessionID)
	if err != nil {
		return h.writeLockError(c, "unregister_session", err)
	}
	released := result.ReleasedLocks
	if released == nil {
		released = []string{}
	}
	return c.JSON(http.StatusOK, UnregisterSessionResponse{
		Success: true, SessionID: result.SessionID, ReleasedLocks: released,
	})
}
