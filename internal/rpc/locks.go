package rpc

import (
	"errors"
	"net/http"
	"time"

	"github.com/cooneycw/claude-power-pack/coordinationd/internal/kvgateway"
	"github.com/cooneycw/claude-power-pack/coordinationd/internal/lockmgr"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t time.Time) *string {
	s := formatTime(t)
	return &s
}

// AcquireLock handles the acquire_lock operation (spec §6).
func (h *Handler) AcquireLock(c echo.Context) error {
	defer h.timeRPC("acquire_lock")()

	var req AcquireLockRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{"invalid request body"})
	}
	timeout := req.TimeoutSeconds
	if timeout == 0 {
		timeout = int(h.Config.DefaultLockTimeout.Seconds())
	}
	if timeout <= 0 {
		h.recordOutcome("acquire_lock", "invalid_argument")
		return c.JSON(http.StatusBadRequest, AcquireLockResponse{Success: false, Reason: "invalid_argument"})
	}

	result, err := h.Locks.Acquire(c.Request().Context(), req.LockName, time.Duration(timeout)*time.Second, h.Config.MaxLockTimeout, h.sessionContext())
	if err != nil {
		return h.writeLockError(c, "acquire_lock", err)
	}

	h.recordOutcome("acquire_lock", outcomeReason(result.Acquired, result.Reason))

	resp := AcquireLockResponse{
		Success: result.Acquired, LockName: result.LockName, Key: result.Key, Extended: result.Extended,
		Reason: string(result.Reason), Holder: result.Holder, Worktree: result.Worktree,
	}
	if !result.ExpiresAt.IsZero() {
		resp.ExpiresAt = formatTimePtr(result.ExpiresAt)
	}
	if !result.AcquiredAt.IsZero() {
		resp.AcquiredAt = formatTimePtr(result.AcquiredAt)
	}
	return c.JSON(http.StatusOK, resp)
}

// ReleaseLock handles the release_lock operation.
func (h *Handler) ReleaseLock(c echo.Context) error {
	defer h.timeRPC("release_lock")()

	var req ReleaseLockRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{"invalid request body"})
	}

	result, err := h.Locks.Release(c.Request().Context(), req.LockName, h.sessionContext())
	if err != nil {
		return h.writeLockError(c, "release_lock", err)
	}

	h.recordOutcome("release_lock", outcomeReason(result.Released, result.Reason))
	return c.JSON(http.StatusOK, ReleaseLockResponse{
		Success: result.Released, LockName: result.LockName, Reason: string(result.Reason), Holder: result.Holder,
	})
}

// CheckLock handles the check_lock operation.
func (h *Handler) CheckLock(c echo.Context) error {
	defer h.timeRPC("check_lock")()

	lockName := c.Param("lock_name")
	if lockName == "" {
		lockName = c.QueryParam("lock_name")
	}

	result, err := h.Locks.Check(c.Request().Context(), lockName, h.sessionContext())
	if err != nil {
		return h.writeLockError(c, "check_lock", err)
	}

	resp := CheckLockResponse{Available: result.Available, LockName: result.LockName}
	if !result.Available {
		resp.Holder = result.Holder
		isMine := result.IsMine
		resp.IsMine = &isMine
		resp.Worktree = result.Worktree
		resp.AcquiredAt = formatTimePtr(result.AcquiredAt)
		resp.ExpiresAt = formatTimePtr(result.ExpiresAt)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListLocks handles the list_locks operation.
func (h *Handler) ListLocks(c echo.Context) error {
	defer h.timeRPC("list_locks")()

	pattern := c.QueryParam("pattern")
	if pattern == "" {
		pattern = "*"
	}

	entries, err := h.Locks.List(c.Request().Context(), pattern, h.sessionContext())
	if err != nil {
		return h.writeLockError(c, "list_locks", err)
	}

	out := make([]LockListEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LockListEntry{
			Name: e.Name, HeldBy: e.HeldBy, IsMine: e.IsMine, Worktree: e.Worktree,
			AcquiredAt: formatTime(e.AcquiredAt), ExpiresAt: formatTime(e.ExpiresAt),
		})
	}
	return c.JSON(http.StatusOK, ListLocksResponse{Count: len(out), Pattern: pattern, Locks: out})
}

func outcomeReason(ok bool, reason lockmgr.Reason) string {
	if ok {
		return "success"
	}
	if reason == "" {
		return "unknown"
	}
	return string(reason)
}

func (h *Handler) recordOutcome(op, reason string) {
	if h.Metrics != nil {
		h.Metrics.IncrLockOutcome(op, reason)
	}
}

func (h *Handler) writeLockError(c echo.Context, op string, err error) error {
	h.recordOutcome(op, "error")
	if errors.Is(err, lockmgr.ErrInvalidArgument) {
		return c.JSON(http.StatusBadRequest, errorBody{err.Error()})
	}
	if errors.Is(err, kvgateway.ErrBackendUnavailable) {
		h.Logger.Error("backend unavailable", zap.String("op", op), zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, errorBody{"backend_unavailable"})
	}
	h.Logger.Error("rpc operation failed", zap.String("op", op), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorBody{"internal error"})
}
