package rpc

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// DebugVars handles a /debug/vars-style introspection operation (in the
// spirit of stdlib's expvar), dumping the current interval's raw lock
// outcome counters and RPC latency samples for ad-hoc inspection, beyond
// what health_check's summarized Metrics block carries.
func (h *Handler) DebugVars(c echo.Context) error {
	defer h.timeRPC("debug_vars")()

	if h.Metrics == nil {
		return c.JSON(http.StatusOK, map[string]any{})
	}
	return c.JSON(http.StatusOK, h.Metrics.Snapshot())
}
