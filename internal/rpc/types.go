package rpc

// Request/response bodies mirror the success/failure shapes of spec §6
// exactly; serialization at this transport boundary flattens LM/SM's
// tagged-variant results back into a discriminated JSON map, per the
// re-expression notes in spec §9.

type AcquireLockRequest struct {
	LockName       string `json:"lock_name"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type AcquireLockResponse struct {
	Success    bool    `json:"success"`
	LockName   string  `json:"lock_name,omitempty"`
	Key        string  `json:"key,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
	Extended   bool    `json:"extended,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Holder     string  `json:"holder,omitempty"`
	Worktree   string  `json:"worktree,omitempty"`
	AcquiredAt *string `json:"acquired_at,omitempty"`
}

type ReleaseLockRequest struct {
	LockName string `json:"lock_name"`
}

type ReleaseLockResponse struct {
	Success  bool   `json:"success"`
	LockName string `json:"lock_name,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Holder   string `json:"holder,omitempty"`
}

type CheckLockRequest struct {
	LockName string `json:"lock_name"`
}

type CheckLockResponse struct {
	Available  bool    `json:"available"`
	LockName   string  `json:"lock_name"`
	Holder     string  `json:"holder,omitempty"`
	IsMine     *bool   `json:"is_mine,omitempty"`
	Worktree   string  `json:"worktree,omitempty"`
	AcquiredAt *string `json:"acquired_at,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
}

type ListLocksRequest struct {
	Pattern string `json:"pattern"`
}

type LockListEntry struct {
	Name       string `json:"name"`
	HeldBy     string `json:"held_by"`
	IsMine     bool   `json:"is_mine"`
	Worktree   string `json:"worktree"`
	AcquiredAt string `json:"acquired_at"`
	ExpiresAt  string `json:"expires_at"`
}

type ListLocksResponse struct {
	Count   int             `json:"count"`
	Pattern string          `json:"pattern"`
	Locks   []LockListEntry `json:"locks"`
}

type RegisterSessionRequest struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

type RegisterSessionResponse struct {
	Success      bool   `json:"success"`
	SessionID    string `json:"session_id"`
	RegisteredAt string `json:"registered_at"`
}

type HeartbeatResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

type SessionStatusEntry struct {
	SessionID        string            `json:"session_id"`
	IsMe             bool              `json:"is_me"`
	Status           string            `json:"status"`
	TierSymbol       string            `json:"tier_symbol,omitempty"`
	Worktree         string            `json:"worktree,omitempty"`
	StartedAt        string            `json:"started_at,omitempty"`
	HeartbeatAgeSecs *float64          `json:"heartbeat_age_seconds,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type SessionStatusResponse struct {
	MySession    string               `json:"my_session"`
	SessionCount int                  `json:"session_count"`
	Sessions     []SessionStatusEntry `json:"sessions"`
}

type UnregisterSessionResponse struct {
	Success       bool     `json:"success"`
	SessionID     string   `json:"session_id"`
	ReleasedLocks []string `json:"released_locks"`
}

type BackendHealth struct {
	Connected     bool   `json:"connected"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Error         string `json:"error,omitempty"`
}

type HealthCheckResponse struct {
	Server    string         `json:"server"`
	Port      string         `json:"port"`
	SessionID string         `json:"session_id"`
	Backend   BackendHealth  `json:"backend"`
	Metrics   map[string]int `json:"metrics,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}
