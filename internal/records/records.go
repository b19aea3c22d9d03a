// Package records defines the persisted value shapes of spec §3 (Lock and
// Session; a heartbeat is stored as a bare RFC 3339 timestamp string, not a
// record) and their wire codec. Spec §3 states the exact
// serialization is "not observable outside the core," so the codec is
// swappable; it defaults to msgpack, with JSON kept available for
// debugging and export.
package records

import (
	"encoding/json"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Lock is the value stored at <root>:locks:<scope>.
type Lock struct {
	SessionID  string    `msgpack:"session_id" json:"session_id"`
	AcquiredAt time.Time `msgpack:"acquired_at" json:"acquired_at"`
	ExpiresAt  time.Time `msgpack:"expires_at" json:"expires_at"`
	Worktree   string    `msgpack:"worktree" json:"worktree"`
}

// Session is the value stored at <root>:sessions:<session-id>.
type Session struct {
	SessionID     string            `msgpack:"session_id" json:"session_id"`
	StartedAt     time.Time         `msgpack:"started_at" json:"started_at"`
	Worktree      string            `msgpack:"worktree" json:"worktree"`
	Status        string            `msgpack:"status" json:"status"`
	Metadata      map[string]string `msgpack:"metadata" json:"metadata"`
	LastHeartbeat *time.Time        `msgpack:"last_heartbeat,omitempty" json:"last_heartbeat,omitempty"`
}

const (
	StatusActive      = "active"
	StatusNoHeartbeat = "no_heartbeat"
)

// Codec encodes and decodes record values. Callers never depend on the
// concrete byte shape, only on round-tripping the fields above.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MsgpackCodec is the default deployment-wide codec.
type MsgpackCodec struct{}

func (MsgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// JSONCodec is kept available for debugging and for exporting records to
// tools that don't speak msgpack; it is never the default.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
