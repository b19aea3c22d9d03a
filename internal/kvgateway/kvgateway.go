// Package kvgateway is the narrow, typed surface over the backing store
// (spec §4.1). It owns connection pooling/reconnection and hides every
// etcd-specific detail from the Lock Manager and Session Manager.
package kvgateway

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable is returned when the backing store could not be
// reached or a call timed out. It is a distinct error kind from "key not
// found" per spec §4.1; callers (LM/SM) treat it as fatal to the current
// RPC and never synthesize lock state around it.
var ErrBackendUnavailable = errors.New("kvgateway: backend unavailable")

// ErrInvalidPattern is returned by Scan for patterns containing characters
// the gateway refuses to interpret as a glob.
var ErrInvalidPattern = errors.New("kvgateway: invalid scan pattern")

// Info is the result of ServerInfo.
type Info struct {
	Version       string
	UptimeSeconds int64
}

// Gateway is the complete KVG surface spec §4.1 names. Both the etcd-backed
// implementation and the in-memory fake used by LM/SM unit tests satisfy
// this interface.
type Gateway interface {
	// Get returns the stored bytes if present.
	Get(ctx context.Context, key string) (value []byte, present bool, err error)

	// PutIfAbsent atomically creates key only if it does not already exist,
	// applying ttl (zero means no expiry) on success. The existence check
	// and the write are bound in one atomic step; with a non-zero ttl the
	// etcd gateway grants the lease in a separate round trip before it.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (acquired bool, err error)

	// Put unconditionally writes key. ttl of zero means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Expire re-applies ttl to an existing key, rewriting it under a fresh
	// lease; if the key is absent it writes nothing and returns an error.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes key unconditionally.
	Delete(ctx context.Context, key string) error

	// DeleteIfValueEqual deletes key only if its current stored value
	// equals expected, atomically. Used to harden LM's release against the
	// race spec §9 flags in the read-then-delete source behavior.
	DeleteIfValueEqual(ctx context.Context, key string, expected []byte) (deleted bool, err error)

	// Scan enumerates keys matching a glob pattern ('*' wildcard). Safe to
	// call against large keyspaces: implementations paginate rather than
	// perform a single blocking full scan.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) (ok bool, err error)

	// ServerInfo reports backend version/uptime.
	ServerInfo(ctx context.Context) (Info, error)

	// Close tears down the connection pool.
	Close() error
}
