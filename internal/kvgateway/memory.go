package kvgateway

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cooneycw/claude-power-pack/coordinationd/internal/clock"
)

// Memory is an in-process Gateway used by Lock Manager and Session Manager
// unit tests so they never require a live etcd. TTL expiry is evaluated
// lazily against the supplied clock on every access, exactly like the real
// backend's expiry is invisible until the next read.
type Memory struct {
	mu    sync.Mutex
	clk   clock.Clock
	items map[string]memItem
}

type memItem struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// NewMemory returns an empty in-memory gateway driven by clk.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.Real()
	}
	return &Memory{clk: clk, items: make(map[string]memItem)}
}

func (m *Memory) expiredLocked(key string) bool {
	item, ok := m.items[key]
	if !ok {
		return true
	}
	if !item.expires.IsZero() && !m.clk.Now().Before(item.expires) {
		delete(m.items, key)
		return true
	}
	return false
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiredLocked(key) {
		return nil, false, nil
	}
	item := m.items[key]
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, true, nil
}

func (m *Memory) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.expiredLocked(key) {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

func (m *Memory) setLocked(key string, value []byte, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = m.clk.Now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.items[key] = memItem{value: stored, expires: expires}
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiredLocked(key) {
		return fmt.Errorf("kvgateway: expire: key %q not found", key)
	}
	item := m.items[key]
	m.setLocked(key, item.value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) DeleteIfValueEqual(_ context.Context, key string, expected []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiredLocked(key) {
		return false, nil
	}
	item := m.items[key]
	if string(item.value) != string(expected) {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

func (m *Memory) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []string
	for key := range m.items {
		if m.expiredLocked(key) {
			continue
		}
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

func (m *Memory) Ping(context.Context) (bool, error) {
	return true, nil
}

func (m *Memory) ServerInfo(context.Context) (Info, error) {
	return Info{Version: "memory-fake", UptimeSeconds: 0}, nil
}

func (m *Memory) Close() error {
	return nil
}

// keysUnderPrefix is a convenience used by tests to inspect state directly.
func (m *Memory) keysUnderPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for key := range m.items {
		if strings.HasPrefix(key, prefix) && !m.expiredLocked(key) {
			out = append(out, key)
		}
	}
	return out
}

var _ Gateway = (*Memory)(nil)
