package kv

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/radieske/rgs-transaction-core/internal/shared/clock"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero = não expira
}

// Memory guarda tudo em um map protegido por mutex. Usado em testes e em modo local.
type Memory struct {
	mu    sync.Mutex
	data  map[string]memEntry
	clock clock.Clock
}

func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.Real{}
	}
	return &Memory{data: make(map[string]memEntry), clock: c}
}

func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.clock.Now().Before(e.expiresAt) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock.Now().Add(ttl)
}

func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.data[key] = memEntry{value: bytes.Clone(value), expiresAt: m.deadline(ttl)}
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memEntry{value: bytes.Clone(value), expiresAt: m.deadline(ttl)}
	return nil
}

func (m *Memory) CompareAndSwap(_ context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || !bytes.Equal(e.value, old) {
		return false, nil
	}
	exp := e.expiresAt
	if ttl != KeepTTL {
		exp = m.deadline(ttl)
	}
	m.data[key] = memEntry{value: bytes.Clone(value), expiresAt: exp}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) CompareAndDelete(_ context.Context, key string, old []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || !bytes.Equal(e.value, old) {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
