package clock

import (
	"sync"
	"time"
)

// Clock isola a leitura do tempo; expiração de sessão e carimbos de ledger passam por aqui
type Clock interface {
	Now() time.Time
}

// Real usa o relógio do sistema, sempre em UTC
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Manual é um relógio controlado pelos testes
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance move o tempo para frente e devolve o novo instante
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}
