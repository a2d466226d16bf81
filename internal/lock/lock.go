// Package lock serializa operações de uma mesma sessão.
//
// Quem chega depois espera na fila até o limite do contexto. Local serve para uma
// instância só; Lease usa o kv compartilhado (Redis em produção) para várias instâncias.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/rgs-transaction-core/internal/kv"
	"github.com/radieske/rgs-transaction-core/internal/shared/ids"
)

var ErrTimeout = errors.New("lock_timeout")

// Unlock é idempotente
type Unlock func()

type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

type slot struct {
	ch   chan struct{}
	refs int
}

// Local é uma fila por chave dentro do processo
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *Local) release(key string, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// Lease é um lock distribuído: SET-NX com TTL e token do dono, renovado enquanto
// estiver em uso e liberado com compare-and-delete.
type Lease struct {
	kv   kv.Store
	ttl  time.Duration
	poll time.Duration
	log  *zap.Logger
}

func NewLease(s kv.Store, ttl time.Duration, log *zap.Logger) *Lease {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Lease{kv: s, ttl: ttl, poll: 25 * time.Millisecond, log: log}
}

func leaseKey(key string) string { return "lock:" + key }

func (l *Lease) Lock(ctx context.Context, key string) (Unlock, error) {
	k := leaseKey(key)
	token := []byte(ids.New())

	t := time.NewTicker(l.poll)
	defer t.Stop()
	for {
		ok, err := l.kv.SetNX(ctx, k, token, l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, key, ctx.Err())
		case <-t.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(k, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := l.kv.CompareAndDelete(rctx, k, token); err != nil {
				// o TTL libera a chave de qualquer forma
				l.log.Warn("lease release failed", zap.String("key", k), zap.Error(err))
			}
		})
	}, nil
}

// keepAlive renova o TTL a cada terço do prazo enquanto o lock estiver em uso
func (l *Lease) keepAlive(k string, token []byte, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			ok, err := l.kv.CompareAndSwap(ctx, k, token, token, l.ttl)
			cancel()
			if err != nil {
				l.log.Warn("lease renew failed", zap.String("key", k), zap.Error(err))
				continue
			}
			if !ok {
				l.log.Error("lease lost", zap.String("key", k))
				return
			}
		}
	}
}
