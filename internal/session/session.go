// Package session guarda as sessões de jogo com expiração fixa definida na criação.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/radieske/rgs-transaction-core/internal/kv"
	"github.com/radieske/rgs-transaction-core/internal/shared/clock"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
	StatusClosed  Status = "CLOSED"
)

var (
	ErrNotFound   = errors.New("session_not_found")
	ErrExists     = errors.New("session_exists")
	ErrNotActive  = errors.New("session_not_active")
	ErrContention = errors.New("session_contention")
	ErrInvalidTTL = errors.New("session_invalid_ttl")
)

const maxCASAttempts = 8

type Session struct {
	ID            string    `json:"sessionId"`
	PlayerID      string    `json:"playerId"`
	OperatorCode  string    `json:"operatorCode"`
	GameCode      string    `json:"gameCode"`
	Currency      string    `json:"currency"`
	CachedBalance int64     `json:"cachedBalance"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Status        Status    `json:"status"`
}

// PastExpiry indica se o prazo acabou, independente do status gravado
func (s *Session) PastExpiry(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persiste sessões sobre kv.Store. O TTL físico é ttl + retention: o registro
// continua legível depois de expirar, para ser reportado como expirado e não ausente.
type Store struct {
	kv        kv.Store
	clock     clock.Clock
	retention time.Duration
}

func NewStore(s kv.Store, c clock.Clock, retention time.Duration) *Store {
	if c == nil {
		c = clock.Real{}
	}
	return &Store{kv: s, clock: c, retention: retention}
}

func key(id string) string { return "session:" + id }

// Create grava a sessão como ACTIVE; CreatedAt, ExpiresAt e Status são definidos aqui
func (st *Store) Create(ctx context.Context, s *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	now := st.clock.Now()
	s.CreatedAt = now
	s.ExpiresAt = now.Add(ttl)
	s.Status = StatusActive

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	created, err := st.kv.SetNX(ctx, key(s.ID), raw, ttl+st.retention)
	if err != nil {
		return err
	}
	if !created {
		return ErrExists
	}
	return nil
}

func (st *Store) Get(ctx context.Context, id string) (*Session, error) {
	s, _, err := st.load(ctx, id)
	return s, err
}

// Touch atualiza apenas o saldo em cache; expiração e TTL não mudam
func (st *Store) Touch(ctx context.Context, id string, balance int64) (*Session, error) {
	s, _, err := st.mutate(ctx, id, func(s *Session) (bool, error) {
		if s.CachedBalance == balance {
			return false, nil
		}
		s.CachedBalance = balance
		return true, nil
	})
	return s, err
}

// Close encerra uma sessão ACTIVE
func (st *Store) Close(ctx context.Context, id string) (*Session, error) {
	s, _, err := st.mutate(ctx, id, func(s *Session) (bool, error) {
		if s.Status != StatusActive {
			return false, fmt.Errorf("%w: %s", ErrNotActive, s.Status)
		}
		s.Status = StatusClosed
		return true, nil
	})
	return s, err
}

// Expire faz a transição ACTIVE→EXPIRED. transitioned é true só para o chamador
// que efetivamente gravou a transição; chamadas seguintes são no-op.
func (st *Store) Expire(ctx context.Context, id string) (s *Session, transitioned bool, err error) {
	return st.mutate(ctx, id, func(s *Session) (bool, error) {
		if s.Status != StatusActive {
			return false, nil
		}
		s.Status = StatusExpired
		return true, nil
	})
}

func (st *Store) load(ctx context.Context, id string) (*Session, []byte, error) {
	raw, err := st.kv.Get(ctx, key(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, raw, nil
}

// mutate aplica fn com compare-and-swap, repetindo em caso de escrita concorrente
func (st *Store) mutate(ctx context.Context, id string, fn func(*Session) (bool, error)) (*Session, bool, error) {
	for i := 0; i < maxCASAttempts; i++ {
		s, raw, err := st.load(ctx, id)
		if err != nil {
			return nil, false, err
		}
		changed, err := fn(s)
		if err != nil {
			return s, false, err
		}
		if !changed {
			return s, false, nil
		}
		next, err := json.Marshal(s)
		if err != nil {
			return nil, false, fmt.Errorf("marshal session: %w", err)
		}
		ok, err := st.kv.CompareAndSwap(ctx, key(id), raw, next, kv.KeepTTL)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return s, true, nil
		}
	}
	return nil, false, ErrContention
}
