// Package kv é a camada de armazenamento compartilhada por sessões, ledger e locks.
// Oferece as primitivas atômicas que o resto do core precisa: set-if-absent,
// compare-and-swap e compare-and-delete, com TTL opcional por chave.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("kv_not_found")
	// ErrUnavailable envolve qualquer falha do backend; chamadores devem falhar fechado
	ErrUnavailable = errors.New("kv_unavailable")
)

// KeepTTL preserva a expiração atual da chave em CompareAndSwap
const KeepTTL time.Duration = -1

// Store é implementado por memory, redis e postgres.
// ttl == 0 significa sem expiração.
type Store interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error)
	Ping(ctx context.Context) error
}
