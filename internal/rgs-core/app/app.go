// Package app monta o coordinator a partir da configuração. É compartilhado pelo
// rgs-core e pelo reconciliation-worker, que precisam enxergar o mesmo ledger.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/rgs-transaction-core/internal/coordinator"
	"github.com/radieske/rgs-transaction-core/internal/kv"
	"github.com/radieske/rgs-transaction-core/internal/ledger"
	"github.com/radieske/rgs-transaction-core/internal/lock"
	"github.com/radieske/rgs-transaction-core/internal/operator"
	"github.com/radieske/rgs-transaction-core/internal/session"
	"github.com/radieske/rgs-transaction-core/internal/shared/cache"
	"github.com/radieske/rgs-transaction-core/internal/shared/clock"
	"github.com/radieske/rgs-transaction-core/internal/shared/config"
	"github.com/radieske/rgs-transaction-core/internal/shared/db"
	"github.com/radieske/rgs-transaction-core/internal/shared/metrics"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

var (
	ErrUnknownBackend = errors.New("unknown backend")
	// lock.Local só serializa dentro de um processo; com ledger e sessões
	// compartilhados o core e o worker precisam do mesmo lock
	ErrLocalLockShared = errors.New("local lock requires memory session and ledger backends")
)

type App struct {
	Coordinator *coordinator.Coordinator
	Operators   *operator.Registry
	Checks      []metrics.HealthFunc

	log    *zap.Logger
	rdb    *redis.Client
	pg     *sql.DB
	pgKV   *kv.Postgres
	memKV  *kv.Memory
	clock  clock.Clock
	stores map[string]kv.Store
}

// Build conecta os backends escolhidos e devolve o coordinator pronto
func Build(ctx context.Context, cfg config.Config, reg prometheus.Registerer, events coordinator.Publisher, log *zap.Logger) (*App, error) {
	if cfg.LockBackend == "local" && (cfg.SessionBackend != BackendMemory || cfg.LedgerBackend != BackendMemory) {
		return nil, fmt.Errorf("lock backend local with %s sessions and %s ledger: %w",
			cfg.SessionBackend, cfg.LedgerBackend, ErrLocalLockShared)
	}

	a := &App{log: log, clock: clock.Real{}, stores: make(map[string]kv.Store)}

	sessions, err := a.store(ctx, cfg, cfg.SessionBackend)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("session backend: %w", err)
	}
	txns, err := a.store(ctx, cfg, cfg.LedgerBackend)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ledger backend: %w", err)
	}

	var locks lock.Locker
	switch cfg.LockBackend {
	case "local":
		locks = lock.NewLocal()
	case "", BackendRedis:
		// lease distribuído: várias réplicas do core atrás do mesmo balanceador
		s, err := a.store(ctx, cfg, BackendRedis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("lock backend: %w", err)
		}
		locks = lock.NewLease(s, cfg.LockTTL, log)
	default:
		a.Close()
		return nil, fmt.Errorf("lock backend %q: %w", cfg.LockBackend, ErrUnknownBackend)
	}

	ops, err := operator.FromConfig(cfg, operator.NewMetrics(reg), log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Operators = ops

	a.Coordinator = coordinator.New(coordinator.Config{
		SessionTTL:  cfg.SessionTTL,
		PendingWait: cfg.PendingWait,
		LockWait:    cfg.LockWait,
	}, coordinator.Deps{
		Sessions:  session.NewStore(sessions, a.clock, cfg.SessionRetention),
		Ledger:    ledger.New(txns, a.clock).WithClaimLease(cfg.ClaimLease),
		Operators: ops,
		Locks:     locks,
		Events:    events,
		Clock:     a.clock,
		Metrics:   coordinator.NewMetrics(reg),
	}, log)

	for _, s := range a.stores {
		a.Checks = append(a.Checks, s.Ping)
	}
	return a, nil
}

// store devolve (e memoriza) o kv.Store de um backend
func (a *App) store(ctx context.Context, cfg config.Config, backend string) (kv.Store, error) {
	if s, ok := a.stores[backend]; ok {
		return s, nil
	}
	var s kv.Store
	switch backend {
	case BackendRedis:
		rdb, err := cache.ConnectRedis(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		s = kv.NewRedis(rdb)
	case BackendPostgres:
		pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.pg = pg
		a.pgKV = kv.NewPostgres(pg, a.clock)
		if err := a.pgKV.Migrate(ctx); err != nil {
			return nil, err
		}
		s = a.pgKV
	case BackendMemory:
		// só serve para um processo único (dev e testes)
		if a.memKV == nil {
			a.memKV = kv.NewMemory(a.clock)
		}
		s = a.memKV
	default:
		return nil, fmt.Errorf("%q: %w", backend, ErrUnknownBackend)
	}
	a.stores[backend] = s
	return s, nil
}

// Sweep remove periodicamente as entradas expiradas da tabela kv no Postgres.
// Não faz nada quando nenhum backend usa Postgres.
func (a *App) Sweep(ctx context.Context, every time.Duration) error {
	if a.pgKV == nil {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := a.pgKV.Sweep(ctx)
			if err != nil {
				a.log.Warn("kv sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.log.Debug("kv sweep", zap.Int64("removed", n))
			}
		}
	}
}

func (a *App) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
}
