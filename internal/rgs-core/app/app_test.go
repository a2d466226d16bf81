package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/radieske/rgs-transaction-core/internal/coordinator"
	"github.com/radieske/rgs-transaction-core/internal/shared/config"
)

func memoryConfig() config.Config {
	return config.Config{
		SessionBackend: BackendMemory,
		LedgerBackend:  BackendMemory,
		LockBackend:    "local",
		SessionTTL:     time.Minute,
		Operators: []config.OperatorConfig{
			{Code: "acme", Format: "standard", BaseURL: "http://127.0.0.1:1", Secret: "s"},
		},
		BetRetry: config.DefaultBetRetry(),
		WinRetry: config.DefaultWinRetry(),
	}
}

func TestBuildWithMemoryBackends(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig(), nil, coordinator.NopPublisher{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.Coordinator == nil {
		t.Fatal("no coordinator")
	}
	if _, err := a.Operators.Get("acme"); err != nil {
		t.Fatalf("operator not registered: %v", err)
	}
	// sessão e ledger compartilham o mesmo store em memória
	if len(a.Checks) != 1 {
		t.Fatalf("checks = %d, want 1", len(a.Checks))
	}
	for _, check := range a.Checks {
		if err := check(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Sweep(ctx, time.Millisecond); err != nil {
		t.Fatal(err)
	}
}

func TestBuildRejectsUnknownBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.LedgerBackend = "etcd"
	if _, err := Build(context.Background(), cfg, nil, nil, zaptest.NewLogger(t)); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("err = %v", err)
	}

	cfg = memoryConfig()
	cfg.LockBackend = "zookeeper"
	if _, err := Build(context.Background(), cfg, nil, nil, zaptest.NewLogger(t)); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildRejectsLocalLockWithSharedBackends(t *testing.T) {
	for _, backends := range [][2]string{
		{BackendRedis, BackendPostgres},
		{BackendMemory, BackendPostgres},
		{BackendRedis, BackendMemory},
	} {
		cfg := memoryConfig()
		cfg.SessionBackend, cfg.LedgerBackend = backends[0], backends[1]
		// falha antes de conectar em qualquer backend
		if _, err := Build(context.Background(), cfg, nil, nil, zaptest.NewLogger(t)); !errors.Is(err, ErrLocalLockShared) {
			t.Fatalf("%v: err = %v", backends, err)
		}
	}
}

func TestBuildDefaultsToDistributedLock(t *testing.T) {
	cfg := memoryConfig()
	cfg.LockBackend = ""
	cfg.RedisAddr = "127.0.0.1:1"
	if _, err := Build(context.Background(), cfg, nil, nil, zaptest.NewLogger(t)); err == nil || !strings.Contains(err.Error(), "lock backend") {
		t.Fatalf("empty lock backend must build the redis lease, got %v", err)
	}
}
