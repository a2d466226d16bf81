package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/rgs-transaction-core/internal/shared/config"
	"github.com/radieske/rgs-transaction-core/internal/shared/db"
	"github.com/radieske/rgs-transaction-core/internal/shared/logger"
	"github.com/radieske/rgs-transaction-core/internal/shared/metrics"
	simhttp "github.com/radieske/rgs-transaction-core/internal/wallet-simulator/http"
	"github.com/radieske/rgs-transaction-core/internal/wallet-simulator/repo"
	"github.com/radieske/rgs-transaction-core/internal/wallet-simulator/token"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "wallet-simulator"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		wallets repo.Repo
		checks  []metrics.HealthFunc
	)
	switch cfg.SimulatorWalletRepo {
	case "postgres":
		pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("pg connect", zap.Error(err))
		}
		defer pg.Close()
		p := repo.NewPostgres(pg)
		if err := p.Migrate(ctx); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
		wallets = p
		checks = append(checks, pg.PingContext)
	default:
		wallets = repo.NewMemory()
	}

	format := cfg.SimulatorFormat
	if format == "both" {
		format = ""
	}
	sim := simhttp.NewServer(log, wallets, token.NewIssuer(cfg.SimulatorJWTSecret), simhttp.Options{
		Format:   format,
		Secret:   cfg.SimulatorSecret,
		APIKey:   cfg.SimulatorAPIKey,
		FailRate: cfg.SimulatorFailRate,
		Metrics:  simhttp.NewMetrics(prometheus.DefaultRegisterer),
	})

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, checks...)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           sim.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("wallet-simulator listening",
			zap.String("addr", srv.Addr),
			zap.String("format", cfg.SimulatorFormat),
			zap.String("repo", cfg.SimulatorWalletRepo),
			zap.Float64("fail_rate", cfg.SimulatorFailRate),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("wallet-simulator stopped", zap.Error(err))
	}
}
