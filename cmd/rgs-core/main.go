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

	"github.com/radieske/rgs-transaction-core/internal/coordinator"
	"github.com/radieske/rgs-transaction-core/internal/rgs-core/app"
	rhttp "github.com/radieske/rgs-transaction-core/internal/rgs-core/http"
	"github.com/radieske/rgs-transaction-core/internal/rgs-core/producer"
	"github.com/radieske/rgs-transaction-core/internal/shared/config"
	"github.com/radieske/rgs-transaction-core/internal/shared/kafka"
	"github.com/radieske/rgs-transaction-core/internal/shared/logger"
	"github.com/radieske/rgs-transaction-core/internal/shared/metrics"
)

func main() {
	_ = godotenv.Load() // .env é opcional

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "rgs-core"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Kafka é opcional: sem brokers os eventos não são publicados
	var events coordinator.Publisher = coordinator.NopPublisher{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		pub := producer.NewKafkaPublisher(
			kafka.NewWriter(brokers, cfg.TopicTransactions),
			kafka.NewWriter(brokers, cfg.TopicReconcile),
		)
		defer pub.Close()
		events = pub
	} else {
		log.Warn("KAFKA_BROKERS not set, transaction events disabled")
	}

	a, err := app.Build(ctx, cfg, prometheus.DefaultRegisterer, events, log)
	if err != nil {
		log.Fatal("build", zap.Error(err))
	}
	defer a.Close()

	// metrics/health
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, a.Checks...)
	log.Info("metrics/health", zap.String("addr", metricsSrv.Addr))

	api := rhttp.NewServer(log, a.Coordinator)
	apiSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("rgs-core listening",
			zap.String("addr", apiSrv.Addr),
			zap.Strings("operators", a.Operators.Codes()),
		)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return a.Sweep(gctx, time.Minute) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := apiSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		// chamadas ao operador já despachadas terminam e gravam o resultado
		a.Coordinator.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("rgs-core stopped", zap.Error(err))
	}
	log.Info("rgs-core stopped")
}
