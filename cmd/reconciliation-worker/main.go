package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/rgs-transaction-core/internal/reconciliation"
	"github.com/radieske/rgs-transaction-core/internal/rgs-core/app"
	"github.com/radieske/rgs-transaction-core/internal/rgs-core/producer"
	"github.com/radieske/rgs-transaction-core/internal/shared/config"
	"github.com/radieske/rgs-transaction-core/internal/shared/kafka"
	"github.com/radieske/rgs-transaction-core/internal/shared/logger"
	"github.com/radieske/rgs-transaction-core/internal/shared/metrics"
	ctopics "github.com/radieske/rgs-transaction-core/pkg/contracts/topics"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "reconciliation-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Kafka consumer: pedidos de reconciliação de WINs
	reader := kafka.NewReader(brokers, cfg.TopicReconcile, "reconciliation-worker")
	defer reader.Close()

	// O coordinator do worker publica os mesmos eventos que o core
	pub := producer.NewKafkaPublisher(
		kafka.NewWriter(brokers, cfg.TopicTransactions),
		kafka.NewWriter(brokers, cfg.TopicReconcile),
	)
	defer pub.Close()

	dlqWriter := kafka.NewWriter(brokers, ctopics.ReconcileRequestedDLQ)
	defer dlqWriter.Close()

	a, err := app.Build(ctx, cfg, prometheus.DefaultRegisterer, pub, log)
	if err != nil {
		log.Fatal("build", zap.Error(err))
	}
	defer a.Close()

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, a.Checks...)
	defer metricsSrv.Close()

	proc := &reconciliation.Processor{
		Log:        log,
		Source:     reader,
		Reconciler: a.Coordinator,
		Requeue:    pub, // volta para o mesmo tópico com notBefore adiado
		DLQ:        reconciliation.KafkaRequeue{Writer: dlqWriter},
		Metrics:    reconciliation.NewMetrics(prometheus.DefaultRegisterer),
		Opts: reconciliation.Options{
			InitialDelay: 5 * time.Second,
			MaxDelay:     5 * time.Minute,
			MaxAttempts:  50,
		},
	}

	log.Info("reconciliation-worker started",
		zap.String("consume", cfg.TopicReconcile),
		zap.String("dlq", ctopics.ReconcileRequestedDLQ),
	)

	if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", zap.Error(err))
	}
	a.Coordinator.Wait()
	log.Info("reconciliation-worker stopped")
}
