package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	sharedkafka "github.com/radieske/rgs-transaction-core/internal/shared/kafka"
	"github.com/radieske/rgs-transaction-core/pkg/contracts/events"
)

// KafkaRequeue publica pedidos num tópico (o próprio rgs_reconcile ou a DLQ)
type KafkaRequeue struct {
	Writer *kafka.Writer
}

func (k KafkaRequeue) ReconcileRequested(ctx context.Context, ev events.ReconcileRequested) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal reconcile requested: %w", err)
	}
	return sharedkafka.WriteJSON(ctx, k.Writer, ev.OperatorCode+":"+ev.TransactionID, b)
}
