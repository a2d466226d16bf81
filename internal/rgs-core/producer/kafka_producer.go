package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	sharedkafka "github.com/radieske/rgs-transaction-core/internal/shared/kafka"
	"github.com/radieske/rgs-transaction-core/pkg/contracts/events"
)

// KafkaPublisher publica os eventos do coordinator. Mensagens são chaveadas pela
// transactionId para manter a ordem de uma mesma transação.
type KafkaPublisher struct {
	Transactions *kafka.Writer
	Reconcile    *kafka.Writer
}

func NewKafkaPublisher(transactions, reconcile *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{Transactions: transactions, Reconcile: reconcile}
}

func (p *KafkaPublisher) TransactionCompleted(ctx context.Context, e events.TransactionCompleted) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal transaction completed: %w", err)
	}
	return sharedkafka.WriteJSON(ctx, p.Transactions, key(e.OperatorCode, e.TransactionID), b)
}

func (p *KafkaPublisher) ReconcileRequested(ctx context.Context, e events.ReconcileRequested) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal reconcile requested: %w", err)
	}
	return sharedkafka.WriteJSON(ctx, p.Reconcile, key(e.OperatorCode, e.TransactionID), b)
}

func key(operatorCode, transactionID string) string {
	return operatorCode + ":" + transactionID
}

func (p *KafkaPublisher) Close() error {
	return errors.Join(p.Transactions.Close(), p.Reconcile.Close())
}
