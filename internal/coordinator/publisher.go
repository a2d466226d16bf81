package coordinator

import (
	"context"

	"github.com/radieske/rgs-transaction-core/pkg/contracts/events"
)

// Publisher recebe os eventos de saída do coordinator (Kafka em produção)
type Publisher interface {
	TransactionCompleted(ctx context.Context, ev events.TransactionCompleted) error
	ReconcileRequested(ctx context.Context, ev events.ReconcileRequested) error
}

type NopPublisher struct{}

func (NopPublisher) TransactionCompleted(context.Context, events.TransactionCompleted) error {
	return nil
}

func (NopPublisher) ReconcileRequested(context.Context, events.ReconcileRequested) error {
	return nil
}
