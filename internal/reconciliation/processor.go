// Package reconciliation consome pedidos de reconciliação de WINs e os reentrega
// ao operador até que fiquem finais.
package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/rgs-transaction-core/internal/coordinator"
	"github.com/radieske/rgs-transaction-core/internal/shared/clock"
	sharedkafka "github.com/radieske/rgs-transaction-core/internal/shared/kafka"
	"github.com/radieske/rgs-transaction-core/pkg/contracts/events"
)

// Source é o lado de leitura do tópico (kafka.Reader em produção)
type Source interface {
	sharedkafka.Fetcher
	CommitMessages(ctx context.Context, msgs ...sharedkafka.Message) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, operatorCode, transactionID string) (*coordinator.Outcome, error)
}

// Requeuer publica um pedido de reconciliação (de volta no tópico ou na DLQ)
type Requeuer interface {
	ReconcileRequested(ctx context.Context, ev events.ReconcileRequested) error
}

type Options struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int // rodadas antes da DLQ; 0 = sem limite
}

// Processor lê pedidos, chama Reconcile e reagenda os que continuam incertos
type Processor struct {
	Log        *zap.Logger
	Source     Source
	Reconciler Reconciler
	Requeue    Requeuer
	DLQ        Requeuer // opcional
	Clock      clock.Clock
	Metrics    *Metrics
	Opts       Options

	// sleep é substituível em testes
	sleep func(ctx context.Context, d time.Duration) error
}

func (p *Processor) defaults() {
	if p.Clock == nil {
		p.Clock = clock.Real{}
	}
	if p.Opts.InitialDelay <= 0 {
		p.Opts.InitialDelay = 5 * time.Second
	}
	if p.Opts.MaxDelay < p.Opts.InitialDelay {
		p.Opts.MaxDelay = 5 * time.Minute
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
}

// Run inicia o loop de consumo; a mensagem só é commitada depois de tratada
func (p *Processor) Run(ctx context.Context) error {
	p.defaults()
	for {
		m, err := sharedkafka.FetchNext(ctx, p.Source)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka fetch failed", zap.Error(err))
			p.Metrics.result("read_error")
			if err := p.sleep(ctx, 500*time.Millisecond); err != nil {
				return err
			}
			continue
		}

		var ev events.ReconcileRequested
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.TransactionID == "" || ev.OperatorCode == "" {
			p.Log.Warn("invalid reconcile message", zap.ByteString("key", m.Key), zap.Error(err))
			p.Metrics.result("decode_error")
		} else {
			for {
				err := p.Handle(ctx, ev)
				if err == nil {
					break
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.Log.Error("reconcile handling failed, retrying", zap.String("transaction_id", ev.TransactionID), zap.Error(err))
				if err := p.sleep(ctx, time.Second); err != nil {
					return err
				}
			}
		}

		if err := p.Source.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka commit failed", zap.Error(err))
		}
	}
}

// Handle trata um pedido. Só devolve erro quando o pedido não pôde ser nem
// resolvido nem reagendado; nesse caso a mensagem não deve ser commitada.
func (p *Processor) Handle(ctx context.Context, ev events.ReconcileRequested) error {
	p.defaults()
	log := p.Log.With(
		zap.String("operator", ev.OperatorCode),
		zap.String("transaction_id", ev.TransactionID),
		zap.Int("attempt", ev.Attempt),
	)

	if wait := ev.NotBefore.Sub(p.Clock.Now()); wait > 0 {
		if err := p.sleep(ctx, min(wait, p.Opts.MaxDelay)); err != nil {
			return err
		}
	}

	out, err := p.Reconciler.Reconcile(ctx, ev.OperatorCode, ev.TransactionID)
	switch {
	case err == nil:
		log.Info("win reconciled", zap.String("status", string(out.Status)))
		p.Metrics.result("confirmed")
		return nil

	case retryable(err):
		next := ev
		next.Attempt++
		next.Reason = err.Error()
		if p.Opts.MaxAttempts > 0 && next.Attempt >= p.Opts.MaxAttempts {
			log.Error("reconciliation attempts exhausted, sending to dead letter", zap.Error(err))
			p.Metrics.result("dead_letter")
			if p.DLQ == nil {
				return nil
			}
			return p.DLQ.ReconcileRequested(ctx, next)
		}
		next.NotBefore = p.Clock.Now().Add(p.delay(next.Attempt))
		log.Warn("win still indeterminate, requeued", zap.Time("not_before", next.NotBefore), zap.Error(err))
		p.Metrics.result("requeued")
		return p.Requeue.ReconcileRequested(ctx, next)

	default:
		// final (recusado) ou sem registro: nada mais a fazer aqui
		log.Warn("reconciliation finished without credit", zap.String("code", coordinator.Code(err)), zap.Error(err))
		p.Metrics.result("failed")
		return nil
	}
}

func retryable(err error) bool {
	return errors.Is(err, coordinator.ErrReconciliationPending) ||
		errors.Is(err, coordinator.ErrTransactionInProgress) ||
		errors.Is(err, coordinator.ErrSessionBusy) ||
		errors.Is(err, coordinator.ErrLedgerUnavailable)
}

// delay cresce exponencialmente a partir de InitialDelay até MaxDelay
func (p *Processor) delay(attempt int) time.Duration {
	d := p.Opts.InitialDelay
	for i := 1; i < attempt && d < p.Opts.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.Opts.MaxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
