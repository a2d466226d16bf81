package coordinator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/radieske/rgs-transaction-core/internal/ledger"
	"github.com/radieske/rgs-transaction-core/internal/operator"
	"github.com/radieske/rgs-transaction-core/internal/session"
	"github.com/radieske/rgs-transaction-core/internal/shared/logger"
)

// Reconcile reentrega um WIN em RECONCILING (ou PENDING abandonado) com a mesma transactionId.
// Confirmado ou recusado, o registro fica final; ainda incerto, continua em
// RECONCILING e o erro é ErrReconciliationPending para o worker reagendar.
func (c *Coordinator) Reconcile(ctx context.Context, operatorCode, transactionID string) (*Outcome, error) {
	rec, err := c.ledger.Claim(ctx, operatorCode, transactionID, ledger.NewOwner())
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return nil, newError(ErrTransactionNotFound, transactionID, nil)
	case errors.Is(err, ledger.ErrClaimed):
		// outra reconciliação está com o WIN agora
		return nil, newError(ErrTransactionInProgress, transactionID+" claimed by another reconciler", nil)
	case errors.Is(err, ledger.ErrNotReconciling):
		if rec.Status == ledger.StatusPending {
			return nil, newError(ErrTransactionInProgress, transactionID, nil)
		}
		out := outcomeFrom(rec, true)
		return out, out.Err
	case err != nil:
		return nil, storageError(err)
	}

	log := c.log.With(logger.Txn(rec.OperatorCode, rec.TransactionID, rec.SessionID, string(rec.Type))...)

	adapter, err := c.operators.Get(rec.OperatorCode)
	if err != nil {
		return nil, newError(ErrUnknownOperator, rec.OperatorCode, nil)
	}

	// mesma fila da sessão, para o saldo em cache não andar para trás
	unlock, err := c.lockSession(ctx, rec.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res := adapter.Win(ctx, operator.TxnRequest{
		SessionID:     rec.SessionID,
		PlayerID:      rec.PlayerID,
		Currency:      rec.Currency,
		TransactionID: rec.TransactionID,
		RoundID:       rec.RoundID,
		Amount:        rec.Amount,
	})
	rec.Attempts += res.Attempts

	switch res.Outcome {
	case operator.Confirmed:
		log.Info("win reconciled", zap.Int("attempts", rec.Attempts))
		return c.confirmReconciled(ctx, log, rec, res)
	case operator.Rejected:
		out := c.finish(ctx, log, rec, ledger.StatusFailed, rec.Balance, rejection(res, rec.Balance))
		return out, out.Err
	default:
		out := c.finish(ctx, log, rec, ledger.StatusReconciling, rec.Balance, newError(ErrReconciliationPending, res.Reason, rec.Balance))
		return out, out.Err
	}
}

// a sessão pode já ter expirado ou sumido; o crédito vale do mesmo jeito
func (c *Coordinator) confirmReconciled(ctx context.Context, log *zap.Logger, rec *ledger.Record, res operator.Result) (*Outcome, error) {
	balance := res.Balance
	rec.OperatorTxnID = res.OperatorTxnID
	if _, err := c.sessions.Touch(ctx, rec.SessionID, balance); err != nil && !errors.Is(err, session.ErrNotFound) {
		log.Warn("session balance refresh failed", zap.Error(err))
	}
	out := c.finish(ctx, log, rec, ledger.StatusConfirmed, &balance, nil)
	return out, nil
}
