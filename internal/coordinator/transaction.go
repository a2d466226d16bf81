package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/radieske/rgs-transaction-core/internal/ledger"
	"github.com/radieske/rgs-transaction-core/internal/operator"
	"github.com/radieske/rgs-transaction-core/internal/session"
	"github.com/radieske/rgs-transaction-core/internal/shared/logger"
	"github.com/radieske/rgs-transaction-core/pkg/contracts/events"
)

type TxnRequest struct {
	SessionID     string
	TransactionID string
	RoundID       string
	Amount        int64
}

// RollbackRequest sem TransactionID recebe a chave determinística rollback-{original}
type RollbackRequest struct {
	SessionID             string
	TransactionID         string
	OriginalTransactionID string
}

func RollbackID(originalTransactionID string) string {
	return "rollback-" + originalTransactionID
}

func (c *Coordinator) Bet(ctx context.Context, req TxnRequest) (*Outcome, error) {
	return c.transact(ctx, &ledger.Record{
		SessionID:     req.SessionID,
		TransactionID: req.TransactionID,
		RoundID:       req.RoundID,
		Type:          ledger.TypeBet,
		Amount:        req.Amount,
	})
}

func (c *Coordinator) Win(ctx context.Context, req TxnRequest) (*Outcome, error) {
	return c.transact(ctx, &ledger.Record{
		SessionID:     req.SessionID,
		TransactionID: req.TransactionID,
		RoundID:       req.RoundID,
		Type:          ledger.TypeWin,
		Amount:        req.Amount,
	})
}

func (c *Coordinator) Rollback(ctx context.Context, req RollbackRequest) (*Outcome, error) {
	if req.OriginalTransactionID == "" {
		return nil, newError(ErrInvalidRequest, "originalTransactionId is required", nil)
	}
	if req.TransactionID == "" {
		req.TransactionID = RollbackID(req.OriginalTransactionID)
	}
	return c.transact(ctx, &ledger.Record{
		SessionID:             req.SessionID,
		TransactionID:         req.TransactionID,
		Type:                  ledger.TypeRollback,
		OriginalTransactionID: req.OriginalTransactionID,
	})
}

// transact cobre os passos comuns: sessão, idempotência e despacho destacado
func (c *Coordinator) transact(ctx context.Context, rec *ledger.Record) (*Outcome, error) {
	if rec.SessionID == "" || rec.TransactionID == "" {
		return nil, newError(ErrInvalidRequest, "sessionId and transactionId are required", nil)
	}

	s, err := c.resolveSession(ctx, rec.SessionID)
	if err != nil {
		return nil, err
	}

	rec.OperatorCode = s.OperatorCode
	rec.PlayerID = s.PlayerID
	rec.Currency = s.Currency
	rec.Owner = ledger.NewOwner()

	existing, created, err := c.ledger.RecordIfAbsent(ctx, rec)
	if err != nil {
		return nil, storageError(err)
	}
	if !created {
		return c.replay(ctx, rec, existing)
	}

	// Daqui em diante o resultado precisa ser gravado mesmo que o chamador desista
	done := make(chan *Outcome, 1)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		done <- c.execute(context.WithoutCancel(ctx), rec)
	}()

	select {
	case out := <-done:
		return out, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) replay(ctx context.Context, req, existing *ledger.Record) (*Outcome, error) {
	log := c.log.With(logger.Txn(req.OperatorCode, req.TransactionID, req.SessionID, string(req.Type))...)
	if existing.Type != req.Type || existing.SessionID != req.SessionID || existing.Amount != req.Amount && req.Type != ledger.TypeRollback {
		log.Warn("transaction id reused with a different payload, replaying stored outcome",
			zap.String("stored_type", string(existing.Type)),
			zap.String("stored_session_id", existing.SessionID),
			zap.Int64("stored_amount", existing.Amount),
		)
	}

	rec := existing
	if rec.Status == ledger.StatusPending {
		wctx, cancel := context.WithTimeout(ctx, c.cfg.PendingWait)
		defer cancel()
		awaited, err := c.ledger.Await(wctx, req.OperatorCode, req.TransactionID)
		if errors.Is(err, ledger.ErrNotFound) {
			// o dono abandonou a chave antes do despacho
			return nil, newError(ErrTransactionInProgress, req.TransactionID, nil)
		}
		if err != nil && awaited == nil {
			return nil, storageError(err)
		}
		if awaited.Status == ledger.StatusPending {
			return nil, newError(ErrTransactionInProgress, req.TransactionID, nil)
		}
		rec = awaited
	}

	c.metrics.replay(string(rec.Type))
	out := outcomeFrom(rec, true)
	return out, out.Err
}

// execute roda com contexto destacado e sempre termina gravando o resultado
func (c *Coordinator) execute(ctx context.Context, rec *ledger.Record) *Outcome {
	log := c.log.With(logger.Txn(rec.OperatorCode, rec.TransactionID, rec.SessionID, string(rec.Type))...)

	unlock, err := c.lockSession(ctx, rec.SessionID)
	if err != nil {
		return c.abort(ctx, log, rec, err)
	}
	defer unlock()

	s, err := c.resolveSession(ctx, rec.SessionID)
	if errors.Is(err, ErrLedgerUnavailable) {
		return c.abort(ctx, log, rec, err)
	}
	if err != nil {
		return c.finish(ctx, log, rec, ledger.StatusFailed, BalanceOf(err), err)
	}
	balance := s.CachedBalance

	adapter, err := c.operators.Get(s.OperatorCode)
	if err != nil {
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance, newError(ErrUnknownOperator, s.OperatorCode, &balance))
	}

	switch rec.Type {
	case ledger.TypeBet:
		return c.executeBet(ctx, log, adapter, s, rec)
	case ledger.TypeWin:
		return c.executeWin(ctx, log, adapter, s, rec)
	default:
		return c.executeRollback(ctx, log, adapter, s, rec)
	}
}

func (c *Coordinator) executeBet(ctx context.Context, log *zap.Logger, a operator.Adapter, s *session.Session, rec *ledger.Record) *Outcome {
	balance := s.CachedBalance
	if rec.Amount <= 0 {
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance, newError(ErrInvalidRequest, "amount must be positive", &balance))
	}
	if rec.RoundID == "" {
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance, newError(ErrInvalidRequest, "roundId is required", &balance))
	}
	// pré-checagem consultiva; o operador continua sendo a autoridade
	if balance < rec.Amount {
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance,
			newError(ErrInsufficientFunds, fmt.Sprintf("balance %d < amount %d", balance, rec.Amount), &balance))
	}

	res := a.Bet(ctx, txnRequest(s, rec))
	rec.Attempts = res.Attempts
	switch res.Outcome {
	case operator.Confirmed:
		if err := c.ledger.MarkRoundBet(ctx, rec.OperatorCode, rec.SessionID, rec.RoundID, rec.TransactionID); err != nil {
			log.Error("mark round failed", zap.String("round_id", rec.RoundID), zap.Error(err))
		}
		return c.confirm(ctx, log, rec, res)
	case operator.Rejected:
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance, rejection(res, &balance))
	default:
		// BET incerto é abortado: o jogo deve seguir com uma nova transactionId
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance, newError(ErrUpstreamIndeterminate, res.Reason, &balance))
	}
}

func (c *Coordinator) executeWin(ctx context.Context, log *zap.Logger, a operator.Adapter, s *session.Session, rec *ledger.Record) *Outcome {
	balance := s.CachedBalance
	if rec.Amount < 0 {
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance, newError(ErrInvalidRequest, "amount must not be negative", &balance))
	}
	if rec.RoundID == "" {
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance, newError(ErrInvalidRequest, "roundId is required", &balance))
	}
	hasBet, err := c.ledger.RoundHasBet(ctx, rec.OperatorCode, rec.SessionID, rec.RoundID)
	if err != nil {
		return c.abort(ctx, log, rec, storageError(err))
	}
	if !hasBet {
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance,
			newError(ErrBetNotConfirmed, "round "+rec.RoundID+" has no confirmed bet", &balance))
	}

	res := a.Win(ctx, txnRequest(s, rec))
	rec.Attempts = res.Attempts
	switch res.Outcome {
	case operator.Confirmed:
		return c.confirm(ctx, log, rec, res)
	case operator.Rejected:
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance, rejection(res, &balance))
	default:
		out := c.finish(ctx, log, rec, ledger.StatusReconciling, &balance, newError(ErrReconciliationPending, res.Reason, &balance))
		c.requestReconcile(ctx, log, rec, 0, res.Reason)
		return out
	}
}

func (c *Coordinator) executeRollback(ctx context.Context, log *zap.Logger, a operator.Adapter, s *session.Session, rec *ledger.Record) *Outcome {
	balance := s.CachedBalance
	fail := func(kind error, reason string) *Outcome {
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance, newError(kind, reason, &balance))
	}

	orig, err := c.ledger.Lookup(ctx, rec.OperatorCode, rec.OriginalTransactionID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fail(ErrRollbackNotFound, rec.OriginalTransactionID)
	case err != nil:
		return c.abort(ctx, log, rec, storageError(err))
	case orig.Type != ledger.TypeBet || orig.SessionID != rec.SessionID:
		return fail(ErrRollbackNotFound, rec.OriginalTransactionID+" is not a bet of this session")
	case orig.Status == ledger.StatusPending:
		return fail(ErrBetNotConfirmed, rec.OriginalTransactionID)
	case orig.Status != ledger.StatusConfirmed:
		return fail(ErrRollbackNotFound, rec.OriginalTransactionID+" was not confirmed")
	}

	rec.Amount = orig.Amount
	rec.RoundID = orig.RoundID

	holder, claimed, err := c.ledger.ClaimRollback(ctx, rec.OperatorCode, rec.OriginalTransactionID, rec.TransactionID)
	if err != nil {
		return c.abort(ctx, log, rec, storageError(err))
	}
	if !claimed && holder != rec.TransactionID {
		return fail(ErrRollbackAlreadyApplied, rec.OriginalTransactionID+" rolled back by "+holder)
	}

	res := a.Rollback(ctx, txnRequest(s, rec))
	rec.Attempts = res.Attempts
	if res.Outcome == operator.Confirmed {
		if err := c.ledger.UnmarkRoundBet(ctx, rec.OperatorCode, rec.SessionID, rec.RoundID, rec.OriginalTransactionID); err != nil {
			log.Error("unmark round failed", zap.String("round_id", rec.RoundID), zap.Error(err))
		}
		return c.confirm(ctx, log, rec, res)
	}

	// sem confirmação a reserva é liberada; o operador deduplica o refund pelo original
	if err := c.ledger.ReleaseRollback(ctx, rec.OperatorCode, rec.OriginalTransactionID, rec.TransactionID); err != nil {
		log.Error("release rollback claim failed", zap.Error(err))
	}
	if res.Outcome == operator.Rejected {
		return c.finish(ctx, log, rec, ledger.StatusFailed, &balance, rejection(res, &balance))
	}
	log.Error("rollback not confirmed by operator, player may remain debited",
		zap.String("original_transaction_id", rec.OriginalTransactionID),
		zap.Int("attempts", res.Attempts),
	)
	return c.finish(ctx, log, rec, ledger.StatusFailed, &balance, newError(ErrUpstreamIndeterminate, res.Reason, &balance))
}

// abort desiste antes de qualquer chamada ao operador e libera a chave para o jogo
// tentar de novo; não há snapshot porque não há resultado a preservar
func (c *Coordinator) abort(ctx context.Context, log *zap.Logger, rec *ledger.Record, err error) *Outcome {
	if aerr := c.ledger.Abandon(ctx, rec); aerr != nil {
		log.Error("abandon pending transaction failed", zap.Error(aerr))
	}
	log.Warn("transaction aborted before dispatch", zap.String("code", Code(err)), zap.Error(err))
	return &Outcome{TransactionID: rec.TransactionID, Status: ledger.StatusPending, Err: err}
}

func (c *Coordinator) confirm(ctx context.Context, log *zap.Logger, rec *ledger.Record, res operator.Result) *Outcome {
	balance := res.Balance
	rec.OperatorTxnID = res.OperatorTxnID
	if _, err := c.sessions.Touch(ctx, rec.SessionID, balance); err != nil {
		log.Warn("session balance refresh failed", zap.Error(err))
	}
	return c.finish(ctx, log, rec, ledger.StatusConfirmed, &balance, nil)
}

// finish monta o snapshot, grava o estado no ledger e publica o evento
func (c *Coordinator) finish(ctx context.Context, log *zap.Logger, rec *ledger.Record, status ledger.Status, balance *int64, err error) *Outcome {
	rec.Status = status
	rec.Balance = balance
	rec.ErrorCode = ""
	rec.Reason = ""
	if err != nil {
		rec.ErrorCode = Code(err)
		var e *Error
		if errors.As(err, &e) {
			rec.Reason = e.Reason
		} else {
			rec.Reason = err.Error()
		}
	}
	rec.Result = snapshot(rec.TransactionID, balance, err)

	if cerr := c.complete(ctx, rec); cerr != nil {
		log.Error("ledger completion failed, transaction left pending",
			zap.String("status", string(status)),
			zap.Error(cerr),
		)
		// o resultado do operador só existe neste processo: vai para a fila de
		// reconciliação (e dali para a DLQ quando não for um WIN)
		if status != ledger.StatusReconciling {
			c.requestReconcile(ctx, log, rec, 0, fmt.Sprintf("ledger write of %s failed: %v", status, cerr))
		}
	}

	c.metrics.transaction(string(rec.Type), string(status))
	fields := []zap.Field{zap.String("status", string(status)), zap.Int("attempts", rec.Attempts)}
	if err != nil {
		fields = append(fields, zap.String("code", rec.ErrorCode), zap.String("reason", rec.Reason))
	}
	log.Info("transaction finished", fields...)

	c.publishCompleted(ctx, log, rec)

	return &Outcome{
		TransactionID: rec.TransactionID,
		Status:        status,
		Balance:       balance,
		Snapshot:      rec.Result,
		Err:           err,
	}
}

// complete repete a gravação enquanto o backend estiver indisponível
func (c *Coordinator) complete(ctx context.Context, rec *ledger.Record) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.ledger.Complete(ctx, rec)
		if err == nil || errors.Is(err, ledger.ErrUnavailable) || errors.Is(err, ledger.ErrContention) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(10), backoff.WithMaxElapsedTime(30*time.Second))
	return err
}

func (c *Coordinator) publishCompleted(ctx context.Context, log *zap.Logger, rec *ledger.Record) {
	ev := events.TransactionCompleted{
		TransactionID:         rec.TransactionID,
		OperatorCode:          rec.OperatorCode,
		SessionID:             rec.SessionID,
		RoundID:               rec.RoundID,
		Type:                  string(rec.Type),
		Status:                string(rec.Status),
		Amount:                rec.Amount,
		OriginalTransactionID: rec.OriginalTransactionID,
		OperatorTxnID:         rec.OperatorTxnID,
		Balance:               rec.Balance,
		Reason:                rec.Reason,
		Ts:                    c.clock.Now(),
	}
	if err := c.events.TransactionCompleted(ctx, ev); err != nil {
		log.Warn("publish transaction completed failed", zap.Error(err))
	}
}

func (c *Coordinator) requestReconcile(ctx context.Context, log *zap.Logger, rec *ledger.Record, attempt int, reason string) {
	ev := events.ReconcileRequested{
		TransactionID: rec.TransactionID,
		OperatorCode:  rec.OperatorCode,
		SessionID:     rec.SessionID,
		RoundID:       rec.RoundID,
		Amount:        rec.Amount,
		Attempt:       attempt,
		NotBefore:     c.clock.Now(),
		Reason:        reason,
	}
	if err := c.events.ReconcileRequested(ctx, ev); err != nil {
		log.Error("publish reconcile request failed, win stays in RECONCILING", zap.Error(err))
	}
}

func txnRequest(s *session.Session, rec *ledger.Record) operator.TxnRequest {
	return operator.TxnRequest{
		SessionID:             rec.SessionID,
		PlayerID:              s.PlayerID,
		Currency:              s.Currency,
		TransactionID:         rec.TransactionID,
		RoundID:               rec.RoundID,
		OriginalTransactionID: rec.OriginalTransactionID,
		Amount:                rec.Amount,
	}
}
