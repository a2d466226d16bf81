// Package ledger é o registro de idempotência das transações financeiras.
//
// Cada transactionId (escopado por operador) tem exatamente um registro. Ele nasce
// PENDING através de um SET-NX atômico, e só quem o criou (o dono) pode completá-lo.
// Registros CONFIRMED e FAILED são imutáveis e não expiram: são a trilha de auditoria.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/radieske/rgs-transaction-core/internal/kv"
	"github.com/radieske/rgs-transaction-core/internal/shared/clock"
	"github.com/radieske/rgs-transaction-core/internal/shared/ids"
)

type Type string

const (
	TypeBet      Type = "BET"
	TypeWin      Type = "WIN"
	TypeRollback Type = "ROLLBACK"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusConfirmed   Status = "CONFIRMED"
	StatusFailed      Status = "FAILED"
	StatusReconciling Status = "RECONCILING" // WIN sem resposta definitiva após todas as tentativas
)

var (
	ErrNotFound       = errors.New("ledger_not_found")
	ErrNotOwner       = errors.New("ledger_not_owner")
	ErrAlreadyFinal   = errors.New("ledger_already_final")
	ErrNotReconciling = errors.New("ledger_not_reconciling")
	ErrClaimed        = errors.New("ledger_claimed")
	ErrContention     = errors.New("ledger_contention")

	// ErrUnavailable é o mesmo erro do kv: qualquer falha de backend falha fechado
	ErrUnavailable = kv.ErrUnavailable
)

const maxCASAttempts = 8

type Record struct {
	OperatorCode          string          `json:"operatorCode"`
	TransactionID         string          `json:"transactionId"`
	SessionID             string          `json:"sessionId"`
	PlayerID              string          `json:"playerId,omitempty"`
	Currency              string          `json:"currency,omitempty"`
	RoundID               string          `json:"roundId,omitempty"`
	Type                  Type            `json:"type"`
	Amount                int64           `json:"amount"`
	OriginalTransactionID string          `json:"originalTransactionId,omitempty"`
	Status                Status          `json:"status"`
	Owner                 string          `json:"owner"`
	OperatorTxnID         string          `json:"operatorTxnId,omitempty"`
	Balance               *int64          `json:"balance,omitempty"`
	ErrorCode             string          `json:"errorCode,omitempty"`
	Reason                string          `json:"reason,omitempty"`
	Attempts              int             `json:"attempts,omitempty"`
	Result                json.RawMessage `json:"result,omitempty"` // resposta exata devolvida ao jogo
	ClaimedAt             *time.Time      `json:"claimedAt,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// Final indica que o registro não muda mais
func (r *Record) Final() bool {
	return r.Status == StatusConfirmed || r.Status == StatusFailed
}

type Ledger struct {
	kv    kv.Store
	clock clock.Clock
	poll  time.Duration
	lease time.Duration
}

// DefaultClaimLease cobre uma reentrega de WIN com todas as tentativas
const DefaultClaimLease = 2 * time.Minute

func New(s kv.Store, c clock.Clock) *Ledger {
	if c == nil {
		c = clock.Real{}
	}
	return &Ledger{kv: s, clock: c, poll: 50 * time.Millisecond, lease: DefaultClaimLease}
}

// WithClaimLease ajusta por quanto tempo um Claim bloqueia outros donos
func (l *Ledger) WithClaimLease(d time.Duration) *Ledger {
	if d > 0 {
		l.lease = d
	}
	return l
}

// WithPollInterval ajusta o intervalo usado por Await
func (l *Ledger) WithPollInterval(d time.Duration) *Ledger {
	l.poll = d
	return l
}

// NewOwner gera o token de dono usado em RecordIfAbsent e Complete
func NewOwner() string { return ids.New() }

func txnKey(operatorCode, transactionID string) string {
	return "txn:" + operatorCode + ":" + transactionID
}

func roundKey(operatorCode, sessionID, roundID string) string {
	return "round:" + operatorCode + ":" + sessionID + ":" + roundID
}

func rollbackKey(operatorCode, originalID string) string {
	return "rollback:" + operatorCode + ":" + originalID
}

// RecordIfAbsent insere rec como PENDING se a chave ainda não existe.
// Quando a chave já existe, devolve o registro gravado e created=false.
func (l *Ledger) RecordIfAbsent(ctx context.Context, rec *Record) (existing *Record, created bool, err error) {
	now := l.clock.Now()
	rec.Status = StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("marshal ledger record: %w", err)
	}
	ok, err := l.kv.SetNX(ctx, txnKey(rec.OperatorCode, rec.TransactionID), raw, 0)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return rec, true, nil
	}

	existing, err = l.Lookup(ctx, rec.OperatorCode, rec.TransactionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (l *Ledger) Lookup(ctx context.Context, operatorCode, transactionID string) (*Record, error) {
	rec, _, err := l.load(ctx, operatorCode, transactionID)
	return rec, err
}

// Complete grava o novo estado de rec. Só o dono pode completar, e registros
// finais não são sobrescritos.
func (l *Ledger) Complete(ctx context.Context, rec *Record) error {
	for i := 0; i < maxCASAttempts; i++ {
		stored, raw, err := l.load(ctx, rec.OperatorCode, rec.TransactionID)
		if err != nil {
			return err
		}
		if stored.Owner != rec.Owner {
			return ErrNotOwner
		}
		if stored.Final() {
			return ErrAlreadyFinal
		}

		rec.CreatedAt = stored.CreatedAt
		rec.UpdatedAt = l.clock.Now()
		rec.ClaimedAt = nil // gravar encerra o claim
		next, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal ledger record: %w", err)
		}
		ok, err := l.kv.CompareAndSwap(ctx, txnKey(rec.OperatorCode, rec.TransactionID), raw, next, 0)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrContention
}

// Abandon remove um registro PENDING do próprio dono. Só pode ser usado quando
// nenhuma chamada ao operador foi feita; a mesma chave volta a ser aceita.
func (l *Ledger) Abandon(ctx context.Context, rec *Record) error {
	stored, raw, err := l.load(ctx, rec.OperatorCode, rec.TransactionID)
	if err != nil {
		return err
	}
	if stored.Owner != rec.Owner {
		return ErrNotOwner
	}
	if stored.Status != StatusPending {
		return ErrAlreadyFinal
	}
	ok, err := l.kv.CompareAndDelete(ctx, txnKey(rec.OperatorCode, rec.TransactionID), raw)
	if err != nil {
		return err
	}
	if !ok {
		return ErrContention
	}
	return nil
}

// Await espera o registro sair de PENDING. Se o contexto acabar antes, devolve o
// último registro lido junto com o erro do contexto.
func (l *Ledger) Await(ctx context.Context, operatorCode, transactionID string) (*Record, error) {
	t := time.NewTicker(l.poll)
	defer t.Stop()
	for {
		rec, err := l.Lookup(ctx, operatorCode, transactionID)
		if err != nil {
			return nil, err
		}
		if rec.Status != StatusPending {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-t.C:
		}
	}
}

// Claim transfere um WIN para um novo dono (worker de reconciliação ou chamada
// manual). Aceita registros RECONCILING e WINs PENDING cujo dono parou de
// gravar há mais de um lease. Enquanto o lease de outro dono vale, devolve
// ErrClaimed junto com o registro gravado.
func (l *Ledger) Claim(ctx context.Context, operatorCode, transactionID, owner string) (*Record, error) {
	for i := 0; i < maxCASAttempts; i++ {
		stored, raw, err := l.load(ctx, operatorCode, transactionID)
		if err != nil {
			return nil, err
		}
		now := l.clock.Now()
		switch {
		case stored.Status == StatusReconciling:
		case stored.Status == StatusPending && stored.Type == TypeWin && now.Sub(stored.UpdatedAt) >= l.lease:
			// resultado do operador nunca chegou ao ledger
		default:
			return stored, ErrNotReconciling
		}
		if stored.Owner != owner && stored.ClaimedAt != nil && now.Sub(*stored.ClaimedAt) < l.lease {
			return stored, ErrClaimed
		}

		stored.Owner = owner
		stored.UpdatedAt = now
		stored.ClaimedAt = &now
		next, err := json.Marshal(stored)
		if err != nil {
			return nil, fmt.Errorf("marshal ledger record: %w", err)
		}
		ok, err := l.kv.CompareAndSwap(ctx, txnKey(operatorCode, transactionID), raw, next, 0)
		if err != nil {
			return nil, err
		}
		if ok {
			return stored, nil
		}
	}
	return nil, ErrContention
}

// MarkRoundBet adiciona betID ao conjunto de BETs confirmados da rodada
func (l *Ledger) MarkRoundBet(ctx context.Context, operatorCode, sessionID, roundID, betID string) error {
	k := roundKey(operatorCode, sessionID, roundID)
	for i := 0; i < maxCASAttempts; i++ {
		bets, raw, err := l.roundBets(ctx, k)
		if err != nil {
			return err
		}
		if raw == nil {
			next, err := json.Marshal([]string{betID})
			if err != nil {
				return fmt.Errorf("marshal round bets: %w", err)
			}
			ok, err := l.kv.SetNX(ctx, k, next, 0)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			continue
		}
		if slices.Contains(bets, betID) {
			return nil
		}
		bets = append(bets, betID)
		slices.Sort(bets)
		next, err := json.Marshal(bets)
		if err != nil {
			return fmt.Errorf("marshal round bets: %w", err)
		}
		ok, err := l.kv.CompareAndSwap(ctx, k, raw, next, 0)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrContention
}

// RoundHasBet indica se ainda resta algum BET confirmado (e não estornado) na rodada
func (l *Ledger) RoundHasBet(ctx context.Context, operatorCode, sessionID, roundID string) (bool, error) {
	bets, _, err := l.roundBets(ctx, roundKey(operatorCode, sessionID, roundID))
	if err != nil {
		return false, err
	}
	return len(bets) > 0, nil
}

// UnmarkRoundBet tira betID do conjunto; a chave some junto com o último BET
func (l *Ledger) UnmarkRoundBet(ctx context.Context, operatorCode, sessionID, roundID, betID string) error {
	k := roundKey(operatorCode, sessionID, roundID)
	for i := 0; i < maxCASAttempts; i++ {
		bets, raw, err := l.roundBets(ctx, k)
		if err != nil {
			return err
		}
		idx := slices.Index(bets, betID)
		if idx < 0 {
			return nil
		}
		bets = slices.Delete(bets, idx, idx+1)

		var ok bool
		if len(bets) == 0 {
			ok, err = l.kv.CompareAndDelete(ctx, k, raw)
		} else {
			next, merr := json.Marshal(bets)
			if merr != nil {
				return fmt.Errorf("marshal round bets: %w", merr)
			}
			ok, err = l.kv.CompareAndSwap(ctx, k, raw, next, 0)
		}
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrContention
}

// roundBets lê o conjunto da rodada; raw == nil quando a chave não existe
func (l *Ledger) roundBets(ctx context.Context, k string) ([]string, []byte, error) {
	raw, err := l.kv.Get(ctx, k)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var bets []string
	if err := json.Unmarshal(raw, &bets); err != nil {
		return nil, nil, fmt.Errorf("decode round bets %s: %w", k, err)
	}
	return bets, raw, nil
}

// ClaimRollback reserva o BET original para um único ROLLBACK.
// Se outro rollback já detém a reserva, devolve o id dele e claimed=false.
func (l *Ledger) ClaimRollback(ctx context.Context, operatorCode, originalID, rollbackID string) (holder string, claimed bool, err error) {
	k := rollbackKey(operatorCode, originalID)
	ok, err := l.kv.SetNX(ctx, k, []byte(rollbackID), 0)
	if err != nil {
		return "", false, err
	}
	if ok {
		return rollbackID, true, nil
	}
	cur, err := l.kv.Get(ctx, k)
	if errors.Is(err, kv.ErrNotFound) {
		// liberada entre o SET-NX e o GET; tenta de novo uma vez
		ok, err = l.kv.SetNX(ctx, k, []byte(rollbackID), 0)
		if err != nil {
			return "", false, err
		}
		if ok {
			return rollbackID, true, nil
		}
		cur, err = l.kv.Get(ctx, k)
	}
	if err != nil {
		return "", false, err
	}
	return string(cur), false, nil
}

// ReleaseRollback desfaz a reserva quando o rollback falha definitivamente
func (l *Ledger) ReleaseRollback(ctx context.Context, operatorCode, originalID, rollbackID string) error {
	_, err := l.kv.CompareAndDelete(ctx, rollbackKey(operatorCode, originalID), []byte(rollbackID))
	return err
}

func (l *Ledger) load(ctx context.Context, operatorCode, transactionID string) (*Record, []byte, error) {
	raw, err := l.kv.Get(ctx, txnKey(operatorCode, transactionID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil, fmt.Errorf("decode ledger record %s: %w", transactionID, err)
	}
	return &rec, raw, nil
}
