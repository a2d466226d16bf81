package repo

import (
	"context"
	"errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrTxnNotFound       = errors.New("transaction not found")
)

type Kind string

const (
	KindDebit  Kind = "DEBIT"
	KindCredit Kind = "CREDIT"
	KindRefund Kind = "REFUND"
)

type Wallet struct {
	ID       string
	PlayerID string
	Currency string
	Balance  int64
}

// Entry é um movimento aplicado. Reenvios da mesma transactionId devolvem a
// mesma Entry, com o saldo registrado no momento do efeito.
type Entry struct {
	ID            string
	TransactionID string
	Kind          Kind
	Amount        int64
	BalanceAfter  int64
	RefTxnID      string
}

// Repo é a carteira do operador simulado. Todas as operações de escrita são
// idempotentes por transactionId e o refund acontece uma única vez por original.
type Repo interface {
	GetOrCreateWallet(ctx context.Context, playerID, currency string, initial int64) (Wallet, error)
	Wallet(ctx context.Context, playerID string) (Wallet, error)
	Debit(ctx context.Context, playerID, txnID string, amount int64) (Entry, error)
	Credit(ctx context.Context, playerID, txnID string, amount int64) (Entry, error)
	Refund(ctx context.Context, playerID, txnID, originalTxnID string) (Entry, error)
}
