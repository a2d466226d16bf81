package repo

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory guarda carteiras e movimentos em mapas protegidos por mutex
type Memory struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	entries map[string]Entry  // por transactionId
	refunds map[string]string // original -> transactionId do refund
}

func NewMemory() *Memory {
	return &Memory{
		wallets: make(map[string]*Wallet),
		entries: make(map[string]Entry),
		refunds: make(map[string]string),
	}
}

func (m *Memory) GetOrCreateWallet(_ context.Context, playerID, currency string, initial int64) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[playerID]; ok {
		return *w, nil
	}
	w := &Wallet{ID: uuid.NewString(), PlayerID: playerID, Currency: currency, Balance: initial}
	m.wallets[playerID] = w
	return *w, nil
}

func (m *Memory) Wallet(_ context.Context, playerID string) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[playerID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return *w, nil
}

func (m *Memory) Debit(_ context.Context, playerID, txnID string, amount int64) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[txnID]; ok {
		return e, nil
	}
	w, ok := m.wallets[playerID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if w.Balance < amount {
		return Entry{}, ErrInsufficientFunds
	}
	w.Balance -= amount
	return m.record(txnID, KindDebit, amount, w.Balance, ""), nil
}

func (m *Memory) Credit(_ context.Context, playerID, txnID string, amount int64) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[txnID]; ok {
		return e, nil
	}
	w, ok := m.wallets[playerID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	w.Balance += amount
	return m.record(txnID, KindCredit, amount, w.Balance, ""), nil
}

func (m *Memory) Refund(_ context.Context, playerID, txnID, originalTxnID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[txnID]; ok {
		return e, nil
	}
	if prev, ok := m.refunds[originalTxnID]; ok {
		return m.entries[prev], nil
	}
	w, ok := m.wallets[playerID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	orig, ok := m.entries[originalTxnID]
	if !ok || orig.Kind != KindDebit {
		return Entry{}, ErrTxnNotFound
	}
	w.Balance += orig.Amount
	m.refunds[originalTxnID] = txnID
	return m.record(txnID, KindRefund, orig.Amount, w.Balance, originalTxnID), nil
}

func (m *Memory) record(txnID string, kind Kind, amount, balance int64, ref string) Entry {
	e := Entry{ID: uuid.NewString(), TransactionID: txnID, Kind: kind, Amount: amount, BalanceAfter: balance, RefTxnID: ref}
	m.entries[txnID] = e
	return e
}
