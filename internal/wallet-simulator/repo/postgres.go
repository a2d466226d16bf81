package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS sim_wallets (
	id        TEXT PRIMARY KEY,
	player_id TEXT NOT NULL UNIQUE,
	currency  TEXT NOT NULL,
	balance   BIGINT NOT NULL,
	version   BIGINT NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS sim_wallet_txns (
	id                 TEXT PRIMARY KEY,
	wallet_id          TEXT NOT NULL REFERENCES sim_wallets(id),
	transaction_id     TEXT NOT NULL UNIQUE,
	kind               TEXT NOT NULL,
	amount             BIGINT NOT NULL,
	balance_after      BIGINT NOT NULL,
	ref_transaction_id TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS sim_wallet_txns_one_refund
	ON sim_wallet_txns(ref_transaction_id) WHERE kind = 'REFUND';
`

// Postgres implementa a carteira simulada em banco
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate wallet schema: %w", err)
	}
	return nil
}

// GetOrCreateWallet retorna a carteira do jogador, criando com o saldo inicial se não existir
func (p *Postgres) GetOrCreateWallet(ctx context.Context, playerID, currency string, initial int64) (Wallet, error) {
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO sim_wallets(id, player_id, currency, balance) VALUES($1,$2,$3,$4)
		 ON CONFLICT (player_id) DO NOTHING`,
		uuid.NewString(), playerID, currency, initial); err != nil {
		return Wallet{}, err
	}
	return p.Wallet(ctx, playerID)
}

func (p *Postgres) Wallet(ctx context.Context, playerID string) (Wallet, error) {
	w := Wallet{PlayerID: playerID}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, currency, balance FROM sim_wallets WHERE player_id=$1`, playerID).
		Scan(&w.ID, &w.Currency, &w.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	return w, err
}

// Debit desconta o valor com lock pessimista na linha da carteira
func (p *Postgres) Debit(ctx context.Context, playerID, txnID string, amount int64) (Entry, error) {
	return p.apply(ctx, playerID, txnID, func(tx *sql.Tx, w Wallet) (Entry, error) {
		if w.Balance < amount {
			return Entry{}, ErrInsufficientFunds
		}
		return insertEntry(ctx, tx, w, txnID, KindDebit, -amount, amount, "")
	})
}

func (p *Postgres) Credit(ctx context.Context, playerID, txnID string, amount int64) (Entry, error) {
	return p.apply(ctx, playerID, txnID, func(tx *sql.Tx, w Wallet) (Entry, error) {
		return insertEntry(ctx, tx, w, txnID, KindCredit, amount, amount, "")
	})
}

// Refund devolve um débito uma única vez; um segundo refund do mesmo original recebe o primeiro
func (p *Postgres) Refund(ctx context.Context, playerID, txnID, originalTxnID string) (Entry, error) {
	return p.apply(ctx, playerID, txnID, func(tx *sql.Tx, w Wallet) (Entry, error) {
		prev, err := scanEntry(tx.QueryRowContext(ctx, entryQuery+` WHERE ref_transaction_id=$1 AND kind='REFUND'`, originalTxnID))
		if err == nil {
			return prev, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}

		orig, err := scanEntry(tx.QueryRowContext(ctx, entryQuery+` WHERE transaction_id=$1 AND wallet_id=$2`, originalTxnID, w.ID))
		if errors.Is(err, sql.ErrNoRows) || (err == nil && orig.Kind != KindDebit) {
			return Entry{}, ErrTxnNotFound
		} else if err != nil {
			return Entry{}, err
		}
		return insertEntry(ctx, tx, w, txnID, KindRefund, orig.Amount, orig.Amount, originalTxnID)
	})
}

// apply abre a transação, trava a carteira e devolve o movimento já existente quando houver
func (p *Postgres) apply(ctx context.Context, playerID, txnID string, fn func(*sql.Tx, Wallet) (Entry, error)) (Entry, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback()

	w := Wallet{PlayerID: playerID}
	err = tx.QueryRowContext(ctx,
		`SELECT id, currency, balance FROM sim_wallets WHERE player_id=$1 FOR UPDATE`, playerID).
		Scan(&w.ID, &w.Currency, &w.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	} else if err != nil {
		return Entry{}, err
	}

	// Idempotência por transactionId
	existing, err := scanEntry(tx.QueryRowContext(ctx, entryQuery+` WHERE transaction_id=$1`, txnID))
	if err == nil {
		return existing, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Entry{}, err
	}

	e, err := fn(tx, w)
	if err != nil {
		return Entry{}, err
	}
	if err = tx.Commit(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

const entryQuery = `SELECT id, transaction_id, kind, amount, balance_after, COALESCE(ref_transaction_id,'') FROM sim_wallet_txns`

func scanEntry(row *sql.Row) (Entry, error) {
	var e Entry
	var kind string
	if err := row.Scan(&e.ID, &e.TransactionID, &kind, &e.Amount, &e.BalanceAfter, &e.RefTxnID); err != nil {
		return Entry{}, err
	}
	e.Kind = Kind(kind)
	return e, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, w Wallet, txnID string, kind Kind, delta, amount int64, ref string) (Entry, error) {
	var balance int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE sim_wallets SET balance = balance + $1, version = version + 1 WHERE id=$2 RETURNING balance`,
		delta, w.ID).Scan(&balance); err != nil {
		return Entry{}, err
	}
	e := Entry{ID: uuid.NewString(), TransactionID: txnID, Kind: kind, Amount: amount, BalanceAfter: balance, RefTxnID: ref}
	var refArg any
	if ref != "" {
		refArg = ref
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sim_wallet_txns(id, wallet_id, transaction_id, kind, amount, balance_after, ref_transaction_id)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, w.ID, txnID, string(kind), amount, balance, refArg); err != nil {
		return Entry{}, err
	}
	return e, nil
}
