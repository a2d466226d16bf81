package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/radieske/rgs-transaction-core/internal/shared/clock"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS kv_entries_expires_at_idx ON kv_entries (expires_at) WHERE expires_at IS NOT NULL;
`

// Postgres implementa Store em uma única tabela. Entradas expiradas são invisíveis
// para leitura e podem ser sobrescritas por SetNX; Sweep remove fisicamente.
type Postgres struct {
	db    *sql.DB
	clock clock.Clock
}

func NewPostgres(db *sql.DB, c clock.Clock) *Postgres {
	if c == nil {
		c = clock.Real{}
	}
	return &Postgres{db: db, clock: c}
}

// Migrate cria a tabela se ainda não existir
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate kv_entries: %w", err)
	}
	return nil
}

func pgUnavailable(op string, err error) error {
	return fmt.Errorf("%w: postgres %s: %w", ErrUnavailable, op, err)
}

func (p *Postgres) expiry(ttl time.Duration) sql.NullTime {
	if ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.clock.Now().Add(ttl), Valid: true}
}

func (p *Postgres) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		   SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()
		 WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= $4`,
		key, value, p.expiry(ttl), p.clock.Now())
	if err != nil {
		return false, pgUnavailable("setnx", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, pgUnavailable("setnx", err)
	}
	return n == 1, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT value FROM kv_entries
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, p.clock.Now()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pgUnavailable("get", err)
	}
	return v, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		   SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()`,
		key, value, p.expiry(ttl))
	if err != nil {
		return pgUnavailable("set", err)
	}
	return nil
}

func (p *Postgres) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	var (
		res sql.Result
		err error
	)
	now := p.clock.Now()
	if ttl == KeepTTL {
		res, err = p.db.ExecContext(ctx, `
			UPDATE kv_entries SET value = $3, updated_at = now()
			 WHERE key = $1 AND value = $2 AND (expires_at IS NULL OR expires_at > $4)`,
			key, old, value, now)
	} else {
		res, err = p.db.ExecContext(ctx, `
			UPDATE kv_entries SET value = $3, expires_at = $5, updated_at = now()
			 WHERE key = $1 AND value = $2 AND (expires_at IS NULL OR expires_at > $4)`,
			key, old, value, now, p.expiry(ttl))
	}
	if err != nil {
		return false, pgUnavailable("cas", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, pgUnavailable("cas", err)
	}
	return n == 1, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return pgUnavailable("delete", err)
	}
	return nil
}

func (p *Postgres) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM kv_entries
		 WHERE key = $1 AND value = $2 AND (expires_at IS NULL OR expires_at > $3)`,
		key, old, p.clock.Now())
	if err != nil {
		return false, pgUnavailable("cad", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, pgUnavailable("cad", err)
	}
	return n == 1, nil
}

// Sweep apaga entradas já expiradas e devolve quantas foram removidas
func (p *Postgres) Sweep(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`, p.clock.Now())
	if err != nil {
		return 0, pgUnavailable("sweep", err)
	}
	return res.RowsAffected()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
