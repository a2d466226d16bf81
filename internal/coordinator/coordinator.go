// Package coordinator orquestra sessões e transações entre o jogo e a Wallet API.
//
// Para cada transação: resolve a sessão, reserva a transactionId no ledger, serializa
// pela sessão, valida, chama o operador e grava o resultado. Uma requisição repetida
// nunca repete o efeito financeiro; ela recebe os bytes da primeira resposta.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/rgs-transaction-core/internal/ledger"
	"github.com/radieske/rgs-transaction-core/internal/lock"
	"github.com/radieske/rgs-transaction-core/internal/operator"
	"github.com/radieske/rgs-transaction-core/internal/session"
	"github.com/radieske/rgs-transaction-core/internal/shared/clock"
)

type Config struct {
	SessionTTL  time.Duration
	PendingWait time.Duration // quanto um replay espera uma transação PENDING de outro chamador
	LockWait    time.Duration // quanto uma requisição espera na fila da sessão
}

// Operators resolve o Adapter de um operador
type Operators interface {
	Get(code string) (operator.Adapter, error)
}

type Deps struct {
	Sessions  *session.Store
	Ledger    *ledger.Ledger
	Operators Operators
	Locks     lock.Locker
	Events    Publisher
	Clock     clock.Clock
	Metrics   *Metrics
}

type Coordinator struct {
	sessions  *session.Store
	ledger    *ledger.Ledger
	operators Operators
	locks     lock.Locker
	events    Publisher
	clock     clock.Clock
	metrics   *Metrics
	log       *zap.Logger
	cfg       Config

	inflight sync.WaitGroup
}

func New(cfg Config, d Deps, log *zap.Logger) *Coordinator {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.PendingWait <= 0 {
		cfg.PendingWait = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 90 * time.Second
	}
	if d.Events == nil {
		d.Events = NopPublisher{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Locks == nil {
		d.Locks = lock.NewLocal()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		sessions:  d.Sessions,
		ledger:    d.Ledger,
		operators: d.Operators,
		locks:     d.Locks,
		events:    d.Events,
		clock:     d.Clock,
		metrics:   d.Metrics,
		log:       log,
		cfg:       cfg,
	}
}

// Wait bloqueia até todo trabalho destacado (chamadas ao operador em andamento) terminar
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

type CreateSessionRequest struct {
	Token        string
	GameCode     string
	OperatorCode string
}

// CreateSession autentica o jogador no operador e abre uma sessão ACTIVE
func (c *Coordinator) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionView, error) {
	if req.Token == "" || req.GameCode == "" || req.OperatorCode == "" {
		return nil, newError(ErrInvalidRequest, "token, gameCode and operatorCode are required", nil)
	}
	adapter, err := c.operators.Get(req.OperatorCode)
	if err != nil {
		return nil, newError(ErrUnknownOperator, req.OperatorCode, nil)
	}

	player, res := adapter.Authenticate(ctx, req.Token)
	switch res.Outcome {
	case operator.Rejected:
		return nil, rejection(res, nil)
	case operator.Indeterminate:
		return nil, newError(ErrUpstreamIndeterminate, res.Reason, nil)
	}

	s := &session.Session{
		ID:            uuid.NewString(),
		PlayerID:      player.PlayerID,
		OperatorCode:  req.OperatorCode,
		GameCode:      req.GameCode,
		Currency:      player.Currency,
		CachedBalance: player.Balance,
	}
	if err := c.sessions.Create(ctx, s, c.cfg.SessionTTL); err != nil {
		return nil, storageError(err)
	}
	c.metrics.session("created")
	c.log.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("operator", s.OperatorCode),
		zap.String("player_id", s.PlayerID),
		zap.String("game", s.GameCode),
		zap.Time("expires_at", s.ExpiresAt),
	)
	return &SessionView{SessionID: s.ID, Balance: s.CachedBalance, Currency: s.Currency}, nil
}

// GetSession devolve a sessão aplicando a expiração preguiçosa
func (c *Coordinator) GetSession(ctx context.Context, id string) (*session.Session, error) {
	s, err := c.sessions.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, newError(ErrSessionNotFound, id, nil)
	}
	if err != nil {
		return nil, storageError(err)
	}
	if s.Status == session.StatusActive && s.PastExpiry(c.clock.Now()) {
		return c.expire(ctx, s)
	}
	return s, nil
}

// CloseSession encerra a sessão depois de qualquer transação em andamento nela
func (c *Coordinator) CloseSession(ctx context.Context, id string) (*session.Session, error) {
	unlock, err := c.lockSession(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := c.resolveSession(ctx, id); err != nil {
		return nil, err
	}
	s, err := c.sessions.Close(ctx, id)
	if errors.Is(err, session.ErrNotActive) {
		return nil, newError(ErrSessionClosed, id, nil)
	}
	if err != nil {
		return nil, storageError(err)
	}
	c.metrics.session("closed")
	c.log.Info("session closed", zap.String("session_id", id))
	return s, nil
}

// resolveSession só devolve sessões ACTIVE e dentro do prazo
func (c *Coordinator) resolveSession(ctx context.Context, id string) (*session.Session, error) {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	balance := s.CachedBalance
	switch s.Status {
	case session.StatusExpired:
		return nil, newError(ErrSessionExpired, id, &balance)
	case session.StatusClosed:
		return nil, newError(ErrSessionClosed, id, &balance)
	}
	return s, nil
}

func (c *Coordinator) expire(ctx context.Context, s *session.Session) (*session.Session, error) {
	expired, transitioned, err := c.sessions.Expire(ctx, s.ID)
	if err != nil {
		return nil, storageError(err)
	}
	if transitioned {
		c.metrics.session("expired")
		c.log.Info("session expired", zap.String("session_id", s.ID), zap.Time("expires_at", s.ExpiresAt))
	}
	return expired, nil
}

func (c *Coordinator) lockSession(ctx context.Context, sessionID string) (lock.Unlock, error) {
	lctx, cancel := context.WithTimeout(ctx, c.cfg.LockWait)
	defer cancel()

	start := time.Now()
	unlock, err := c.locks.Lock(lctx, "session:"+sessionID)
	c.metrics.waited(time.Since(start))
	if errors.Is(err, lock.ErrTimeout) {
		return nil, newError(ErrSessionBusy, sessionID, nil)
	}
	if err != nil {
		return nil, storageError(err)
	}
	return unlock, nil
}

// storageError traduz falhas de backend para LedgerUnavailable (falha fechada)
func storageError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(ErrLedgerUnavailable, err.Error(), nil)
}

// rejection traduz uma recusa do operador para o erro do jogo
func rejection(res operator.Result, balance *int64) *Error {
	switch res.Code {
	case operator.CodeInsufficientFunds:
		return newError(ErrInsufficientFunds, res.Reason, balance)
	case operator.CodeInvalidSignature:
		return newError(ErrInvalidSignature, res.Reason, balance)
	default:
		return newError(ErrUpstreamRejected, fmt.Sprintf("%s: %s", res.Code, res.Reason), balance)
	}
}
