// Package operator fala com a Wallet API de cada operador.
//
// Um Adapter expõe authenticate/bet/win/rollback; cada formato de fio (standard,
// seamless) é uma implementação de wire. O Client assina, envia com timeout por
// tentativa, classifica a resposta e repete Indeterminate com backoff exponencial,
// sempre com a mesma transactionId.
package operator

import (
	"context"
	"errors"
	"time"
)

type Outcome int

const (
	// Indeterminate é o zero value: na dúvida, o efeito no operador é desconhecido
	Indeterminate Outcome = iota
	Confirmed
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	default:
		return "indeterminate"
	}
}

// Códigos normalizados de recusa do operador
const (
	CodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	CodeInvalidSignature    = "INVALID_SIGNATURE"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	CodeRejected            = "REJECTED"
)

type Op string

const (
	OpAuthenticate Op = "authenticate"
	OpBet          Op = "bet"
	OpWin          Op = "win"
	OpRollback     Op = "rollback"
)

var (
	ErrUnknownOperator = errors.New("unknown_operator")
	ErrUnknownFormat   = errors.New("unknown_wire_format")
)

// Result é a resposta classificada de uma operação, já depois das tentativas
type Result struct {
	Outcome       Outcome
	Balance       int64
	OperatorTxnID string
	Code          string // só em Rejected
	Reason        string
	Attempts      int
}

type Player struct {
	PlayerID string
	Balance  int64
	Currency string
}

// TxnRequest carrega os dados de bet/win/rollback; OriginalTransactionID só em rollback
type TxnRequest struct {
	SessionID             string
	PlayerID              string
	Currency              string
	TransactionID         string
	RoundID               string
	OriginalTransactionID string
	Amount                int64
}

type Adapter interface {
	Code() string
	Authenticate(ctx context.Context, token string) (Player, Result)
	Bet(ctx context.Context, req TxnRequest) Result
	Win(ctx context.Context, req TxnRequest) Result
	Rollback(ctx context.Context, req TxnRequest) Result
}

// Policy controla o backoff de uma família de operações
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsed      time.Duration
	AttemptTimeout  time.Duration
}
