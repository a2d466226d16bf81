package coordinator

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound        = errors.New("session_not_found")
	ErrSessionExpired         = errors.New("session_expired")
	ErrSessionClosed          = errors.New("session_closed")
	ErrSessionBusy            = errors.New("session_busy")
	ErrInvalidSignature       = errors.New("invalid_signature")
	ErrInvalidRequest         = errors.New("invalid_request")
	ErrUnknownOperator        = errors.New("unknown_operator")
	ErrInsufficientFunds      = errors.New("insufficient_funds")
	ErrRollbackNotFound       = errors.New("rollback_not_found")
	ErrRollbackAlreadyApplied = errors.New("rollback_already_applied")
	ErrBetNotConfirmed        = errors.New("bet_not_confirmed")
	ErrTransactionNotFound    = errors.New("transaction_not_found")
	ErrTransactionInProgress  = errors.New("transaction_in_progress")
	ErrUpstreamIndeterminate  = errors.New("upstream_indeterminate")
	ErrUpstreamRejected       = errors.New("upstream_rejected")
	ErrReconciliationPending  = errors.New("reconciliation_pending")
	ErrLedgerUnavailable      = errors.New("ledger_unavailable")
)

// codes é a tabela estável de códigos expostos ao jogo
var codes = map[error]string{
	ErrSessionNotFound:        "SESSION_NOT_FOUND",
	ErrSessionExpired:         "SESSION_EXPIRED",
	ErrSessionClosed:          "SESSION_CLOSED",
	ErrSessionBusy:            "SESSION_BUSY",
	ErrInvalidSignature:       "INVALID_SIGNATURE",
	ErrInvalidRequest:         "INVALID_REQUEST",
	ErrUnknownOperator:        "UNKNOWN_OPERATOR",
	ErrInsufficientFunds:      "INSUFFICIENT_FUNDS",
	ErrRollbackNotFound:       "ROLLBACK_NOT_FOUND",
	ErrRollbackAlreadyApplied: "ROLLBACK_ALREADY_APPLIED",
	ErrBetNotConfirmed:        "BET_NOT_CONFIRMED",
	ErrTransactionNotFound:    "TRANSACTION_NOT_FOUND",
	ErrTransactionInProgress:  "TRANSACTION_IN_PROGRESS",
	ErrUpstreamIndeterminate:  "UPSTREAM_INDETERMINATE",
	ErrUpstreamRejected:       "UPSTREAM_REJECTED",
	ErrReconciliationPending:  "RECONCILIATION_PENDING",
	ErrLedgerUnavailable:      "LEDGER_UNAVAILABLE",
}

var byCode = func() map[string]error {
	m := make(map[string]error, len(codes))
	for err, code := range codes {
		m[code] = err
	}
	return m
}()

// Error carrega o tipo do erro, o motivo e o último saldo conhecido
type Error struct {
	Kind    error
	Reason  string
	Balance *int64
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, reason string, balance *int64) *Error {
	return &Error{Kind: kind, Reason: reason, Balance: balance}
}

// Code devolve o código estável de err; erros desconhecidos viram INTERNAL
func Code(err error) string {
	if err == nil {
		return ""
	}
	for kind, code := range codes {
		if errors.Is(err, kind) {
			return code
		}
	}
	return "INTERNAL"
}

// KindOf é o inverso de Code, usado ao reconstruir erros de replays
func KindOf(code string) error {
	if err, ok := byCode[code]; ok {
		return err
	}
	return ErrUpstreamRejected
}

// BalanceOf extrai o último saldo conhecido, se houver
func BalanceOf(err error) *int64 {
	var e *Error
	if errors.As(err, &e) {
		return e.Balance
	}
	return nil
}
