package events

import "time"

// Evento emitido pelo rgs-core quando uma transação chega a um estado final
// (CONFIRMED | FAILED) ou entra em RECONCILING.
type TransactionCompleted struct {
	TransactionID         string    `json:"transactionId"`
	OperatorCode          string    `json:"operatorCode"`
	SessionID             string    `json:"sessionId"`
	RoundID               string    `json:"roundId"`
	Type                  string    `json:"type"`   // "BET" | "WIN" | "ROLLBACK"
	Status                string    `json:"status"` // "CONFIRMED" | "FAILED" | "RECONCILING"
	Amount                int64     `json:"amount"`
	OriginalTransactionID string    `json:"originalTransactionId,omitempty"`
	OperatorTxnID         string    `json:"operatorTxnId,omitempty"`
	Balance               *int64    `json:"balance,omitempty"`
	Reason                string    `json:"reason,omitempty"`
	Ts                    time.Time `json:"ts"`
}
