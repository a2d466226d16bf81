package events

import "time"

// Publicado no tópico "rgs_reconcile" quando um WIN esgota as tentativas.
// O reconciliation-worker reentrega o crédito com a mesma transactionId.
type ReconcileRequested struct {
	TransactionID string    `json:"transactionId"`
	OperatorCode  string    `json:"operatorCode"`
	SessionID     string    `json:"sessionId"`
	RoundID       string    `json:"roundId"`
	Amount        int64     `json:"amount"`
	Attempt       int       `json:"attempt"` // quantas rodadas de reconciliação já ocorreram
	NotBefore     time.Time `json:"notBefore"`
	Reason        string    `json:"reason,omitempty"`
}
