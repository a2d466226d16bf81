package dto

type CreateSessionRequest struct {
	Token        string `json:"token"`
	GameCode     string `json:"gameCode"`
	OperatorCode string `json:"operatorCode"`
}

// TransactionRequest serve para /v1/bet e /v1/win
type TransactionRequest struct {
	SessionID     string `json:"sessionId"`
	Amount        *int64 `json:"amount"` // minor units; obrigatório
	RoundID       string `json:"roundId"`
	TransactionID string `json:"transactionId"`
}

type RollbackRequest struct {
	SessionID             string `json:"sessionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	TransactionID         string `json:"transactionId,omitempty"` // default: rollback-{originalTransactionId}
}
