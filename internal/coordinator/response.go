package coordinator

import (
	"encoding/json"

	"github.com/radieske/rgs-transaction-core/internal/ledger"
)

// Response é o corpo devolvido ao jogo; seus bytes são o snapshot gravado no ledger
type Response struct {
	Success       bool       `json:"success"`
	Balance       *int64     `json:"balance,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
	Error         *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Outcome é o resultado de uma transação. Snapshot são os bytes exatos da resposta;
// um replay da mesma transactionId devolve os mesmos bytes.
type Outcome struct {
	TransactionID string
	Status        ledger.Status
	Balance       *int64
	Snapshot      []byte
	Replayed      bool
	Err           error
}

type SessionView struct {
	SessionID string `json:"sessionId"`
	Balance   int64  `json:"balance"`
	Currency  string `json:"currency"`
}

func snapshot(transactionID string, balance *int64, err error) []byte {
	r := Response{Success: err == nil, Balance: balance, TransactionID: transactionID}
	if err != nil {
		r.Error = &ErrorBody{Code: Code(err), Message: err.Error()}
	}
	raw, _ := json.Marshal(r)
	return raw
}

// outcomeFrom reconstrói o Outcome de um registro já gravado
func outcomeFrom(rec *ledger.Record, replayed bool) *Outcome {
	out := &Outcome{
		TransactionID: rec.TransactionID,
		Status:        rec.Status,
		Balance:       rec.Balance,
		Snapshot:      rec.Result,
		Replayed:      replayed,
	}
	if rec.ErrorCode != "" {
		out.Err = newError(KindOf(rec.ErrorCode), rec.Reason, rec.Balance)
	}
	return out
}
