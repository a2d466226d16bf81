package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/radieske/rgs-transaction-core/internal/operator"
	"github.com/radieske/rgs-transaction-core/internal/signer"
	"github.com/radieske/rgs-transaction-core/internal/wallet-simulator/repo"
)

// ---- standard: /wallet/*, camelCase ----

type standard struct{ s *Server }

func (standard) name() string            { return operator.FormatStandard }
func (standard) signatureHeader() string { return signer.HeaderSignature }
func (standard) requireAPIKey() bool     { return false }

func (standard) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, operator.StandardError{Code: code, Message: message})
}

func (d standard) authenticate(w http.ResponseWriter, r *http.Request) {
	var req operator.StandardAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.writeError(w, http.StatusBadRequest, operator.CodeRejected, "bad json")
		return
	}
	claims, err := d.s.authenticate(req.Token)
	if err != nil {
		d.s.metrics.request(string(operator.OpAuthenticate), "rejected")
		status, code := errorFor(err)
		d.writeError(w, status, code, "invalid or expired token")
		return
	}
	wallet, err := d.s.player(r.Context(), claims)
	if err != nil {
		status, code := errorFor(err)
		d.writeError(w, status, code, err.Error())
		return
	}
	d.s.metrics.request(string(operator.OpAuthenticate), "ok")
	writeJSON(w, http.StatusOK, operator.StandardAuthResponse{UserID: wallet.PlayerID, Balance: &wallet.Balance, Currency: wallet.Currency})
}

func (d standard) txn(op operator.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req operator.StandardTxnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			d.writeError(w, http.StatusBadRequest, operator.CodeRejected, "bad json")
			return
		}
		in := txnInput{
			PlayerID: req.PlayerID,
			TxnID:    req.TransactionID,
			RefTxnID: req.OriginalTransactionID,
			Currency: req.Currency,
			Amount:   req.Amount,
		}
		d.s.serveTxn(w, r, d, op, in, func(e repo.Entry) any {
			balance := e.BalanceAfter
			return operator.StandardTxnResponse{Balance: &balance, TransactionID: e.ID}
		})
	}
}

// ---- seamless: /seamless/*, snake_case, X-Api-Key ----

type seamless struct{ s *Server }

// códigos normalizados traduzidos para o vocabulário seamless
var seamlessCodes = map[string]string{
	operator.CodeInsufficientFunds:   "insufficient_balance",
	operator.CodeInvalidSignature:    "bad_signature",
	operator.CodeInvalidToken:        "invalid_token",
	operator.CodeTransactionNotFound: "transaction_not_found",
}

func (seamless) name() string            { return operator.FormatSeamless }
func (seamless) signatureHeader() string { return signer.HeaderSeamlessSignature }
func (seamless) requireAPIKey() bool     { return true }

func (seamless) writeError(w http.ResponseWriter, status int, code, message string) {
	if c, ok := seamlessCodes[code]; ok {
		code = c
	} else {
		code = strings.ToLower(code)
	}
	writeJSON(w, status, operator.SeamlessError{ErrorCode: code, Message: message})
}

func (d seamless) player(w http.ResponseWriter, r *http.Request) {
	var req operator.SeamlessPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.writeError(w, http.StatusBadRequest, operator.CodeRejected, "bad json")
		return
	}
	claims, err := d.s.authenticate(req.Token)
	if err != nil {
		d.s.metrics.request(string(operator.OpAuthenticate), "rejected")
		status, code := errorFor(err)
		d.writeError(w, status, code, "invalid or expired token")
		return
	}
	wallet, err := d.s.player(r.Context(), claims)
	if err != nil {
		status, code := errorFor(err)
		d.writeError(w, status, code, err.Error())
		return
	}
	d.s.metrics.request(string(operator.OpAuthenticate), "ok")
	writeJSON(w, http.StatusOK, operator.SeamlessPlayerResponse{PlayerID: wallet.PlayerID, Balance: &wallet.Balance, Currency: wallet.Currency})
}

func (d seamless) txn(op operator.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req operator.SeamlessTxnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			d.writeError(w, http.StatusBadRequest, operator.CodeRejected, "bad json")
			return
		}
		amount := req.Amount
		in := txnInput{
			PlayerID: req.PlayerID,
			TxnID:    req.TransactionID,
			RefTxnID: req.RefTransactionID,
			Currency: req.Currency,
			Amount:   &amount,
		}
		d.s.serveTxn(w, r, d, op, in, func(e repo.Entry) any {
			balance := e.BalanceAfter
			return operator.SeamlessTxnResponse{Balance: &balance, TransactionRef: e.ID}
		})
	}
}
