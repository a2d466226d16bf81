package operator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/radieske/rgs-transaction-core/internal/signer"
)

const (
	FormatStandard = "standard"
	FormatSeamless = "seamless"
)

// wire descreve um formato de Wallet API: rotas, corpos, headers e erros
type wire interface {
	format() string
	path(op Op) string
	authBody(token string) any
	txnBody(op Op, req TxnRequest) any
	headers(h http.Header, signature string)
	decodeAuth(raw []byte) (Player, error)
	decodeTxn(raw []byte) (balance int64, operatorTxnID string, err error)
	decodeError(raw []byte) (code, reason string)
}

func newWire(format, apiKey string) (wire, error) {
	switch strings.ToLower(format) {
	case "", FormatStandard:
		return standardWire{}, nil
	case FormatSeamless:
		return seamlessWire{apiKey: apiKey}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// ---- standard: camelCase em /wallet/*, assinatura em X-Signature ----

type standardWire struct{}

type StandardAuthRequest struct {
	Token string `json:"token"`
}

type StandardAuthResponse struct {
	UserID   string `json:"userId"`
	Balance  *int64 `json:"balance"`
	Currency string `json:"currency"`
}

type StandardTxnRequest struct {
	SessionID             string `json:"sessionId"`
	PlayerID              string `json:"playerId"`
	Currency              string `json:"currency,omitempty"`
	TransactionID         string `json:"transactionId"`
	RoundID               string `json:"roundId,omitempty"`
	OriginalTransactionID string `json:"originalTransactionId,omitempty"`
	Amount                *int64 `json:"amount,omitempty"`
}

type StandardTxnResponse struct {
	Balance       *int64 `json:"balance"`
	TransactionID string `json:"transactionId,omitempty"`
}

type StandardError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (standardWire) format() string { return FormatStandard }

func (standardWire) path(op Op) string { return "/wallet/" + string(op) }

func (standardWire) authBody(token string) any { return StandardAuthRequest{Token: token} }

func (standardWire) txnBody(op Op, req TxnRequest) any {
	body := StandardTxnRequest{
		SessionID:     req.SessionID,
		PlayerID:      req.PlayerID,
		Currency:      req.Currency,
		TransactionID: req.TransactionID,
		RoundID:       req.RoundID,
	}
	if op == OpRollback {
		body.OriginalTransactionID = req.OriginalTransactionID
	} else {
		amount := req.Amount
		body.Amount = &amount
	}
	return body
}

func (standardWire) headers(h http.Header, signature string) {
	h.Set(signer.HeaderSignature, signature)
}

func (standardWire) decodeAuth(raw []byte) (Player, error) {
	var out StandardAuthResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Player{}, err
	}
	if out.UserID == "" || out.Balance == nil {
		return Player{}, fmt.Errorf("incomplete authenticate response")
	}
	return Player{PlayerID: out.UserID, Balance: *out.Balance, Currency: out.Currency}, nil
}

func (standardWire) decodeTxn(raw []byte) (int64, string, error) {
	var out StandardTxnResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, "", err
	}
	if out.Balance == nil {
		return 0, "", fmt.Errorf("response without balance")
	}
	return *out.Balance, out.TransactionID, nil
}

func (standardWire) decodeError(raw []byte) (string, string) {
	var e StandardError
	if json.Unmarshal(raw, &e) != nil {
		return "", ""
	}
	return strings.ToUpper(e.Code), e.Message
}

// ---- seamless: snake_case em /seamless/*, X-Api-Key + X-Hmac-Signature ----

type seamlessWire struct {
	apiKey string
}

type SeamlessPlayerRequest struct {
	Token string `json:"token"`
}

type SeamlessPlayerResponse struct {
	PlayerID string `json:"player_id"`
	Balance  *int64 `json:"balance"`
	Currency string `json:"currency"`
}

type SeamlessTxnRequest struct {
	PlayerID         string `json:"player_id"`
	SessionID        string `json:"session_id"`
	RoundID          string `json:"round_id,omitempty"`
	TransactionID    string `json:"transaction_id"`
	RefTransactionID string `json:"ref_transaction_id,omitempty"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency,omitempty"`
}

type SeamlessTxnResponse struct {
	Balance        *int64 `json:"balance"`
	TransactionRef string `json:"transaction_ref,omitempty"`
}

type SeamlessError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

var seamlessOps = map[Op]string{
	OpAuthenticate: "player",
	OpBet:          "debit",
	OpWin:          "credit",
	OpRollback:     "refund",
}

// códigos do formato seamless traduzidos para os normalizados
var seamlessCodes = map[string]string{
	"insufficient_balance":  CodeInsufficientFunds,
	"bad_signature":         CodeInvalidSignature,
	"invalid_token":         CodeInvalidToken,
	"transaction_not_found": CodeTransactionNotFound,
}

func (seamlessWire) format() string { return FormatSeamless }

func (seamlessWire) path(op Op) string { return "/seamless/" + seamlessOps[op] }

func (seamlessWire) authBody(token string) any { return SeamlessPlayerRequest{Token: token} }

func (seamlessWire) txnBody(op Op, req TxnRequest) any {
	body := SeamlessTxnRequest{
		PlayerID:      req.PlayerID,
		SessionID:     req.SessionID,
		RoundID:       req.RoundID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}
	if op == OpRollback {
		body.RefTransactionID = req.OriginalTransactionID
	}
	return body
}

func (w seamlessWire) headers(h http.Header, signature string) {
	h.Set(signer.HeaderAPIKey, w.apiKey)
	h.Set(signer.HeaderSeamlessSignature, signature)
}

func (seamlessWire) decodeAuth(raw []byte) (Player, error) {
	var out SeamlessPlayerResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Player{}, err
	}
	if out.PlayerID == "" || out.Balance == nil {
		return Player{}, fmt.Errorf("incomplete player response")
	}
	return Player{PlayerID: out.PlayerID, Balance: *out.Balance, Currency: out.Currency}, nil
}

func (seamlessWire) decodeTxn(raw []byte) (int64, string, error) {
	var out SeamlessTxnResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, "", err
	}
	if out.Balance == nil {
		return 0, "", fmt.Errorf("response without balance")
	}
	return *out.Balance, out.TransactionRef, nil
}

func (seamlessWire) decodeError(raw []byte) (string, string) {
	var e SeamlessError
	if json.Unmarshal(raw, &e) != nil {
		return "", ""
	}
	if code, ok := seamlessCodes[strings.ToLower(e.ErrorCode)]; ok {
		return code, e.Message
	}
	return strings.ToUpper(e.ErrorCode), e.Message
}
