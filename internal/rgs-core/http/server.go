package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/rgs-transaction-core/internal/coordinator"
	"github.com/radieske/rgs-transaction-core/internal/rgs-core/dto"
	"github.com/radieske/rgs-transaction-core/internal/session"
)

const maxBodyBytes = 1 << 20

// HeaderReplay marca respostas servidas a partir do ledger
const HeaderReplay = "X-Idempotent-Replay"

// Coordinator é o que a API precisa do core de transações
type Coordinator interface {
	CreateSession(ctx context.Context, req coordinator.CreateSessionRequest) (*coordinator.SessionView, error)
	GetSession(ctx context.Context, id string) (*session.Session, error)
	CloseSession(ctx context.Context, id string) (*session.Session, error)
	Bet(ctx context.Context, req coordinator.TxnRequest) (*coordinator.Outcome, error)
	Win(ctx context.Context, req coordinator.TxnRequest) (*coordinator.Outcome, error)
	Rollback(ctx context.Context, req coordinator.RollbackRequest) (*coordinator.Outcome, error)
	Reconcile(ctx context.Context, operatorCode, transactionID string) (*coordinator.Outcome, error)
}

// Server expõe a API do jogo: sessões e transações bet/win/rollback
type Server struct {
	log   *zap.Logger
	coord Coordinator
}

func NewServer(log *zap.Logger, c Coordinator) *Server {
	return &Server{log: log, coord: c}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/sessions", s.createSession)
	r.Get("/v1/sessions/{sessionId}", s.getSession)
	r.Delete("/v1/sessions/{sessionId}", s.closeSession)

	r.Post("/v1/bet", s.bet)
	r.Post("/v1/win", s.win)
	r.Post("/v1/rollback", s.rollback)

	r.Post("/v1/reconcile/{operatorCode}/{transactionId}", s.reconcile) // operação manual
	return r
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := s.coord.CreateSession(r.Context(), coordinator.CreateSessionRequest{
		Token:        req.Token,
		GameCode:     req.GameCode,
		OperatorCode: req.OperatorCode,
	})
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coord.GetSession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coord.CloseSession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

func (s *Server) bet(w http.ResponseWriter, r *http.Request) {
	s.transaction(w, r, s.coord.Bet)
}

func (s *Server) win(w http.ResponseWriter, r *http.Request) {
	s.transaction(w, r, s.coord.Win)
}

func (s *Server) transaction(w http.ResponseWriter, r *http.Request, fn func(context.Context, coordinator.TxnRequest) (*coordinator.Outcome, error)) {
	var req dto.TransactionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount == nil {
		s.writeError(w, req.TransactionID, &coordinator.Error{Kind: coordinator.ErrInvalidRequest, Reason: "amount is required"})
		return
	}
	out, err := fn(r.Context(), coordinator.TxnRequest{
		SessionID:     req.SessionID,
		TransactionID: req.TransactionID,
		RoundID:       req.RoundID,
		Amount:        *req.Amount,
	})
	s.writeOutcome(w, req.TransactionID, out, err)
}

func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	var req dto.RollbackRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.coord.Rollback(r.Context(), coordinator.RollbackRequest{
		SessionID:             req.SessionID,
		TransactionID:         req.TransactionID,
		OriginalTransactionID: req.OriginalTransactionID,
	})
	txnID := req.TransactionID
	if txnID == "" && req.OriginalTransactionID != "" {
		txnID = coordinator.RollbackID(req.OriginalTransactionID)
	}
	s.writeOutcome(w, txnID, out, err)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "transactionId")
	out, err := s.coord.Reconcile(r.Context(), chi.URLParam(r, "operatorCode"), txnID)
	s.writeOutcome(w, txnID, out, err)
}

// writeOutcome devolve os bytes do snapshot quando existe; é o que torna o replay idêntico
func (s *Server) writeOutcome(w http.ResponseWriter, txnID string, out *coordinator.Outcome, err error) {
	if out == nil || len(out.Snapshot) == 0 {
		if err == nil {
			err = errors.New("empty outcome")
		}
		s.writeError(w, txnID, err)
		return
	}
	if out.Replayed {
		w.Header().Set(HeaderReplay, "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(err))
	_, _ = w.Write(out.Snapshot)
}

func (s *Server) writeError(w http.ResponseWriter, txnID string, err error) {
	if errors.Is(err, context.Canceled) {
		// o chamador desistiu; o resultado continua sendo gravado
		s.log.Info("request abandoned by caller", zap.String("transaction_id", txnID))
		return
	}
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("transaction_id", txnID), zap.Error(err))
	}
	writeJSON(w, status, coordinator.Response{
		Success:       false,
		Balance:       coordinator.BalanceOf(err),
		TransactionID: txnID,
		Error:         &coordinator.ErrorBody{Code: coordinator.Code(err), Message: err.Error()},
	})
}

// StatusFor mapeia cada código estável para um status HTTP fixo
func StatusFor(err error) int {
	switch coordinator.Code(err) {
	case "":
		return http.StatusOK
	case "INVALID_REQUEST", "UNKNOWN_OPERATOR":
		return http.StatusBadRequest
	case "INSUFFICIENT_FUNDS":
		return http.StatusPaymentRequired
	case "SESSION_NOT_FOUND", "ROLLBACK_NOT_FOUND", "TRANSACTION_NOT_FOUND":
		return http.StatusNotFound
	case "SESSION_EXPIRED", "SESSION_CLOSED":
		return http.StatusGone
	case "ROLLBACK_ALREADY_APPLIED", "BET_NOT_CONFIRMED", "TRANSACTION_IN_PROGRESS", "SESSION_BUSY":
		return http.StatusConflict
	case "UPSTREAM_REJECTED":
		return http.StatusUnprocessableEntity
	case "INVALID_SIGNATURE":
		return http.StatusBadGateway
	case "RECONCILIATION_PENDING":
		return http.StatusAccepted
	case "UPSTREAM_INDETERMINATE":
		return http.StatusGatewayTimeout
	case "LEDGER_UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, coordinator.Response{
			Error: &coordinator.ErrorBody{Code: "INVALID_REQUEST", Message: "bad json"},
		})
		return false
	}
	return true
}

func sessionResponse(s *session.Session) dto.SessionResponse {
	return dto.SessionResponse{
		SessionID:    s.ID,
		PlayerID:     s.PlayerID,
		OperatorCode: s.OperatorCode,
		GameCode:     s.GameCode,
		Currency:     s.Currency,
		Balance:      s.CachedBalance,
		Status:       string(s.Status),
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
