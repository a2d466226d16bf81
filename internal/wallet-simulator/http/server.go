package httpapi

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/rgs-transaction-core/internal/operator"
	"github.com/radieske/rgs-transaction-core/internal/signer"
	"github.com/radieske/rgs-transaction-core/internal/wallet-simulator/dto"
	"github.com/radieske/rgs-transaction-core/internal/wallet-simulator/repo"
	"github.com/radieske/rgs-transaction-core/internal/wallet-simulator/token"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequest       = errors.New("bad request")
	errCurrencyMismatch = errors.New("currency mismatch")
)

type Options struct {
	Format         string // "standard" | "seamless" | "" para ambos
	Secret         string
	APIKey         string // exigido no formato seamless quando preenchido
	InitialBalance int64
	TokenTTL       time.Duration
	FailRate       float64
	Metrics        *Metrics
}

// Server simula a Wallet API de um operador nos dois formatos suportados
type Server struct {
	log     *zap.Logger
	repo    repo.Repo
	tokens  *token.Issuer
	signer  *signer.Signer
	opts    Options
	faults  *Faults
	metrics *Metrics
}

func NewServer(log *zap.Logger, r repo.Repo, tokens *token.Issuer, opts Options) *Server {
	if opts.InitialBalance == 0 {
		opts.InitialBalance = 100_000
	}
	if opts.TokenTTL == 0 {
		opts.TokenTTL = time.Hour
	}
	return &Server{
		log:     log,
		repo:    r,
		tokens:  tokens,
		signer:  signer.New(opts.Secret),
		opts:    opts,
		faults:  NewFaults(opts.FailRate),
		metrics: opts.Metrics,
	}
}

func (s *Server) Faults() *Faults { return s.faults }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// rotas de apoio (sem assinatura)
	r.Post("/tokens", s.issueToken)
	r.Get("/wallets/{playerId}", s.getWallet)

	if s.opts.Format == "" || s.opts.Format == operator.FormatStandard {
		std := standard{s}
		r.Route("/wallet", func(r chi.Router) {
			r.Use(s.verify(std))
			r.Post("/authenticate", std.authenticate)
			r.Post("/bet", std.txn(operator.OpBet))
			r.Post("/win", std.txn(operator.OpWin))
			r.Post("/rollback", std.txn(operator.OpRollback))
		})
	}
	if s.opts.Format == "" || s.opts.Format == operator.FormatSeamless {
		sl := seamless{s}
		r.Route("/seamless", func(r chi.Router) {
			r.Use(s.verify(sl))
			r.Post("/player", sl.player)
			r.Post("/debit", sl.txn(operator.OpBet))
			r.Post("/credit", sl.txn(operator.OpWin))
			r.Post("/refund", sl.txn(operator.OpRollback))
		})
	}
	return r
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" || req.Currency == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	initial := s.opts.InitialBalance
	if req.Balance != nil {
		initial = *req.Balance
	}
	wallet, err := s.repo.GetOrCreateWallet(r.Context(), req.PlayerID, req.Currency, initial)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	raw, err := s.tokens.Issue(wallet.PlayerID, wallet.Currency, s.opts.TokenTTL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, dto.TokenResponse{Token: raw, PlayerID: wallet.PlayerID, Balance: wallet.Balance, Currency: wallet.Currency})
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.repo.Wallet(r.Context(), chi.URLParam(r, "playerId"))
	if errors.Is(err, repo.ErrNotFound) {
		http.Error(w, "wallet not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{PlayerID: wallet.PlayerID, WalletID: wallet.ID, Balance: wallet.Balance, Currency: wallet.Currency})
}

// dialect isola o que muda entre os formatos de Wallet API
type dialect interface {
	name() string
	signatureHeader() string
	requireAPIKey() bool
	writeError(w http.ResponseWriter, status int, code, message string)
}

// verify valida a assinatura antes de qualquer decodificação do corpo
func (s *Server) verify(d dialect) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				d.writeError(w, http.StatusBadRequest, operator.CodeRejected, "unreadable body")
				return
			}
			if d.requireAPIKey() && s.opts.APIKey != "" &&
				subtle.ConstantTimeCompare([]byte(r.Header.Get(signer.HeaderAPIKey)), []byte(s.opts.APIKey)) != 1 {
				s.metrics.request(d.name(), "unauthorized")
				d.writeError(w, http.StatusUnauthorized, operator.CodeInvalidSignature, "bad api key")
				return
			}
			if !s.signer.Verify(body, r.Header.Get(d.signatureHeader())) {
				s.metrics.request(d.name(), "unauthorized")
				s.log.Warn("rejected unsigned request", zap.String("path", r.URL.Path))
				d.writeError(w, http.StatusUnauthorized, operator.CodeInvalidSignature, "bad signature")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

type txnInput struct {
	PlayerID string
	TxnID    string
	RefTxnID string
	Currency string
	Amount   *int64
}

func (s *Server) authenticate(raw string) (*token.Claims, error) {
	return s.tokens.Parse(raw)
}

func (s *Server) player(ctx context.Context, claims *token.Claims) (repo.Wallet, error) {
	return s.repo.GetOrCreateWallet(ctx, claims.Subject, claims.Currency, s.opts.InitialBalance)
}

// apply valida e executa o movimento na carteira
func (s *Server) apply(ctx context.Context, op operator.Op, in txnInput) (repo.Entry, error) {
	if in.PlayerID == "" || in.TxnID == "" {
		return repo.Entry{}, errBadRequest
	}
	if in.Currency != "" {
		wallet, err := s.repo.Wallet(ctx, in.PlayerID)
		if err != nil {
			return repo.Entry{}, err
		}
		if wallet.Currency != in.Currency {
			return repo.Entry{}, errCurrencyMismatch
		}
	}
	switch op {
	case operator.OpBet, operator.OpWin:
		if in.Amount == nil || *in.Amount < 0 || (op == operator.OpBet && *in.Amount == 0) {
			return repo.Entry{}, errBadRequest
		}
		if op == operator.OpBet {
			return s.repo.Debit(ctx, in.PlayerID, in.TxnID, *in.Amount)
		}
		return s.repo.Credit(ctx, in.PlayerID, in.TxnID, *in.Amount)
	case operator.OpRollback:
		if in.RefTxnID == "" {
			return repo.Entry{}, errBadRequest
		}
		return s.repo.Refund(ctx, in.PlayerID, in.TxnID, in.RefTxnID)
	default:
		return repo.Entry{}, errBadRequest
	}
}

// serveTxn aplica as falhas injetadas em volta de apply
func (s *Server) serveTxn(w http.ResponseWriter, r *http.Request, d dialect, op operator.Op, in txnInput, ok func(repo.Entry) any) {
	mode, fault := s.faults.take(op)
	if fault && mode == FailBefore {
		s.metrics.request(string(op), "fault")
		d.writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "injected failure")
		return
	}
	entry, err := s.apply(r.Context(), op, in)
	if err != nil {
		status, code := errorFor(err)
		s.metrics.request(string(op), "rejected")
		if status >= http.StatusInternalServerError {
			s.log.Error("wallet operation failed", zap.String("op", string(op)), zap.Error(err))
		}
		d.writeError(w, status, code, err.Error())
		return
	}
	if fault && mode == FailAfter {
		s.metrics.request(string(op), "fault")
		d.writeError(w, http.StatusInternalServerError, "UNAVAILABLE", "injected failure after apply")
		return
	}
	s.metrics.request(string(op), "ok")
	writeJSON(w, http.StatusOK, ok(entry))
}

// errorFor devolve status e código normalizado de um erro da carteira
func errorFor(err error) (int, string) {
	switch {
	case errors.Is(err, repo.ErrInsufficientFunds):
		return http.StatusPaymentRequired, operator.CodeInsufficientFunds
	case errors.Is(err, repo.ErrTxnNotFound):
		return http.StatusNotFound, operator.CodeTransactionNotFound
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, "PLAYER_NOT_FOUND"
	case errors.Is(err, token.ErrInvalid):
		return http.StatusForbidden, operator.CodeInvalidToken // 401 fica reservado à assinatura
	case errors.Is(err, errBadRequest), errors.Is(err, errCurrencyMismatch):
		return http.StatusBadRequest, operator.CodeRejected
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
