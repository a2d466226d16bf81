package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/radieske/rgs-transaction-core/internal/kv"
	"github.com/radieske/rgs-transaction-core/internal/operator"
	"github.com/radieske/rgs-transaction-core/pkg/contracts/events"
)

// fakeWallet é um operador em memória: deduplica por transactionId e
// devolve o saldo resultante. indeterminate força as próximas N chamadas de uma op
// a falharem sem efeito.
type fakeWallet struct {
	mu            sync.Mutex
	balance       int64
	results       map[string]operator.Result
	refunded      map[string]bool
	effects       int
	calls         map[operator.Op]int
	indeterminate map[operator.Op]int
	reject        map[operator.Op]string
	gate          chan struct{}
}

func newFakeWallet(balance int64) *fakeWallet {
	return &fakeWallet{
		balance:       balance,
		results:       make(map[string]operator.Result),
		refunded:      make(map[string]bool),
		calls:         make(map[operator.Op]int),
		indeterminate: make(map[operator.Op]int),
		reject:        make(map[operator.Op]string),
	}
}

func (f *fakeWallet) Code() string { return "acme" }

func (f *fakeWallet) Authenticate(_ context.Context, token string) (operator.Player, operator.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token != "good-token" {
		return operator.Player{}, operator.Result{Outcome: operator.Rejected, Code: operator.CodeInvalidToken, Reason: "unknown token"}
	}
	return operator.Player{PlayerID: "p1", Balance: f.balance, Currency: "EUR"},
		operator.Result{Outcome: operator.Confirmed, Balance: f.balance, Attempts: 1}
}

func (f *fakeWallet) Bet(ctx context.Context, req operator.TxnRequest) operator.Result {
	return f.apply(ctx, operator.OpBet, req, func() (operator.Result, bool) {
		if f.balance < req.Amount {
			return operator.Result{Outcome: operator.Rejected, Code: operator.CodeInsufficientFunds, Reason: "low balance"}, false
		}
		f.balance -= req.Amount
		return operator.Result{}, true
	})
}

func (f *fakeWallet) Win(ctx context.Context, req operator.TxnRequest) operator.Result {
	return f.apply(ctx, operator.OpWin, req, func() (operator.Result, bool) {
		f.balance += req.Amount
		return operator.Result{}, true
	})
}

func (f *fakeWallet) Rollback(ctx context.Context, req operator.TxnRequest) operator.Result {
	return f.apply(ctx, operator.OpRollback, req, func() (operator.Result, bool) {
		if f.refunded[req.OriginalTransactionID] {
			return operator.Result{}, false
		}
		f.refunded[req.OriginalTransactionID] = true
		f.balance += req.Amount
		return operator.Result{}, true
	})
}

func (f *fakeWallet) apply(ctx context.Context, op operator.Op, req operator.TxnRequest, effect func() (operator.Result, bool)) operator.Result {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return operator.Result{Outcome: operator.Indeterminate, Reason: ctx.Err().Error(), Attempts: 1}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++

	if f.indeterminate[op] > 0 {
		f.indeterminate[op]--
		return operator.Result{Outcome: operator.Indeterminate, Reason: "operator http 503", Attempts: 3}
	}
	if code := f.reject[op]; code != "" {
		return operator.Result{Outcome: operator.Rejected, Code: code, Reason: "rejected by test", Attempts: 1}
	}
	if prev, ok := f.results[req.TransactionID]; ok {
		return prev
	}

	res, applied := effect()
	if res.Outcome == operator.Rejected {
		res.Attempts = 1
		return res
	}
	if applied {
		f.effects++
	}
	res = operator.Result{Outcome: operator.Confirmed, Balance: f.balance, OperatorTxnID: fmt.Sprintf("op-%s", req.TransactionID), Attempts: 1}
	f.results[req.TransactionID] = res
	return res
}

func (f *fakeWallet) Effects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.effects
}

func (f *fakeWallet) Calls(op operator.Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeWallet) Balance() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance
}

func (f *fakeWallet) Hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeWallet) FailNext(op operator.Op, n int) {
	f.mu.Lock()
	f.indeterminate[op] = n
	f.mu.Unlock()
}

func (f *fakeWallet) Reject(op operator.Op, code string) {
	f.mu.Lock()
	f.reject[op] = code
	f.mu.Unlock()
}

type recordingPublisher struct {
	mu        sync.Mutex
	completed []events.TransactionCompleted
	reconcile []events.ReconcileRequested
}

func (p *recordingPublisher) TransactionCompleted(_ context.Context, ev events.TransactionCompleted) error {
	p.mu.Lock()
	p.completed = append(p.completed, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) ReconcileRequested(_ context.Context, ev events.ReconcileRequested) error {
	p.mu.Lock()
	p.reconcile = append(p.reconcile, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Reconciles() []events.ReconcileRequested {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.ReconcileRequested(nil), p.reconcile...)
}

func (p *recordingPublisher) Completed() []events.TransactionCompleted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.TransactionCompleted(nil), p.completed...)
}

// downStore simula o backend do ledger fora do ar
type downStore struct{ kv.Store }

func (downStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, fmt.Errorf("%w: connection refused", kv.ErrUnavailable)
}

func (downStore) Get(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("%w: connection refused", kv.ErrUnavailable)
}
