package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/radieske/rgs-transaction-core/internal/coordinator"
	"github.com/radieske/rgs-transaction-core/internal/ledger"
	"github.com/radieske/rgs-transaction-core/internal/shared/clock"
	sharedkafka "github.com/radieske/rgs-transaction-core/internal/shared/kafka"
	"github.com/radieske/rgs-transaction-core/pkg/contracts/events"
)

type scriptedReconciler struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (r *scriptedReconciler) Reconcile(_ context.Context, _, txnID string) (*coordinator.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.calls < len(r.results) {
		err = r.results[r.calls]
	}
	r.calls++
	if err != nil {
		return nil, err
	}
	return &coordinator.Outcome{TransactionID: txnID, Status: ledger.StatusConfirmed}, nil
}

type recorder struct {
	mu   sync.Mutex
	evs  []events.ReconcileRequested
	fail int
}

func (r *recorder) ReconcileRequested(_ context.Context, ev events.ReconcileRequested) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("broker down")
	}
	r.evs = append(r.evs, ev)
	return nil
}

func (r *recorder) all() []events.ReconcileRequested {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.ReconcileRequested(nil), r.evs...)
}

type memSource struct {
	msgs      chan sharedkafka.Message
	mu        sync.Mutex
	committed int
	failReads int
}

func (s *memSource) FetchMessage(ctx context.Context) (sharedkafka.Message, error) {
	s.mu.Lock()
	if s.failReads > 0 {
		s.failReads--
		s.mu.Unlock()
		return sharedkafka.Message{}, errors.New("broker not available")
	}
	s.mu.Unlock()
	select {
	case m := <-s.msgs:
		return m, nil
	case <-ctx.Done():
		return sharedkafka.Message{}, ctx.Err()
	}
}

func (s *memSource) CommitMessages(_ context.Context, msgs ...sharedkafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed += len(msgs)
	return nil
}

func (s *memSource) commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

func newProcessor(t *testing.T, r Reconciler, clk *clock.Manual) (*Processor, *recorder, *recorder, *[]time.Duration) {
	requeue, dlq := &recorder{}, &recorder{}
	var slept []time.Duration
	p := &Processor{
		Log:        zaptest.NewLogger(t),
		Reconciler: r,
		Requeue:    requeue,
		DLQ:        dlq,
		Clock:      clk,
		Metrics:    NewMetrics(nil),
		Opts:       Options{InitialDelay: time.Second, MaxDelay: 8 * time.Second, MaxAttempts: 5},
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	return p, requeue, dlq, &slept
}

func request(attempt int) events.ReconcileRequested {
	return events.ReconcileRequested{TransactionID: "t-win", OperatorCode: "acme", SessionID: "s1", Amount: 50, Attempt: attempt}
}

func TestConfirmedIsNotRequeued(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	p, requeue, _, _ := newProcessor(t, &scriptedReconciler{}, clk)

	if err := p.Handle(context.Background(), request(0)); err != nil {
		t.Fatal(err)
	}
	if len(requeue.all()) != 0 {
		t.Fatal("confirmed win requeued")
	}
}

func TestPendingIsRequeuedWithGrowingDelay(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	pending := &coordinator.Error{Kind: coordinator.ErrReconciliationPending, Reason: "operator http 503"}
	p, requeue, _, _ := newProcessor(t, &scriptedReconciler{results: []error{pending, pending, pending}}, clk)

	for attempt := range 3 {
		if err := p.Handle(context.Background(), request(attempt)); err != nil {
			t.Fatal(err)
		}
	}
	got := requeue.all()
	if len(got) != 3 {
		t.Fatalf("requeued %d, want 3", len(got))
	}
	wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, ev := range got {
		if ev.Attempt != i+1 {
			t.Fatalf("attempt = %d, want %d", ev.Attempt, i+1)
		}
		if d := ev.NotBefore.Sub(clk.Now()); d != wantDelays[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, d, wantDelays[i])
		}
	}
}

func TestExhaustedGoesToDeadLetter(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	pending := &coordinator.Error{Kind: coordinator.ErrReconciliationPending}
	p, requeue, dlq, _ := newProcessor(t, &scriptedReconciler{results: []error{pending}}, clk)

	if err := p.Handle(context.Background(), request(4)); err != nil {
		t.Fatal(err)
	}
	if len(requeue.all()) != 0 || len(dlq.all()) != 1 {
		t.Fatalf("requeue=%d dlq=%d", len(requeue.all()), len(dlq.all()))
	}
}

func TestFinalErrorsAreDropped(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	r := &scriptedReconciler{results: []error{
		&coordinator.Error{Kind: coordinator.ErrUpstreamRejected, Reason: "REJECTED"},
		&coordinator.Error{Kind: coordinator.ErrTransactionNotFound},
	}}
	p, requeue, _, _ := newProcessor(t, r, clk)

	for range 2 {
		if err := p.Handle(context.Background(), request(0)); err != nil {
			t.Fatal(err)
		}
	}
	if len(requeue.all()) != 0 {
		t.Fatal("final outcome requeued")
	}
}

func TestNotBeforeIsHonored(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	p, _, _, slept := newProcessor(t, &scriptedReconciler{}, clk)

	ev := request(1)
	ev.NotBefore = clk.Now().Add(3 * time.Second)
	if err := p.Handle(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 1 || (*slept)[0] != 3*time.Second {
		t.Fatalf("slept %v", *slept)
	}
}

func TestRunCommitsAfterRequeueSucceeds(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	pending := &coordinator.Error{Kind: coordinator.ErrReconciliationPending}
	r := &scriptedReconciler{results: []error{pending, pending}}
	p, requeue, _, _ := newProcessor(t, r, clk)
	requeue.fail = 1 // primeira publicação falha; a mensagem é tratada de novo antes do commit

	src := &memSource{msgs: make(chan sharedkafka.Message, 2)}
	p.Source = src
	raw, _ := json.Marshal(request(0))
	src.msgs <- sharedkafka.Message{Value: raw}
	src.msgs <- sharedkafka.Message{Value: []byte("garbage")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for src.commits() < 2 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("commits = %d", src.commits())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	if len(requeue.all()) != 1 || r.calls != 2 {
		t.Fatalf("requeued=%d calls=%d", len(requeue.all()), r.calls)
	}
}

func TestRunKeepsReadingAfterFetchErrors(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	r := &scriptedReconciler{results: []error{nil}}
	p, _, _, _ := newProcessor(t, r, clk)

	src := &memSource{msgs: make(chan sharedkafka.Message, 1), failReads: 2}
	p.Source = src
	raw, _ := json.Marshal(request(0))
	src.msgs <- sharedkafka.Message{Value: raw}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for src.commits() < 1 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("message not handled after read errors")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	if r.calls != 1 {
		t.Fatalf("calls = %d", r.calls)
	}
}
