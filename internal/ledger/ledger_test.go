package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/radieske/rgs-transaction-core/internal/kv"
	"github.com/radieske/rgs-transaction-core/internal/shared/clock"
)

type downStore struct{ kv.Store }

func (downStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, fmt.Errorf("%w: connection refused", kv.ErrUnavailable)
}

func (downStore) Get(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("%w: connection refused", kv.ErrUnavailable)
}

func newRecord(id string) *Record {
	return &Record{
		OperatorCode:  "acme",
		TransactionID: id,
		SessionID:     "s1",
		RoundID:       "r1",
		Type:          TypeBet,
		Amount:        100,
		Owner:         NewOwner(),
	}
}

func TestRecordIfAbsentIsAtomic(t *testing.T) {
	l := New(kv.NewMemory(nil), nil)
	ctx := context.Background()

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := l.RecordIfAbsent(ctx, newRecord("txn_001"))
			if err != nil {
				t.Errorf("record: %v", err)
			}
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := created.Load(); n != 1 {
		t.Fatalf("expected exactly one creator, got %d", n)
	}
}

func TestRecordIfAbsentReturnsExisting(t *testing.T) {
	l := New(kv.NewMemory(nil), nil)
	ctx := context.Background()

	first := newRecord("txn_001")
	if _, ok, err := l.RecordIfAbsent(ctx, first); err != nil || !ok {
		t.Fatalf("first: %v %v", ok, err)
	}
	existing, ok, err := l.RecordIfAbsent(ctx, newRecord("txn_001"))
	if err != nil || ok {
		t.Fatalf("second: %v %v", ok, err)
	}
	if existing.Owner != first.Owner || existing.Status != StatusPending {
		t.Fatalf("existing: %+v", existing)
	}
}

func TestKeysAreScopedByOperator(t *testing.T) {
	l := New(kv.NewMemory(nil), nil)
	ctx := context.Background()

	a := newRecord("txn_001")
	b := newRecord("txn_001")
	b.OperatorCode = "beta"
	if _, ok, _ := l.RecordIfAbsent(ctx, a); !ok {
		t.Fatal("acme record")
	}
	if _, ok, _ := l.RecordIfAbsent(ctx, b); !ok {
		t.Fatal("same transactionId under another operator must be independent")
	}
}

func TestCompleteOwnership(t *testing.T) {
	l := New(kv.NewMemory(nil), nil)
	ctx := context.Background()

	rec := newRecord("txn_001")
	_, _, _ = l.RecordIfAbsent(ctx, rec)

	intruder := *rec
	intruder.Owner = NewOwner()
	intruder.Status = StatusConfirmed
	if err := l.Complete(ctx, &intruder); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	bal := int64(900)
	rec.Status = StatusConfirmed
	rec.Balance = &bal
	rec.Result = json.RawMessage(`{"success":true,"balance":900,"transactionId":"txn_001"}`)
	if err := l.Complete(ctx, rec); err != nil {
		t.Fatalf("complete: %v", err)
	}

	again := *rec
	again.Status = StatusFailed
	if err := l.Complete(ctx, &again); !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal, got %v", err)
	}

	got, err := l.Lookup(ctx, "acme", "txn_001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Status != StatusConfirmed || *got.Balance != 900 || string(got.Result) != string(rec.Result) {
		t.Fatalf("lookup: %+v", got)
	}
}

func TestAwait(t *testing.T) {
	l := New(kv.NewMemory(nil), nil).WithPollInterval(5 * time.Millisecond)
	ctx := context.Background()

	rec := newRecord("txn_001")
	_, _, _ = l.RecordIfAbsent(ctx, rec)

	go func() {
		time.Sleep(20 * time.Millisecond)
		rec.Status = StatusFailed
		_ = l.Complete(ctx, rec)
	}()

	got, err := l.Await(ctx, "acme", "txn_001")
	if err != nil || got.Status != StatusFailed {
		t.Fatalf("await: %+v %v", got, err)
	}

	_, _, _ = l.RecordIfAbsent(ctx, newRecord("txn_002"))
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	got, err = l.Await(short, "acme", "txn_002")
	if !errors.Is(err, context.DeadlineExceeded) || got == nil || got.Status != StatusPending {
		t.Fatalf("await timeout: %+v %v", got, err)
	}
}

func TestClaimOnlyFromReconciling(t *testing.T) {
	l := New(kv.NewMemory(nil), nil)
	ctx := context.Background()

	rec := newRecord("win_001")
	rec.Type = TypeWin
	_, _, _ = l.RecordIfAbsent(ctx, rec)

	if _, err := l.Claim(ctx, "acme", "win_001", NewOwner()); !errors.Is(err, ErrNotReconciling) {
		t.Fatalf("claim of pending record: %v", err)
	}

	rec.Status = StatusReconciling
	_ = l.Complete(ctx, rec)

	worker := NewOwner()
	claimed, err := l.Claim(ctx, "acme", "win_001", worker)
	if err != nil || claimed.Owner != worker {
		t.Fatalf("claim: %+v %v", claimed, err)
	}
	if err := l.Complete(ctx, rec); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("previous owner must lose the record, got %v", err)
	}
	claimed.Status = StatusConfirmed
	if err := l.Complete(ctx, claimed); err != nil {
		t.Fatalf("complete by new owner: %v", err)
	}
}

func TestClaimLease(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	l := New(kv.NewMemory(clk), clk).WithClaimLease(time.Minute)
	ctx := context.Background()

	rec := newRecord("win_001")
	rec.Type = TypeWin
	_, _, _ = l.RecordIfAbsent(ctx, rec)
	rec.Status = StatusReconciling
	_ = l.Complete(ctx, rec)

	first := NewOwner()
	claimed, err := l.Claim(ctx, "acme", "win_001", first)
	if err != nil || claimed.ClaimedAt == nil {
		t.Fatalf("first claim: %+v %v", claimed, err)
	}
	if _, err := l.Claim(ctx, "acme", "win_001", NewOwner()); !errors.Is(err, ErrClaimed) {
		t.Fatalf("claim inside lease: %v", err)
	}
	if _, err := l.Claim(ctx, "acme", "win_001", first); err != nil {
		t.Fatalf("same owner must renew: %v", err)
	}

	// dono sumiu: depois do lease outro worker assume
	clk.Advance(time.Minute)
	second := NewOwner()
	if got, err := l.Claim(ctx, "acme", "win_001", second); err != nil || got.Owner != second {
		t.Fatalf("claim after lease: %+v %v", got, err)
	}

	// gravar RECONCILING de novo libera o claim na hora
	claimed, _ = l.Lookup(ctx, "acme", "win_001")
	if err := l.Complete(ctx, claimed); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := l.Claim(ctx, "acme", "win_001", NewOwner()); err != nil {
		t.Fatalf("claim after complete: %v", err)
	}
}

func TestClaimTakesOverStalePendingWin(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	l := New(kv.NewMemory(clk), clk).WithClaimLease(time.Minute)
	ctx := context.Background()

	win := newRecord("win_001")
	win.Type = TypeWin
	_, _, _ = l.RecordIfAbsent(ctx, win)
	bet := newRecord("txn_001")
	_, _, _ = l.RecordIfAbsent(ctx, bet)

	if _, err := l.Claim(ctx, "acme", "win_001", NewOwner()); !errors.Is(err, ErrNotReconciling) {
		t.Fatalf("fresh pending win: %v", err)
	}

	clk.Advance(time.Minute)
	if _, err := l.Claim(ctx, "acme", "txn_001", NewOwner()); !errors.Is(err, ErrNotReconciling) {
		t.Fatalf("stale bet must not be claimed: %v", err)
	}
	worker := NewOwner()
	claimed, err := l.Claim(ctx, "acme", "win_001", worker)
	if err != nil || claimed.Status != StatusPending {
		t.Fatalf("stale win: %+v %v", claimed, err)
	}
	if err := l.Complete(ctx, win); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("original owner must lose the record: %v", err)
	}
	claimed.Status = StatusConfirmed
	if err := l.Complete(ctx, claimed); err != nil {
		t.Fatalf("complete by worker: %v", err)
	}
}

func TestRollbackClaim(t *testing.T) {
	l := New(kv.NewMemory(nil), nil)
	ctx := context.Background()

	holder, ok, err := l.ClaimRollback(ctx, "acme", "txn_001", "rb_001")
	if err != nil || !ok || holder != "rb_001" {
		t.Fatalf("first claim: %s %v %v", holder, ok, err)
	}
	holder, ok, _ = l.ClaimRollback(ctx, "acme", "txn_001", "rb_002")
	if ok || holder != "rb_001" {
		t.Fatalf("second claim must report holder: %s %v", holder, ok)
	}

	_ = l.ReleaseRollback(ctx, "acme", "txn_001", "rb_002") // não é o dono, não libera
	if _, ok, _ := l.ClaimRollback(ctx, "acme", "txn_001", "rb_003"); ok {
		t.Fatal("release by non-holder must be ignored")
	}
	_ = l.ReleaseRollback(ctx, "acme", "txn_001", "rb_001")
	if _, ok, _ := l.ClaimRollback(ctx, "acme", "txn_001", "rb_003"); !ok {
		t.Fatal("claim after release")
	}
}

func TestRoundMarkers(t *testing.T) {
	l := New(kv.NewMemory(nil), nil)
	ctx := context.Background()

	if ok, _ := l.RoundHasBet(ctx, "acme", "s1", "r1"); ok {
		t.Fatal("no bet yet")
	}
	_ = l.MarkRoundBet(ctx, "acme", "s1", "r1", "txn_001")
	if ok, _ := l.RoundHasBet(ctx, "acme", "s1", "r1"); !ok {
		t.Fatal("marker missing")
	}
	_ = l.UnmarkRoundBet(ctx, "acme", "s1", "r1", "txn_999")
	if ok, _ := l.RoundHasBet(ctx, "acme", "s1", "r1"); !ok {
		t.Fatal("unmark with other bet id must keep the marker")
	}
	_ = l.UnmarkRoundBet(ctx, "acme", "s1", "r1", "txn_001")
	if ok, _ := l.RoundHasBet(ctx, "acme", "s1", "r1"); ok {
		t.Fatal("marker should be gone")
	}
}

func TestRoundKeepsEveryConfirmedBet(t *testing.T) {
	store := kv.NewMemory(nil)
	l := New(store, nil)
	ctx := context.Background()

	for _, id := range []string{"bet_a", "bet_b", "bet_a"} {
		if err := l.MarkRoundBet(ctx, "acme", "s1", "r1", id); err != nil {
			t.Fatalf("mark %s: %v", id, err)
		}
	}
	if err := l.UnmarkRoundBet(ctx, "acme", "s1", "r1", "bet_b"); err != nil {
		t.Fatalf("unmark: %v", err)
	}
	if ok, _ := l.RoundHasBet(ctx, "acme", "s1", "r1"); !ok {
		t.Fatal("bet_a must keep the round open")
	}
	raw, _ := store.Get(ctx, roundKey("acme", "s1", "r1"))
	if string(raw) != `["bet_a"]` {
		t.Fatalf("round set: %s", raw)
	}

	_ = l.UnmarkRoundBet(ctx, "acme", "s1", "r1", "bet_a")
	if _, err := store.Get(ctx, roundKey("acme", "s1", "r1")); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("empty round must drop the key: %v", err)
	}
}

func TestConcurrentRoundMarks(t *testing.T) {
	l := New(kv.NewMemory(nil), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("bet_%d", i)
			for {
				err := l.MarkRoundBet(ctx, "acme", "s1", "r1", id)
				if !errors.Is(err, ErrContention) {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		_ = l.UnmarkRoundBet(ctx, "acme", "s1", "r1", fmt.Sprintf("bet_%d", i))
		ok, _ := l.RoundHasBet(ctx, "acme", "s1", "r1")
		if want := i < 3; ok != want {
			t.Fatalf("after removing %d bets: has=%v", i+1, ok)
		}
	}
}

func TestFailsClosed(t *testing.T) {
	l := New(downStore{kv.NewMemory(nil)}, nil)
	ctx := context.Background()

	if _, _, err := l.RecordIfAbsent(ctx, newRecord("txn_001")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("record: %v", err)
	}
	if _, err := l.Lookup(ctx, "acme", "txn_001"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := l.RoundHasBet(ctx, "acme", "s1", "r1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("round: %v", err)
	}
}

func TestAbandonFreesTheKey(t *testing.T) {
	l := New(kv.NewMemory(nil), nil)
	ctx := context.Background()

	rec := newRecord("txn_001")
	_, _, _ = l.RecordIfAbsent(ctx, rec)

	other := *rec
	other.Owner = NewOwner()
	if err := l.Abandon(ctx, &other); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := l.Abandon(ctx, rec); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if _, ok, _ := l.RecordIfAbsent(ctx, newRecord("txn_001")); !ok {
		t.Fatal("key must be reusable after abandon")
	}
}
