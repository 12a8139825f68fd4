package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"veostudio/internal/store"
	"veostudio/internal/store/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestLedger returns a ledger with one account funded with balance.
func newTestLedger(t *testing.T, balance string) (*Ledger, *memory.Store, uuid.UUID) {
	t.Helper()
	ms := memory.New()
	l := New(ms, slog.New(slog.NewTextHandler(io.Discard, nil)))
	id := uuid.New()

	ctx := context.Background()
	if _, err := l.OpenAccount(ctx, id, "user@example.com", decimal.Zero); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if b := d(balance); b.IsPositive() {
		if _, _, err := l.ApplyPurchase(ctx, PurchaseEvent{AccountID: id, Amount: b, ExternalPaymentID: "seed-" + id.String()}); err != nil {
			t.Fatalf("seed purchase: %v", err)
		}
	}
	return l, ms, id
}

func assertBalance(t *testing.T, l *Ledger, id uuid.UUID, want string) {
	t.Helper()
	acct, err := l.Account(context.Background(), id)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if !acct.Balance.Equal(d(want)) {
		t.Errorf("balance = %s, want %s", acct.Balance.StringFixed(2), want)
	}
}

func assertDerived(t *testing.T, ms *memory.Store, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	acct, err := ms.GetAccount(ctx, nil, id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	chain, err := ms.LedgerChain(ctx, nil, id)
	if err != nil {
		t.Fatalf("LedgerChain: %v", err)
	}
	if err := replay(acct, chain); err != nil {
		t.Errorf("ledger does not replay: %v", err)
	}
}

func TestDebit_Scenario(t *testing.T) {
	l, ms, id := newTestLedger(t, "1.00")
	ctx := context.Background()

	res, err := l.Debit(ctx, Posting{AccountID: id, Amount: d("0.98"), Kind: store.EntryKindGeneration, ReferenceID: "scene-1"})
	if err != nil {
		t.Fatalf("first debit: %v", err)
	}
	if !res.BalanceAfter.Equal(d("0.02")) {
		t.Errorf("balance after = %s, want 0.02", res.BalanceAfter)
	}
	if !res.Entry.Amount.Equal(d("-0.98")) || res.Entry.Kind != store.EntryKindGeneration {
		t.Errorf("unexpected entry %+v", res.Entry)
	}

	_, err = l.Debit(ctx, Posting{AccountID: id, Amount: d("0.98"), Kind: store.EntryKindGeneration, ReferenceID: "scene-2"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("second debit: expected ErrInsufficientFunds, got %v", err)
	}
	var ife *InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatalf("expected *InsufficientFundsError, got %T", err)
	}
	if !ife.Required.Equal(d("0.98")) || !ife.Available.Equal(d("0.02")) {
		t.Errorf("required/available = %s/%s", ife.Required, ife.Available)
	}

	assertBalance(t, l, id, "0.02")
	assertDerived(t, ms, id)

	chain, _ := ms.LedgerChain(ctx, nil, id)
	if len(chain) != 2 {
		t.Errorf("expected 2 entries (purchase, generation), got %d", len(chain))
	}
}

func TestDebit_ConcurrentExactlyOnce(t *testing.T) {
	l, ms, id := newTestLedger(t, "0.98")
	ctx := context.Background()

	const n = 16
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Debit(ctx, Posting{AccountID: id, Amount: d("0.98"), Kind: store.EntryKindGeneration})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || insufficient != n-1 {
		t.Errorf("successes=%d insufficient=%d, want 1 and %d", successes, insufficient, n-1)
	}
	assertBalance(t, l, id, "0")
	assertDerived(t, ms, id)
}

func TestDebit_InvalidAmount(t *testing.T) {
	l, _, id := newTestLedger(t, "5")

	tests := []struct {
		name   string
		amount string
	}{
		{"zero", "0"},
		{"negative", "-1"},
		{"three decimals", "0.001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Debit(context.Background(), Posting{AccountID: id, Amount: d(tt.amount), Kind: store.EntryKindGeneration})
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("expected ErrInvalidAmount, got %v", err)
			}
		})
	}
	assertBalance(t, l, id, "5")
}

func TestDebit_UnknownAccount(t *testing.T) {
	l, _, _ := newTestLedger(t, "0")
	_, err := l.Debit(context.Background(), Posting{AccountID: uuid.New(), Amount: d("1"), Kind: store.EntryKindGeneration})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestDebit_FailedInsertLeavesBalance(t *testing.T) {
	l, ms, id := newTestLedger(t, "2")
	ms.FailNext("InsertLedgerEntry", errors.New("disk full"))

	if _, err := l.Debit(context.Background(), Posting{AccountID: id, Amount: d("1"), Kind: store.EntryKindGeneration}); err == nil {
		t.Fatal("expected error")
	}
	assertBalance(t, l, id, "2")
	assertDerived(t, ms, id)
}

func TestCredit_Refund(t *testing.T) {
	l, ms, id := newTestLedger(t, "1")
	ctx := context.Background()

	if _, err := l.Debit(ctx, Posting{AccountID: id, Amount: d("0.98"), Kind: store.EntryKindGeneration}); err != nil {
		t.Fatal(err)
	}
	res, err := l.Credit(ctx, Posting{AccountID: id, Amount: d("0.98"), Kind: store.EntryKindRefund, IdempotencyKey: "refund-1"})
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if !res.BalanceAfter.Equal(d("1")) {
		t.Errorf("balance after refund = %s", res.BalanceAfter)
	}

	_, err = l.Credit(ctx, Posting{AccountID: id, Amount: d("0.98"), Kind: store.EntryKindRefund, IdempotencyKey: "refund-1"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate on second refund, got %v", err)
	}
	assertBalance(t, l, id, "1")
	assertDerived(t, ms, id)
}

func TestApplyPurchase_Deduplicates(t *testing.T) {
	l, ms, id := newTestLedger(t, "0")
	ctx := context.Background()
	ev := PurchaseEvent{AccountID: id, ExternalPaymentID: "pi_123", PackageID: "medium"}

	res, dup, err := l.ApplyPurchase(ctx, ev)
	if err != nil || dup {
		t.Fatalf("first delivery: dup=%v err=%v", dup, err)
	}
	if !res.BalanceAfter.Equal(d("28")) {
		t.Errorf("balance after = %s, want 28", res.BalanceAfter)
	}

	res, dup, err = l.ApplyPurchase(ctx, ev)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !dup {
		t.Error("expected duplicate=true on redelivery")
	}
	if !res.BalanceAfter.Equal(d("28")) {
		t.Errorf("balance after redelivery = %s, want 28", res.BalanceAfter)
	}

	chain, _ := ms.LedgerChain(ctx, nil, id)
	if len(chain) != 2 {
		t.Fatalf("expected purchase and bonus entries, got %d", len(chain))
	}
	if chain[0].Kind != store.EntryKindPurchase || chain[1].Kind != store.EntryKindBonus {
		t.Errorf("kinds = %s, %s", chain[0].Kind, chain[1].Kind)
	}
	assertDerived(t, ms, id)
}

func TestApplyPurchase_MissingPaymentID(t *testing.T) {
	l, _, id := newTestLedger(t, "0")
	_, _, err := l.ApplyPurchase(context.Background(), PurchaseEvent{AccountID: id, Amount: d("10")})
	if !errors.Is(err, ErrMissingPaymentID) {
		t.Errorf("expected ErrMissingPaymentID, got %v", err)
	}
}

func TestDebit_CorruptedLedgerHalts(t *testing.T) {
	l, ms, id := newTestLedger(t, "5")
	ctx := context.Background()

	ms.AppendRawLedgerEntry(store.LedgerEntry{AccountID: id, Amount: d("3"), BalanceAfter: d("8"), Kind: store.EntryKindBonus})

	_, err := l.Debit(ctx, Posting{AccountID: id, Amount: d("1"), Kind: store.EntryKindGeneration})
	if !errors.Is(err, ErrLedgerCorrupted) {
		t.Fatalf("expected ErrLedgerCorrupted, got %v", err)
	}

	acct, _ := ms.GetAccount(ctx, nil, id)
	if !acct.LedgerHalted {
		t.Fatal("expected account to be halted")
	}
	if !acct.Balance.Equal(d("5")) {
		t.Errorf("balance must not be fixed silently, got %s", acct.Balance)
	}

	_, err = l.Debit(ctx, Posting{AccountID: id, Amount: d("1"), Kind: store.EntryKindGeneration})
	if !errors.Is(err, ErrLedgerHalted) {
		t.Errorf("expected ErrLedgerHalted, got %v", err)
	}

	// Refunds still land on a halted account.
	if _, err := l.Credit(ctx, Posting{AccountID: id, Amount: d("1"), Kind: store.EntryKindRefund}); err != nil {
		t.Errorf("credit on halted account: %v", err)
	}
}

func TestVerify(t *testing.T) {
	l, ms, id := newTestLedger(t, "5")
	ctx := context.Background()

	if err := l.Verify(ctx, id); err != nil {
		t.Fatalf("clean ledger: %v", err)
	}

	ms.AppendRawLedgerEntry(store.LedgerEntry{AccountID: id, Amount: d("-1"), BalanceAfter: d("4"), Kind: store.EntryKindGeneration})

	err := l.Verify(ctx, id)
	var ce *CorruptionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CorruptionError, got %v", err)
	}
	if !ce.Derived.Equal(d("4")) || !ce.Balance.Equal(d("5")) {
		t.Errorf("derived/balance = %s/%s", ce.Derived, ce.Balance)
	}

	acct, _ := ms.GetAccount(ctx, nil, id)
	if !acct.LedgerHalted || acct.HaltReason == nil {
		t.Error("expected account halted with a reason")
	}

	if err := l.ClearHalt(ctx, id); !errors.Is(err, ErrLedgerCorrupted) {
		t.Errorf("ClearHalt on corrupted ledger: expected ErrLedgerCorrupted, got %v", err)
	}
}

func TestClearHalt(t *testing.T) {
	l, ms, id := newTestLedger(t, "5")
	ctx := context.Background()
	reason := "manual"
	if err := ms.SetLedgerHalted(ctx, nil, id, true, &reason); err != nil {
		t.Fatal(err)
	}

	if err := l.ClearHalt(ctx, id); err != nil {
		t.Fatalf("ClearHalt: %v", err)
	}
	if _, err := l.Debit(ctx, Posting{AccountID: id, Amount: d("1"), Kind: store.EntryKindGeneration}); err != nil {
		t.Errorf("debit after clear: %v", err)
	}
}

func TestCharge(t *testing.T) {
	tests := []struct {
		name        string
		fnErr       error
		wantBalance string
		wantEntries int
	}{
		{"success keeps debit", nil, "0.99", 2},
		{"failure refunds", errors.New("llm unavailable"), "1", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, ms, id := newTestLedger(t, "1")
			ctx := context.Background()

			called := false
			_, err := l.Charge(ctx, Posting{AccountID: id, Amount: d("0.01"), Kind: store.EntryKindAIScript}, func(ctx context.Context) error {
				called = true
				return tt.fnErr
			})
			if !errors.Is(err, tt.fnErr) {
				t.Errorf("err = %v, want %v", err, tt.fnErr)
			}
			if !called {
				t.Error("fn was not called")
			}
			assertBalance(t, l, id, tt.wantBalance)
			chain, _ := ms.LedgerChain(ctx, nil, id)
			if len(chain) != tt.wantEntries {
				t.Errorf("entries = %d, want %d", len(chain), tt.wantEntries)
			}
			assertDerived(t, ms, id)
		})
	}
}

func TestCharge_InsufficientFundsSkipsFn(t *testing.T) {
	l, _, id := newTestLedger(t, "0")
	_, err := l.Charge(context.Background(), Posting{AccountID: id, Amount: d("0.01"), Kind: store.EntryKindThumbnail}, func(ctx context.Context) error {
		t.Error("fn must not run without funds")
		return nil
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestOpenAccount(t *testing.T) {
	ms := memory.New()
	l := New(ms, nil)
	ctx := context.Background()
	id := uuid.New()

	created, err := l.OpenAccount(ctx, id, "a@example.com", d("2"))
	if err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	created, err = l.OpenAccount(ctx, id, "a@example.com", d("2"))
	if err != nil || created {
		t.Fatalf("second open: created=%v err=%v", created, err)
	}
	assertBalance(t, l, id, "2")
}

func TestPackages(t *testing.T) {
	pkgs := Packages()
	if len(pkgs) != 4 {
		t.Fatalf("expected 4 packages, got %d", len(pkgs))
	}
	if pkgs[0].ID != "small" || pkgs[3].ID != "xl" {
		t.Errorf("unexpected order: %s..%s", pkgs[0].ID, pkgs[3].ID)
	}
	xl, ok := LookupPackage("xl")
	if !ok || !xl.Total().Equal(d("120")) {
		t.Errorf("xl total = %s", xl.Total())
	}
}
