// Package ledger implements the credit ledger. Every balance movement is a
// read-check-write-append performed under the account row lock, so the
// cached balance always equals the sum of the account's entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"veostudio/internal/logger"
	"veostudio/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the persistence the ledger needs.
type Store interface {
	store.Transactor
	store.AccountStore
	store.LedgerStore
}

// Ledger performs balance operations.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// New creates a ledger backed by s.
func New(s Store, l *slog.Logger) *Ledger {
	if l == nil {
		l = slog.Default()
	}
	return &Ledger{store: s, logger: l}
}

// Posting describes one balance movement. Amount is always positive; the
// operation decides the sign.
type Posting struct {
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	Kind           store.EntryKind
	Description    string
	ReferenceID    string
	IdempotencyKey string
}

// Result is the outcome of a posting.
type Result struct {
	Entry        store.LedgerEntry
	BalanceAfter decimal.Decimal
}

func validAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(2))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (l *Ledger) lock(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Account, error) {
	acct, err := l.store.LockAccount(ctx, tx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return acct, nil
}

// DebitTx subtracts p.Amount inside tx. The caller owns tx; on a
// CorruptionError it must roll back and then call HaltIfCorrupted.
func (l *Ledger) DebitTx(ctx context.Context, tx store.DBTransaction, p Posting) (*Result, error) {
	if !validAmount(p.Amount) {
		return nil, ErrInvalidAmount
	}
	acct, err := l.lock(ctx, tx, p.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.LedgerHalted {
		return nil, ErrLedgerHalted
	}

	derived, err := l.store.SumLedgerEntries(ctx, tx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("sum ledger: %w", err)
	}
	if !derived.Equal(acct.Balance) {
		return nil, &CorruptionError{AccountID: acct.ID, Balance: acct.Balance, Derived: derived}
	}

	if acct.Balance.LessThan(p.Amount) {
		return nil, &InsufficientFundsError{Required: p.Amount, Available: acct.Balance}
	}
	return l.post(ctx, tx, acct, p.Amount.Neg(), p)
}

// CreditTx adds p.Amount inside tx. Credits are accepted on halted
// accounts so refunds are never lost.
func (l *Ledger) CreditTx(ctx context.Context, tx store.DBTransaction, p Posting) (*Result, error) {
	if !validAmount(p.Amount) {
		return nil, ErrInvalidAmount
	}
	acct, err := l.lock(ctx, tx, p.AccountID)
	if err != nil {
		return nil, err
	}
	return l.post(ctx, tx, acct, p.Amount, p)
}

func (l *Ledger) post(ctx context.Context, tx store.DBTransaction, acct *store.Account, signed decimal.Decimal, p Posting) (*Result, error) {
	balance := acct.Balance.Add(signed)
	entry := store.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      acct.ID,
		Amount:         signed,
		BalanceAfter:   balance,
		Kind:           p.Kind,
		Description:    optional(p.Description),
		ReferenceID:    optional(p.ReferenceID),
		IdempotencyKey: optional(p.IdempotencyKey),
	}
	if err := l.store.InsertLedgerEntry(ctx, tx, &entry); err != nil {
		if errors.Is(err, store.ErrDuplicateEntry) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := l.store.UpdateAccountBalance(ctx, tx, acct.ID, balance); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	return &Result{Entry: entry, BalanceAfter: balance}, nil
}

// Debit runs DebitTx in its own transaction.
func (l *Ledger) Debit(ctx context.Context, p Posting) (*Result, error) {
	return l.inTx(ctx, func(tx store.Tx) (*Result, error) {
		return l.DebitTx(ctx, tx, p)
	})
}

// Credit runs CreditTx in its own transaction.
func (l *Ledger) Credit(ctx context.Context, p Posting) (*Result, error) {
	return l.inTx(ctx, func(tx store.Tx) (*Result, error) {
		return l.CreditTx(ctx, tx, p)
	})
}

func (l *Ledger) inTx(ctx context.Context, fn func(tx store.Tx) (*Result, error)) (*Result, error) {
	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	res, err := fn(tx)
	if err != nil {
		tx.Rollback()
		l.HaltIfCorrupted(ctx, err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// HaltIfCorrupted halts the account named by a CorruptionError. It must be
// called after the transaction that detected the mismatch has ended.
func (l *Ledger) HaltIfCorrupted(ctx context.Context, err error) {
	var ce *CorruptionError
	if !errors.As(err, &ce) {
		return
	}
	log := logger.FromContext(ctx, l.logger)
	log.Error("ledger corrupted, halting debits",
		"account_id", ce.AccountID,
		"balance", ce.Balance.StringFixed(2),
		"derived", ce.Derived.StringFixed(2),
	)
	reason := ce.Error()
	if herr := l.store.SetLedgerHalted(ctx, nil, ce.AccountID, true, &reason); herr != nil {
		log.Error("failed to halt ledger", "account_id", ce.AccountID, "error", herr)
	}
}

// Charge debits p, runs fn and refunds the debit if fn fails.
func (l *Ledger) Charge(ctx context.Context, p Posting, fn func(ctx context.Context) error) (*Result, error) {
	res, err := l.Debit(ctx, p)
	if err != nil {
		return nil, err
	}
	if ferr := fn(ctx); ferr != nil {
		_, rerr := l.Credit(ctx, Posting{
			AccountID:      p.AccountID,
			Amount:         p.Amount,
			Kind:           store.EntryKindRefund,
			Description:    fmt.Sprintf("Refund: %s failed", p.Kind),
			ReferenceID:    p.ReferenceID,
			IdempotencyKey: "refund:" + res.Entry.ID.String(),
		})
		if rerr != nil {
			logger.FromContext(ctx, l.logger).Error("refund after failed charge",
				"account_id", p.AccountID, "kind", p.Kind, "error", rerr)
		}
		return nil, ferr
	}
	return res, nil
}

// OpenAccount creates an account with a zero balance and, if bonus is
// positive, credits it as a signup bonus. It reports whether the account
// was created by this call.
func (l *Ledger) OpenAccount(ctx context.Context, id uuid.UUID, email string, bonus decimal.Decimal) (bool, error) {
	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	created, err := l.store.CreateAccount(ctx, tx, &store.Account{ID: id, Email: email})
	if err != nil {
		return false, fmt.Errorf("create account: %w", err)
	}
	if created && bonus.IsPositive() {
		_, err := l.CreditTx(ctx, tx, Posting{
			AccountID:      id,
			Amount:         bonus,
			Kind:           store.EntryKindBonus,
			Description:    "Signup bonus",
			IdempotencyKey: "signup-bonus:" + id.String(),
		})
		if err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// PurchaseEvent is a confirmed payment.
type PurchaseEvent struct {
	AccountID         uuid.UUID
	Amount            decimal.Decimal
	Bonus             decimal.Decimal
	ExternalPaymentID string
	PackageID         string
}

// ErrMissingPaymentID is returned for purchase events without a payment id.
var ErrMissingPaymentID = errors.New("external payment id is required")

// ApplyPurchase credits a purchase and its bonus in one transaction.
// Redelivered events are detected by payment id and report duplicate=true
// with the current balance.
func (l *Ledger) ApplyPurchase(ctx context.Context, ev PurchaseEvent) (res *Result, duplicate bool, err error) {
	if ev.ExternalPaymentID == "" {
		return nil, false, ErrMissingPaymentID
	}
	if pkg, ok := LookupPackage(ev.PackageID); ok {
		if ev.Amount.IsZero() {
			ev.Amount = pkg.Credits
		}
		if ev.Bonus.IsZero() {
			ev.Bonus = pkg.Bonus
		}
	}

	desc := fmt.Sprintf("Purchased %s credits", ev.Amount.Add(ev.Bonus).StringFixed(2))
	if ev.PackageID != "" {
		desc = fmt.Sprintf("Purchased %s package - %s credits", ev.PackageID, ev.Amount.Add(ev.Bonus).StringFixed(2))
	}

	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err = l.CreditTx(ctx, tx, Posting{
		AccountID:      ev.AccountID,
		Amount:         ev.Amount,
		Kind:           store.EntryKindPurchase,
		Description:    desc,
		ReferenceID:    ev.ExternalPaymentID,
		IdempotencyKey: "purchase:" + ev.ExternalPaymentID,
	})
	if errors.Is(err, ErrDuplicate) {
		tx.Rollback()
		acct, gerr := l.store.GetAccount(ctx, nil, ev.AccountID)
		if gerr != nil {
			return nil, true, fmt.Errorf("get account: %w", gerr)
		}
		logger.FromContext(ctx, l.logger).Warn("duplicate purchase event ignored",
			"account_id", ev.AccountID, "payment_id", ev.ExternalPaymentID)
		return &Result{BalanceAfter: acct.Balance}, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if ev.Bonus.IsPositive() {
		res, err = l.CreditTx(ctx, tx, Posting{
			AccountID:      ev.AccountID,
			Amount:         ev.Bonus,
			Kind:           store.EntryKindBonus,
			Description:    "Bonus credits for " + desc,
			ReferenceID:    ev.ExternalPaymentID,
			IdempotencyKey: "purchase-bonus:" + ev.ExternalPaymentID,
		})
		if err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	logger.FromContext(ctx, l.logger).Info("purchase applied",
		"account_id", ev.AccountID,
		"payment_id", ev.ExternalPaymentID,
		"amount", ev.Amount.StringFixed(2),
		"bonus", ev.Bonus.StringFixed(2),
		"balance", res.BalanceAfter.StringFixed(2),
	)
	return res, false, nil
}

// replay checks the chain of entries against the cached balance.
func replay(acct *store.Account, chain []store.LedgerEntry) error {
	running := decimal.Zero
	for _, e := range chain {
		running = running.Add(e.Amount)
		if !running.Equal(e.BalanceAfter) {
			return &CorruptionError{AccountID: acct.ID, Seq: e.Seq, Balance: e.BalanceAfter, Derived: running}
		}
	}
	if !running.Equal(acct.Balance) {
		return &CorruptionError{AccountID: acct.ID, Balance: acct.Balance, Derived: running}
	}
	return nil
}

// Verify replays the account's ledger. On a mismatch the account is halted
// and the CorruptionError is returned.
func (l *Ledger) Verify(ctx context.Context, accountID uuid.UUID) error {
	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	acct, err := l.lock(ctx, tx, accountID)
	if err != nil {
		return err
	}
	chain, err := l.store.LedgerChain(ctx, tx, accountID)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	verr := replay(acct, chain)
	if verr == nil {
		return nil
	}

	reason := verr.Error()
	if err := l.store.SetLedgerHalted(ctx, tx, accountID, true, &reason); err != nil {
		return fmt.Errorf("halt ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logger.FromContext(ctx, l.logger).Error("ledger verification failed", "account_id", accountID, "error", verr)
	return verr
}

// ClearHalt lifts the debit halt once the ledger replays cleanly.
func (l *Ledger) ClearHalt(ctx context.Context, accountID uuid.UUID) error {
	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	acct, err := l.lock(ctx, tx, accountID)
	if err != nil {
		return err
	}
	chain, err := l.store.LedgerChain(ctx, tx, accountID)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if err := replay(acct, chain); err != nil {
		return err
	}
	if err := l.store.SetLedgerHalted(ctx, tx, accountID, false, nil); err != nil {
		return fmt.Errorf("clear halt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logger.FromContext(ctx, l.logger).Info("ledger halt cleared", "account_id", accountID)
	return nil
}

// Account returns the account with its cached balance.
func (l *Ledger) Account(ctx context.Context, id uuid.UUID) (*store.Account, error) {
	acct, err := l.store.GetAccount(ctx, nil, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return acct, err
}

// Entries lists the account's entries newest first.
func (l *Ledger) Entries(ctx context.Context, id uuid.UUID, limit, offset int) ([]store.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.ListLedgerEntries(ctx, id, limit, offset)
}
