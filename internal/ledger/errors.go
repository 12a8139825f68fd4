package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidAmount     = errors.New("amount must be positive with at most two decimals")
	ErrDuplicate         = errors.New("ledger entry already recorded")

	// ErrLedgerHalted is returned for debits against an account whose
	// ledger failed verification and awaits manual reconciliation.
	ErrLedgerHalted = errors.New("ledger halted for account")

	// ErrLedgerCorrupted is returned when the cached balance does not match
	// the sum of ledger entries.
	ErrLedgerCorrupted = errors.New("ledger does not match account balance")
)

// InsufficientFundsError reports how much a debit needed and how much
// the account had.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s", e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// CorruptionError identifies the account whose ledger failed the
// derivation check.
type CorruptionError struct {
	AccountID uuid.UUID
	Seq       int64 // entry whose balance_after broke the chain, 0 for the cached balance
	Balance   decimal.Decimal
	Derived   decimal.Decimal
}

func (e *CorruptionError) Error() string {
	if e.Seq > 0 {
		return fmt.Sprintf("ledger corrupted for account %s at entry %d: balance_after %s, running sum %s",
			e.AccountID, e.Seq, e.Balance.StringFixed(2), e.Derived.StringFixed(2))
	}
	return fmt.Sprintf("ledger corrupted for account %s: balance %s, entries sum %s",
		e.AccountID, e.Balance.StringFixed(2), e.Derived.StringFixed(2))
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrLedgerCorrupted
}
