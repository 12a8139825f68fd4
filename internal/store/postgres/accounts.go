package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"veostudio/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, email, balance, total_videos_created, ledger_halted, halt_reason, created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*store.Account, error) {
	var a store.Account
	if err := row.Scan(
		&a.ID, &a.Email, &a.Balance, &a.TotalVideosCreated,
		&a.LedgerHalted, &a.HaltReason, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// CreateAccount inserts an account; an existing id is left untouched.
func (s *Store) CreateAccount(ctx context.Context, tx store.DBTransaction, account *store.Account) (bool, error) {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO accounts (id, email, balance)
		VALUES ($1, $2, 0)
		ON CONFLICT (id) DO NOTHING
	`, account.ID, account.Email)
	if err != nil {
		return false, fmt.Errorf("failed to create account %s: %w", account.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) GetAccount(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Account, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// LockAccount takes the per-account writer lock for the rest of tx.
func (s *Store) LockAccount(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Account, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

func (s *Store) UpdateAccountBalance(ctx context.Context, tx store.DBTransaction, id uuid.UUID, balance decimal.Decimal) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2
	`, balance, id)
	if err != nil {
		return fmt.Errorf("failed to update balance for %s: %w", id, err)
	}
	return expectOne(res)
}

func (s *Store) SetLedgerHalted(ctx context.Context, tx store.DBTransaction, id uuid.UUID, halted bool, reason *string) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE accounts SET ledger_halted = $1, halt_reason = $2, updated_at = NOW() WHERE id = $3
	`, halted, reason, id)
	return err
}

func (s *Store) IncrementVideosCreated(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE accounts SET total_videos_created = total_videos_created + 1, updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

// InsertLedgerEntry appends an entry. A reused idempotency key inserts
// nothing and returns store.ErrDuplicateEntry.
func (s *Store) InsertLedgerEntry(ctx context.Context, tx store.DBTransaction, entry *store.LedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	err := s.getExecutor(tx).QueryRowContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount, balance_after, kind, description, reference_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING seq, created_at
	`, entry.ID, entry.AccountID, entry.Amount, entry.BalanceAfter, entry.Kind,
		entry.Description, entry.ReferenceID, entry.IdempotencyKey,
	).Scan(&entry.Seq, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (s *Store) LedgerEntryExists(ctx context.Context, tx store.DBTransaction, idempotencyKey string) (bool, error) {
	var exists bool
	err := s.getExecutor(tx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE idempotency_key = $1)`, idempotencyKey,
	).Scan(&exists)
	return exists, err
}

func (s *Store) SumLedgerEntries(ctx context.Context, tx store.DBTransaction, accountID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.getExecutor(tx).QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`, accountID,
	).Scan(&sum)
	return sum, err
}

const ledgerColumns = `id, seq, account_id, amount, balance_after, kind, description, reference_id, idempotency_key, created_at`

func (s *Store) LedgerChain(ctx context.Context, tx store.DBTransaction, accountID uuid.UUID) ([]store.LedgerEntry, error) {
	return s.queryLedger(ctx, s.getExecutor(tx),
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY seq ASC`, accountID)
}

func (s *Store) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]store.LedgerEntry, error) {
	return s.queryLedger(ctx, s.db,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
}

func (s *Store) queryLedger(ctx context.Context, executor store.DBTransaction, query string, args ...interface{}) ([]store.LedgerEntry, error) {
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger query failed: %w", err)
	}
	defer rows.Close()

	var entries []store.LedgerEntry
	for rows.Next() {
		var e store.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.Seq, &e.AccountID, &e.Amount, &e.BalanceAfter, &e.Kind,
			&e.Description, &e.ReferenceID, &e.IdempotencyKey, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger scan failed: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
