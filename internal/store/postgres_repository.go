/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed to operate on the three wallet collections:
 * balances (keyed by user), transactions (keyed by id, uniquely indexed by
 * reference) and recipients (keyed by user + account number + bank code).
 *
 * Correctness notes:
 * - Debits lock the balance row with FOR UPDATE so concurrent debits and refunds
 *   for one user serialize; an overdraft is rejected inside the same transaction.
 * - Status transitions carry `status NOT IN ('success','failed')` guards so a
 *   replayed webhook cannot move a settled transaction. RowsAffected distinguishes
 *   "applied" from "already terminal"; neither is an error.
 * - RecordDeposit and FailTransferAndRefund run ledger write and balance write in
 *   one database transaction, keyed by the reference, so re-delivery is a no-op.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/google/uuid: For id generation and scanning.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/wallet-service/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrRecipientNotFound   = errors.New("recipient not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserByID retrieves a user from the database by their ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	err := r.db.QueryRow(ctx, `SELECT id, email FROM users WHERE id = $1`, userID).Scan(&user.ID, &user.Email)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByEmail resolves a user from the payer email Paystack reports on a charge.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, email FROM users WHERE lower(btrim(email)) = lower(btrim($1))`
	err := r.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.Email)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetBalance returns the user's current balance, or zero when no balance row
// exists yet (balances are created lazily on first credit).
func (r *PostgresRepository) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var amount int64
	err := r.db.QueryRow(ctx, `SELECT amount FROM balances WHERE user_id = $1`, userID).Scan(&amount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return amount, nil
}

// DebitBalance performs an atomic debit on a user's balance. The balance row is
// locked with FOR UPDATE so concurrent debits for the same user serialize; the
// debit is rejected with ErrInsufficientFunds when the balance is short.
func (r *PostgresRepository) DebitBalance(ctx context.Context, userID uuid.UUID, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `SELECT amount FROM balances WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrInsufficientFunds
		}
		return err
	}

	if balance < amount {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `UPDATE balances SET amount = amount - $1, updated_at = NOW() WHERE user_id = $2`, amount, userID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreditBalance performs an atomic credit on a user's balance, creating the
// balance row on first credit.
func (r *PostgresRepository) CreditBalance(ctx context.Context, userID uuid.UUID, amount int64) error {
	query := `
		INSERT INTO balances (user_id, amount, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, userID, amount)
	return err
}

// CreateTransaction inserts a new ledger record.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, txRecord *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, kind, status, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		txRecord.ID,
		txRecord.UserID,
		txRecord.Kind,
		txRecord.Status,
		txRecord.Amount,
		txRecord.Reference,
	).Scan(&txRecord.CreatedAt)
}

// FindTransactionByID retrieves a single ledger record by its ID.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, txID uuid.UUID) (*domain.Transaction, error) {
	query := `
		SELECT id, user_id, kind, status, amount, reference, created_at, completed_at
		FROM transactions
		WHERE id = $1
	`
	var txRecord domain.Transaction
	err := r.db.QueryRow(ctx, query, txID).Scan(
		&txRecord.ID,
		&txRecord.UserID,
		&txRecord.Kind,
		&txRecord.Status,
		&txRecord.Amount,
		&txRecord.Reference,
		&txRecord.CreatedAt,
		&txRecord.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txRecord, nil
}

// FindTransactionByReference retrieves the ledger record owning a processor reference.
func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `
		SELECT id, user_id, kind, status, amount, reference, created_at, completed_at
		FROM transactions
		WHERE reference = $1
	`
	var txRecord domain.Transaction
	err := r.db.QueryRow(ctx, query, reference).Scan(
		&txRecord.ID,
		&txRecord.UserID,
		&txRecord.Kind,
		&txRecord.Status,
		&txRecord.Amount,
		&txRecord.Reference,
		&txRecord.CreatedAt,
		&txRecord.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txRecord, nil
}

// FindTransactionsByUserID retrieves a user's ledger history, newest first.
func (r *PostgresRepository) FindTransactionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT id, user_id, kind, status, amount, reference, created_at, completed_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var txRecord domain.Transaction
		err := rows.Scan(
			&txRecord.ID,
			&txRecord.UserID,
			&txRecord.Kind,
			&txRecord.Status,
			&txRecord.Amount,
			&txRecord.Reference,
			&txRecord.CreatedAt,
			&txRecord.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txRecord)
	}

	return transactions, rows.Err()
}

// AttachTransferReference stores the processor reference on a pending withdrawal
// and moves it to initiated. Final settlement arrives later via webhook.
func (r *PostgresRepository) AttachTransferReference(ctx context.Context, txID uuid.UUID, reference string) error {
	query := `
		UPDATE transactions
		SET reference = $2, status = 'initiated'
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, txID, reference)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// MarkTransactionSucceeded settles a transaction as success. The guard makes a
// transition out of a terminal status a no-op; it returns whether the update applied.
func (r *PostgresRepository) MarkTransactionSucceeded(ctx context.Context, txID uuid.UUID) (bool, error) {
	query := `
		UPDATE transactions
		SET status = 'success', completed_at = NOW()
		WHERE id = $1 AND status NOT IN ('success', 'failed')
	`
	result, err := r.db.Exec(ctx, query, txID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// MarkTransactionFailed settles a transaction as failed under the same terminal guard.
func (r *PostgresRepository) MarkTransactionFailed(ctx context.Context, txID uuid.UUID) (bool, error) {
	query := `
		UPDATE transactions
		SET status = 'failed', completed_at = NOW()
		WHERE id = $1 AND status NOT IN ('success', 'failed')
	`
	result, err := r.db.Exec(ctx, query, txID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// RecordDeposit applies a confirmed deposit exactly once per charge reference.
// The unique index on transactions.reference is the idempotency boundary: the
// credit is only applied when the insert actually lands.
func (r *PostgresRepository) RecordDeposit(ctx context.Context, userID uuid.UUID, amount int64, reference string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO transactions (id, user_id, kind, status, amount, reference, created_at, completed_at)
		VALUES ($1, $2, 'credit', 'success', $3, $4, NOW(), NOW())
		ON CONFLICT (reference) DO NOTHING
	`
	result, err := tx.Exec(ctx, insert, uuid.New(), userID, amount, reference)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		// Reference already reconciled; nothing to re-apply.
		return false, tx.Commit(ctx)
	}

	credit := `
		INSERT INTO balances (user_id, amount, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, credit, userID, amount); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// FailTransferAndRefund settles a failed or reversed transfer exactly once. The
// conditional update on the non-terminal row and the balance refund commit
// together, so a re-delivered event finds a terminal row and changes nothing.
func (r *PostgresRepository) FailTransferAndRefund(ctx context.Context, reference string) (*domain.Transaction, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	settle := `
		UPDATE transactions
		SET status = 'failed', completed_at = NOW()
		WHERE reference = $1 AND status NOT IN ('success', 'failed')
		RETURNING id, user_id, kind, status, amount, reference, created_at, completed_at
	`
	var txRecord domain.Transaction
	err = tx.QueryRow(ctx, settle, reference).Scan(
		&txRecord.ID,
		&txRecord.UserID,
		&txRecord.Kind,
		&txRecord.Status,
		&txRecord.Amount,
		&txRecord.Reference,
		&txRecord.CreatedAt,
		&txRecord.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Unknown reference or already terminal; either way a no-op.
			return nil, false, tx.Commit(ctx)
		}
		return nil, false, err
	}

	refund := `
		INSERT INTO balances (user_id, amount, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, refund, txRecord.UserID, txRecord.Amount); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return &txRecord, true, nil
}

// FindRecipient looks up a cached processor recipient handle.
func (r *PostgresRepository) FindRecipient(ctx context.Context, userID uuid.UUID, accountNumber, bankCode string) (*domain.Recipient, error) {
	query := `
		SELECT user_id, account_number, bank_code, recipient_code, created_at
		FROM recipients
		WHERE user_id = $1 AND account_number = $2 AND bank_code = $3
	`
	var recipient domain.Recipient
	err := r.db.QueryRow(ctx, query, userID, accountNumber, bankCode).Scan(
		&recipient.UserID,
		&recipient.AccountNumber,
		&recipient.BankCode,
		&recipient.RecipientCode,
		&recipient.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	return &recipient, nil
}

// SaveRecipient caches a processor recipient handle. Concurrent creators for the
// same destination converge on the first row; the losing registration is a
// recoverable inefficiency, not a correctness problem.
func (r *PostgresRepository) SaveRecipient(ctx context.Context, recipient *domain.Recipient) error {
	query := `
		INSERT INTO recipients (user_id, account_number, bank_code, recipient_code, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, account_number, bank_code) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		recipient.UserID,
		recipient.AccountNumber,
		recipient.BankCode,
		recipient.RecipientCode,
	)
	return err
}
