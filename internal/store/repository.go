/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the wallet-service. Defining an interface
 * decouples the business logic from the PostgreSQL implementation and lets tests
 * substitute in-memory stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User lookup
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// Balance store. Same-user mutations serialize via row locking; different
	// users never contend.
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	DebitBalance(ctx context.Context, userID uuid.UUID, amount int64) error
	CreditBalance(ctx context.Context, userID uuid.UUID, amount int64) error

	// Transaction ledger. Transitions out of a terminal status are no-ops,
	// enforced by the store itself, not by callers.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, txID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	FindTransactionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error)
	AttachTransferReference(ctx context.Context, txID uuid.UUID, reference string) error
	MarkTransactionSucceeded(ctx context.Context, txID uuid.UUID) (bool, error)
	MarkTransactionFailed(ctx context.Context, txID uuid.UUID) (bool, error)

	// RecordDeposit applies a confirmed deposit exactly once per reference:
	// inserts a success credit transaction keyed by the charge reference and
	// credits the balance in the same database transaction. Returns false when
	// the reference was already recorded.
	RecordDeposit(ctx context.Context, userID uuid.UUID, amount int64, reference string) (bool, error)

	// FailTransferAndRefund settles a failed or reversed transfer exactly once:
	// flips the non-terminal transaction owning the reference to failed and
	// restores the reserved amount to the owner's balance atomically. Returns
	// the settled transaction and false when the reference is unknown or the
	// transaction was already terminal.
	FailTransferAndRefund(ctx context.Context, reference string) (*domain.Transaction, bool, error)

	// Recipient cache
	FindRecipient(ctx context.Context, userID uuid.UUID, accountNumber, bankCode string) (*domain.Recipient, error)
	SaveRecipient(ctx context.Context, recipient *domain.Recipient) error
}
