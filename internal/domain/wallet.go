/**
 * @description
 * This file defines the core domain models for the wallet-service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout the
 * service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (kobo), which
 *   avoids floating-point inaccuracies with financial data.
 * - A transaction's status is immutable once terminal; the store enforces this
 *   with conditional updates so webhook replays cannot resurrect settled records.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction statuses. Withdrawals move pending -> initiated -> success|failed.
// Confirmed deposits are recorded as success directly.
const (
	StatusPending   = "pending"
	StatusInitiated = "initiated"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
)

// Transaction kinds.
const (
	KindCredit = "credit"
	KindDebit  = "debit"
	KindFee    = "fee"
)

// IsTerminalStatus reports whether a status admits no further transitions.
func IsTerminalStatus(status string) bool {
	return status == StatusSuccess || status == StatusFailed
}

// Transaction is the ledger record for a single money movement. It maps directly
// to the `transactions` table.
type Transaction struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Kind        string     `json:"kind"`   // 'credit', 'debit' or 'fee'
	Status      string     `json:"status"` // 'pending', 'initiated', 'success', 'failed'
	Amount      int64      `json:"amount"` // in kobo, always > 0
	Reference   *string    `json:"reference,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Balance is a user's custodial wallet balance. Created lazily on first credit,
// never deleted, never negative.
type Balance struct {
	UserID    uuid.UUID `json:"user_id"`
	Amount    int64     `json:"amount"` // in kobo
	UpdatedAt time.Time `json:"updated_at"`
}

// User is the slice of the users table the wallet-service needs: identity plus
// the payer email Paystack reports on inbound charges.
type User struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// Recipient caches a processor-registered transfer destination. One row per
// (user, account number, bank code); immutable after creation.
type Recipient struct {
	UserID        uuid.UUID `json:"user_id"`
	AccountNumber string    `json:"account_number"`
	BankCode      string    `json:"bank_code"`
	RecipientCode string    `json:"recipient_code"`
	CreatedAt     time.Time `json:"created_at"`
}

// WithdrawalRequest is the DTO for incoming withdrawal API requests.
type WithdrawalRequest struct {
	UserID        uuid.UUID `json:"user_id"`
	Amount        int64     `json:"amount"` // in kobo
	AccountNumber string    `json:"account_number"`
	BankCode      string    `json:"bank_code"`
	Name          string    `json:"name"`
}
