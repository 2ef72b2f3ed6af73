/**
 * @description
 * This file contains the core business logic for the wallet-service. The `Service`
 * struct orchestrates outbound withdrawals, coordinating between the database
 * repository, the Paystack API client, and the message broker.
 *
 * Key features:
 * - Reserve-first withdrawals: funds are debited before any processor call is
 *   made, so a user can never withdraw past their balance even when the
 *   processor is slow or failing.
 * - Compensation: when recipient registration or transfer initiation fails after
 *   the debit, the reserved amount is credited back and the ledger record is
 *   marked failed.
 * - Recipient caching: one processor registration per unique destination.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: For transaction id generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/paystackclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/paystackclient"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

var (
	// ErrValidation marks a withdrawal request rejected before any mutation.
	ErrValidation = errors.New("invalid withdrawal request")
	// ErrProcessor marks a processor call that failed or timed out after funds
	// were reserved; the reservation has been compensated by the time it surfaces.
	ErrProcessor = errors.New("payment processor error")
	// ErrRateLimited marks a withdrawal rejected by the per-user rate limiter.
	ErrRateLimited = errors.New("withdrawal rate limit exceeded")
)

// ProcessorClient is the slice of the Paystack client the service depends on.
type ProcessorClient interface {
	CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error)
	InitiateTransfer(ctx context.Context, amount int64, recipientCode, reason, reference string) (*paystackclient.TransferResponse, error)
}

// Service provides the core business logic for wallet operations.
type Service struct {
	repo        store.Repository
	processor   ProcessorClient
	producer    rabbitmq.Publisher
	rateLimiter WithdrawalRateLimiter
}

// NewService creates a new wallet service instance. The producer may be nil when
// RabbitMQ is unavailable; event publishing degrades to a no-op.
func NewService(repo store.Repository, processor ProcessorClient, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:      repo,
		processor: processor,
		producer:  producer,
	}
}

// SetWithdrawalRateLimiter installs an optional per-user withdrawal rate limiter.
func (s *Service) SetWithdrawalRateLimiter(limiter WithdrawalRateLimiter) {
	s.rateLimiter = limiter
}

// withdrawalReference derives the transfer reference handed to Paystack from the
// ledger id. Paystack treats it as an idempotency key, so a retried initiation
// of the same logical withdrawal cannot execute twice on the processor side.
func withdrawalReference(txID uuid.UUID) string {
	return "wd_" + strings.ReplaceAll(txID.String(), "-", "")
}

func validateWithdrawal(req domain.WithdrawalRequest) error {
	if req.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	if strings.TrimSpace(req.AccountNumber) == "" {
		return fmt.Errorf("%w: account_number is required", ErrValidation)
	}
	if strings.TrimSpace(req.BankCode) == "" {
		return fmt.Errorf("%w: bank_code is required", ErrValidation)
	}
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	return nil
}

// Withdraw drives an outbound transfer: validate, reserve funds, resolve the
// recipient, initiate the Paystack transfer and record the outcome. The returned
// transaction is 'initiated'; final settlement arrives through the webhook
// reconciler, never synchronously.
func (s *Service) Withdraw(ctx context.Context, req domain.WithdrawalRequest) (*domain.Transaction, error) {
	if err := validateWithdrawal(req); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindUserByID(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if s.rateLimiter != nil {
		retryAfter, err := s.rateLimiter.ConsumeWithdrawalSlot(ctx, req.UserID.String())
		if err != nil {
			// Fail open: a broken limiter must not block withdrawals.
			log.Printf("level=warn component=service op=withdraw msg=\"rate limiter unavailable\" user_id=%s err=%v", req.UserID, err)
		} else if retryAfter > 0 {
			return nil, fmt.Errorf("%w: retry in %ds", ErrRateLimited, retryAfter)
		}
	}

	// 1. Reserve funds before any external call.
	if err := s.repo.DebitBalance(ctx, req.UserID, req.Amount); err != nil {
		return nil, fmt.Errorf("failed to debit wallet: %w", err)
	}

	// 2. Record the pending debit so a reserved amount always has a ledger trail.
	txRecord := &domain.Transaction{
		ID:     uuid.New(),
		UserID: req.UserID,
		Kind:   domain.KindDebit,
		Status: domain.StatusPending,
		Amount: req.Amount,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		if refundErr := s.repo.CreditBalance(ctx, req.UserID, req.Amount); refundErr != nil {
			log.Printf("level=error component=service op=withdraw msg=\"CRITICAL: refund failed after ledger write failure\" user_id=%s amount=%d err=%v", req.UserID, req.Amount, refundErr)
		}
		return nil, fmt.Errorf("failed to create transaction record: %w", err)
	}

	// 3. Resolve or register the transfer recipient.
	recipientCode, err := s.resolveRecipient(ctx, req)
	if err != nil {
		s.compensate(ctx, txRecord, "recipient registration failed")
		return nil, fmt.Errorf("%w: %v", ErrProcessor, err)
	}

	// 4. Initiate the transfer with the idempotency reference.
	reference := withdrawalReference(txRecord.ID)
	resp, err := s.processor.InitiateTransfer(ctx, req.Amount, recipientCode, "Wallet withdrawal", reference)
	if err != nil {
		s.compensate(ctx, txRecord, "transfer initiation failed")
		return nil, fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	if resp.Data.Reference != "" {
		reference = resp.Data.Reference
	}

	// 5. Attach the processor reference and hand settlement over to the reconciler.
	if err := s.repo.AttachTransferReference(ctx, txRecord.ID, reference); err != nil {
		// The transfer is in flight; do not compensate. The reconciler can still
		// not match the reference, which it treats as a benign unknown.
		log.Printf("level=error component=service op=withdraw msg=\"failed to attach transfer reference\" transaction_id=%s reference=%s err=%v", txRecord.ID, reference, err)
		return nil, fmt.Errorf("failed to attach transfer reference: %w", err)
	}
	txRecord.Status = domain.StatusInitiated
	txRecord.Reference = &reference

	s.publishEvent(ctx, "wallet.transfer.initiated", rabbitmq.WalletEvent{
		UserID:        req.UserID,
		TransactionID: txRecord.ID,
		Amount:        req.Amount,
		Reference:     reference,
		Timestamp:     time.Now().UTC(),
	})

	return txRecord, nil
}

// resolveRecipient returns the processor handle for a destination account,
// registering it with Paystack on first use. Concurrent first-time withdrawals
// to the same destination may register twice; the cache converges on one row.
func (s *Service) resolveRecipient(ctx context.Context, req domain.WithdrawalRequest) (string, error) {
	cached, err := s.repo.FindRecipient(ctx, req.UserID, req.AccountNumber, req.BankCode)
	if err == nil {
		return cached.RecipientCode, nil
	}
	if !errors.Is(err, store.ErrRecipientNotFound) {
		return "", fmt.Errorf("recipient lookup: %w", err)
	}

	recipientCode, err := s.processor.CreateTransferRecipient(ctx, req.Name, req.AccountNumber, req.BankCode)
	if err != nil {
		return "", err
	}

	if err := s.repo.SaveRecipient(ctx, &domain.Recipient{
		UserID:        req.UserID,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		RecipientCode: recipientCode,
	}); err != nil {
		// The handle is already usable for this withdrawal; only caching is lost.
		log.Printf("level=warn component=service op=withdraw msg=\"recipient cache write failed\" user_id=%s err=%v", req.UserID, err)
	}

	return recipientCode, nil
}

// compensate restores reserved funds and settles the ledger record as failed
// after a processor failure mid-withdrawal.
func (s *Service) compensate(ctx context.Context, txRecord *domain.Transaction, reason string) {
	if err := s.repo.CreditBalance(ctx, txRecord.UserID, txRecord.Amount); err != nil {
		log.Printf("level=error component=service op=withdraw msg=\"CRITICAL: refund failed during compensation\" user_id=%s transaction_id=%s amount=%d err=%v", txRecord.UserID, txRecord.ID, txRecord.Amount, err)
	}
	if _, err := s.repo.MarkTransactionFailed(ctx, txRecord.ID); err != nil {
		log.Printf("level=error component=service op=withdraw msg=\"failed to mark transaction failed\" transaction_id=%s err=%v", txRecord.ID, err)
	}
	txRecord.Status = domain.StatusFailed

	s.publishEvent(ctx, "wallet.transfer.failed", rabbitmq.WalletEvent{
		UserID:        txRecord.UserID,
		TransactionID: txRecord.ID,
		Amount:        txRecord.Amount,
		Reason:        reason,
		Timestamp:     time.Now().UTC(),
	})
}

// GetBalance returns the current wallet balance for a known user.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if _, err := s.repo.FindUserByID(ctx, userID); err != nil {
		return 0, fmt.Errorf("failed to find user: %w", err)
	}
	return s.repo.GetBalance(ctx, userID)
}

// GetTransaction returns a single ledger record, typically polled by callers
// waiting on a withdrawal to settle.
func (s *Service) GetTransaction(ctx context.Context, txID uuid.UUID) (*domain.Transaction, error) {
	return s.repo.FindTransactionByID(ctx, txID)
}

// ListTransactions returns a user's ledger history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	if _, err := s.repo.FindUserByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return s.repo.FindTransactionsByUserID(ctx, userID)
}

func (s *Service) publishEvent(ctx context.Context, routingKey string, event rabbitmq.WalletEvent) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, rabbitmq.WalletEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s transaction_id=%s err=%v", routingKey, event.TransactionID, err)
	}
}
