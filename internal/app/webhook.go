/**
 * @description
 * This file contains the webhook reconciler: the single synchronous path that
 * applies asynchronous Paystack events to ledger and balance state. Verification
 * always runs first, then parsing, then the apply. Every step after signature
 * verification is safe under re-delivery, so the reconciler can be invoked from
 * any concurrency model without coordination.
 *
 * Fee capture on deposits is decoupled from crediting: the user's wallet is
 * credited first, then the platform's cut is swept to the configured recipient
 * best-effort. A failed sweep is logged, never retried here, and never reverses
 * the user credit.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha512, encoding/hex: For webhook signature validation.
 * - encoding/json: For payload decoding.
 * - github.com/google/uuid: For fee ledger row ids.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For downstream event publishing.
 */

package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

// ErrInvalidSignature marks a webhook delivery whose signature does not match
// the shared secret. The payload is not parsed or acted upon.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Reconciler applies verified Paystack events to the ledger and balance store.
type Reconciler struct {
	repo              store.Repository
	processor         ProcessorClient
	producer          rabbitmq.Publisher
	secret            string
	feePercent        float64
	platformRecipient string
}

// NewReconciler creates a webhook reconciler. platformRecipient is the Paystack
// recipient code the deposit fee is swept to; an empty value disables the sweep.
func NewReconciler(repo store.Repository, processor ProcessorClient, producer rabbitmq.Publisher, secret string, feePercent float64, platformRecipient string) *Reconciler {
	return &Reconciler{
		repo:              repo,
		processor:         processor,
		producer:          producer,
		secret:            secret,
		feePercent:        feePercent,
		platformRecipient: platformRecipient,
	}
}

// VerifySignature checks the HMAC-SHA512 of the exact raw payload bytes against
// the hex signature header Paystack sends.
func (r *Reconciler) VerifySignature(raw []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(r.secret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

// HandleEvent verifies and reconciles one webhook delivery. It returns
// ErrInvalidSignature for a bad signature; unknown events and unknown references
// are acknowledged without error so the processor is never driven to retry
// deliveries this service does not care about.
func (r *Reconciler) HandleEvent(ctx context.Context, raw []byte, signature string) error {
	if !r.VerifySignature(raw, signature) {
		return ErrInvalidSignature
	}

	var event domain.WebhookEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		log.Printf("level=warn component=reconciler msg=\"undecodable webhook payload\" err=%v", err)
		return nil
	}

	switch event.Event {
	case domain.EventChargeSuccess:
		return r.reconcileDeposit(ctx, event.Data)
	case domain.EventTransferSuccess:
		return r.reconcileTransferSuccess(ctx, event.Data)
	case domain.EventTransferFailed, domain.EventTransferReversed:
		return r.reconcileTransferFailure(ctx, event.Data)
	default:
		log.Printf("level=info component=reconciler msg=\"ignoring event\" event=%s", event.Event)
		return nil
	}
}

// reconcileDeposit credits a confirmed inbound charge: net amount to the payer's
// wallet, recorded as a success credit keyed by the charge reference, then the
// platform fee swept best-effort.
func (r *Reconciler) reconcileDeposit(ctx context.Context, data json.RawMessage) error {
	var charge domain.ChargeEventData
	if err := json.Unmarshal(data, &charge); err != nil {
		log.Printf("level=warn component=reconciler event=charge.success msg=\"undecodable event data\" err=%v", err)
		return nil
	}
	if charge.Reference == "" || charge.Amount <= 0 {
		log.Printf("level=warn component=reconciler event=charge.success msg=\"missing reference or amount\" reference=%q amount=%d", charge.Reference, charge.Amount)
		return nil
	}

	user, err := r.repo.FindUserByEmail(ctx, charge.Customer.Email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Printf("level=warn component=reconciler event=charge.success msg=\"no user for payer\" email=%s reference=%s", charge.Customer.Email, charge.Reference)
			return nil
		}
		return fmt.Errorf("payer lookup: %w", err)
	}

	fee, net := SplitDeposit(charge.Amount, r.feePercent)

	applied, err := r.repo.RecordDeposit(ctx, user.ID, net, charge.Reference)
	if err != nil {
		return fmt.Errorf("record deposit: %w", err)
	}
	if !applied {
		log.Printf("level=info component=reconciler event=charge.success msg=\"duplicate delivery ignored\" reference=%s", charge.Reference)
		return nil
	}

	log.Printf("level=info component=reconciler event=charge.success msg=\"deposit credited\" user_id=%s gross=%d fee=%d net=%d reference=%s", user.ID, charge.Amount, fee, net, charge.Reference)

	r.publishEvent(ctx, "wallet.deposit.credited", rabbitmq.WalletEvent{
		UserID:    user.ID,
		Amount:    net,
		Reference: charge.Reference,
		Timestamp: time.Now().UTC(),
	})

	r.sweepFee(ctx, user.ID, fee, charge.Reference)
	return nil
}

// sweepFee moves the platform's cut of a deposit to the platform recipient and
// records it as a fee ledger row against the depositing user. Best-effort only:
// a failure is logged, not retried, and never reverses the user credit. The
// deposit apply is keyed by the charge reference, so a re-delivered event never
// reaches the sweep twice.
func (r *Reconciler) sweepFee(ctx context.Context, userID uuid.UUID, fee int64, chargeReference string) {
	if fee <= 0 || r.platformRecipient == "" || r.processor == nil {
		return
	}
	feeReference := "fee_" + chargeReference
	if _, err := r.processor.InitiateTransfer(ctx, fee, r.platformRecipient, "Platform fee", feeReference); err != nil {
		log.Printf("level=warn component=reconciler msg=\"fee sweep failed\" fee=%d reference=%s err=%v", fee, chargeReference, err)
		return
	}
	if err := r.repo.CreateTransaction(ctx, &domain.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      domain.KindFee,
		Status:    domain.StatusSuccess,
		Amount:    fee,
		Reference: &feeReference,
	}); err != nil {
		log.Printf("level=warn component=reconciler msg=\"fee ledger write failed\" fee=%d reference=%s err=%v", fee, chargeReference, err)
	}
}

func (r *Reconciler) reconcileTransferSuccess(ctx context.Context, data json.RawMessage) error {
	var transfer domain.TransferEventData
	if err := json.Unmarshal(data, &transfer); err != nil || transfer.Reference == "" {
		log.Printf("level=warn component=reconciler event=transfer.success msg=\"undecodable event data\" err=%v", err)
		return nil
	}

	txRecord, err := r.repo.FindTransactionByReference(ctx, transfer.Reference)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			log.Printf("level=info component=reconciler event=transfer.success msg=\"unknown reference; acknowledging\" reference=%s", transfer.Reference)
			return nil
		}
		return fmt.Errorf("lookup transaction: %w", err)
	}

	applied, err := r.repo.MarkTransactionSucceeded(ctx, txRecord.ID)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if !applied {
		return nil
	}

	r.publishEvent(ctx, "wallet.transfer.succeeded", rabbitmq.WalletEvent{
		UserID:        txRecord.UserID,
		TransactionID: txRecord.ID,
		Amount:        txRecord.Amount,
		Reference:     transfer.Reference,
		Timestamp:     time.Now().UTC(),
	})
	return nil
}

// reconcileTransferFailure refunds the reserved debit and settles the
// transaction as failed. The store applies both in one conditional write keyed
// by the transaction's own non-terminal status, so a duplicate delivery cannot
// refund twice.
func (r *Reconciler) reconcileTransferFailure(ctx context.Context, data json.RawMessage) error {
	var transfer domain.TransferEventData
	if err := json.Unmarshal(data, &transfer); err != nil || transfer.Reference == "" {
		log.Printf("level=warn component=reconciler event=transfer.failed msg=\"undecodable event data\" err=%v", err)
		return nil
	}

	txRecord, applied, err := r.repo.FailTransferAndRefund(ctx, transfer.Reference)
	if err != nil {
		return fmt.Errorf("fail and refund: %w", err)
	}
	if !applied {
		log.Printf("level=info component=reconciler event=transfer.failed msg=\"unknown or settled reference; acknowledging\" reference=%s", transfer.Reference)
		return nil
	}

	log.Printf("level=info component=reconciler event=transfer.failed msg=\"transfer refunded\" user_id=%s transaction_id=%s amount=%d reference=%s reason=%q", txRecord.UserID, txRecord.ID, txRecord.Amount, transfer.Reference, transfer.Reason)

	r.publishEvent(ctx, "wallet.transfer.failed", rabbitmq.WalletEvent{
		UserID:        txRecord.UserID,
		TransactionID: txRecord.ID,
		Amount:        txRecord.Amount,
		Reference:     transfer.Reference,
		Reason:        transfer.Reason,
		Timestamp:     time.Now().UTC(),
	})
	return nil
}

func (r *Reconciler) publishEvent(ctx context.Context, routingKey string, event rabbitmq.WalletEvent) {
	if r.producer == nil {
		return
	}
	if err := r.producer.Publish(ctx, rabbitmq.WalletEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=reconciler msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
