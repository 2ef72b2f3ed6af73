/**
 * @description
 * This file contains the HTTP handlers for the wallet-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service or the webhook reconciler, and writing the
 * HTTP response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, io, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

// SignatureHeader is the header Paystack signs webhook deliveries with.
const SignatureHeader = "x-paystack-signature"

// WalletHandlers holds the application service and reconciler that handlers use.
type WalletHandlers struct {
	service    *app.Service
	reconciler *app.Reconciler
}

// NewWalletHandlers creates a new instance of WalletHandlers.
func NewWalletHandlers(service *app.Service, reconciler *app.Reconciler) *WalletHandlers {
	return &WalletHandlers{service: service, reconciler: reconciler}
}

func (h *WalletHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *WalletHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// WithdrawHandler handles requests to move funds from a wallet to an external
// bank account.
func (h *WalletHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txRecord, err := h.service.Withdraw(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrValidation):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusBadRequest, "Insufficient funds")
		case errors.Is(err, app.ErrProcessor):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "User not found")
		case errors.Is(err, app.ErrRateLimited):
			h.writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			log.Printf("level=error component=api endpoint=withdraw msg=\"withdrawal failed\" user_id=%s err=%v", req.UserID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to process withdrawal")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"transaction": txRecord,
	})
}

// WebhookHandler processes incoming webhooks from Paystack. The signature is
// computed over the exact raw bytes, so the body must be read before decoding.
// Processing failures after a valid signature are acknowledged with 200: the
// reconciler is idempotent under re-delivery and the processor must not be
// driven into a retry loop.
func (h *WalletHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Cannot read request body")
		return
	}

	if err := h.reconciler.HandleEvent(r.Context(), body, r.Header.Get(SignatureHeader)); err != nil {
		if errors.Is(err, app.ErrInvalidSignature) {
			h.writeError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
		log.Printf("level=error component=api endpoint=webhook msg=\"reconciliation failed; acknowledging for idempotent redelivery\" err=%v", err)
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}

// BalanceHandler returns the current wallet balance for a user.
func (h *WalletHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("level=error component=api endpoint=balance msg=\"balance lookup failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch balance")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

// TransactionHandler returns a single ledger record by its ID, for callers
// polling a withdrawal's settlement status.
func (h *WalletHandlers) TransactionHandler(w http.ResponseWriter, r *http.Request) {
	txID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID format")
		return
	}

	txRecord, err := h.service.GetTransaction(r.Context(), txID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api endpoint=transaction msg=\"transaction lookup failed\" transaction_id=%s err=%v", txID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch transaction")
		return
	}

	h.writeJSON(w, http.StatusOK, txRecord)
}

// TransactionsHandler returns a user's ledger history, newest first.
func (h *WalletHandlers) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	transactions, err := h.service.ListTransactions(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("level=error component=api endpoint=transactions msg=\"history lookup failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch transactions")
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      userID,
		"transactions": transactions,
	})
}
