/**
 * @description
 * This file sets up the HTTP router for the wallet-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware.
 *
 * The webhook endpoint is deliberately outside the API key group: it is
 * authenticated by its HMAC signature, not by the caller-facing key.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// WalletRoutes creates and returns the router for the wallet service.
func WalletRoutes(h *WalletHandlers, apiKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Liveness probes, no business logic.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("wallet-service"))
	})
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	// Signature-authenticated processor callbacks.
	r.Post("/webhook", h.WebhookHandler)

	// Caller-facing endpoints, gated by the configured API key when present.
	r.Group(func(r chi.Router) {
		r.Use(APIKeyMiddleware(apiKey))

		r.Post("/withdraw", h.WithdrawHandler)
		r.Get("/balance/{userID}", h.BalanceHandler)
		r.Get("/transaction/{transactionID}", h.TransactionHandler)
		r.Get("/transactions/{userID}", h.TransactionsHandler)
	})

	return r
}
