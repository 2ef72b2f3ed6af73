/**
 * @description
 * This package provides a client for interacting with the Paystack API. It
 * encapsulates the logic for making authenticated HTTP requests to Paystack's
 * transfer-recipient and transfer endpoints, handling request body construction,
 * and parsing responses.
 *
 * Transfers are initiated with a caller-supplied reference, which Paystack treats
 * as an idempotency key: re-issuing the same logical transfer with the same
 * reference cannot double-execute on the processor side.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package paystackclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the Paystack API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new Paystack API client. The timeout bounds every
// processor call; a timed-out initiation is treated as failed by the caller and
// compensated, with the transfer reference keeping a later retry safe.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// RecipientRequest is the payload for registering a transfer recipient.
type RecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

// RecipientResponse is the expected response from the transferrecipient endpoint.
type RecipientResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		RecipientCode string `json:"recipient_code"`
	} `json:"data"`
}

// TransferRequest is the payload for initiating a transfer.
type TransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
}

// TransferResponse is the expected response from the transfer endpoint.
type TransferResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference    string `json:"reference"`
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	} `json:"data"`
}

// ErrorResponse represents an error envelope from the Paystack API.
type ErrorResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("paystack api error: %s", e.Message)
	}
	return "unknown paystack api error"
}

// CreateTransferRecipient registers a bank account destination with Paystack and
// returns the recipient code used for subsequent transfers.
func (c *Client) CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	payload := RecipientRequest{
		Type:          "nuban",
		Name:          name,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		Currency:      "NGN",
	}

	var resp RecipientResponse
	if err := c.post(ctx, "/transferrecipient", payload, &resp); err != nil {
		return "", err
	}
	if resp.Data.RecipientCode == "" {
		return "", fmt.Errorf("paystack returned empty recipient code")
	}
	return resp.Data.RecipientCode, nil
}

// InitiateTransfer asks Paystack to move funds to a registered recipient. The
// reference doubles as the idempotency token and is echoed back in transfer
// webhooks, which is how settlement events are correlated with our ledger.
func (c *Client) InitiateTransfer(ctx context.Context, amount int64, recipientCode, reason, reference string) (*TransferResponse, error) {
	payload := TransferRequest{
		Source:    "balance",
		Amount:    amount,
		Recipient: recipientCode,
		Reason:    reason,
		Reference: reference,
	}

	var resp TransferResponse
	if err := c.post(ctx, "/transfer", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post is a generic helper to execute authenticated Paystack requests.
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal paystack request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create paystack request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute paystack request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read paystack response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=paystack_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=paystack_client path=%s status=%d message=%q", path, resp.StatusCode, errResp.Message)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode success response: %w", err)
	}

	return nil
}
