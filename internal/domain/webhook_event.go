package domain

import "encoding/json"

// Paystack event names the reconciler acts on. Anything else is acknowledged
// and dropped so the processor is never driven into a retry loop.
const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

// WebhookEvent is the outer envelope of a Paystack webhook delivery.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ChargeEventData carries the fields of a charge.success payload the
// reconciler needs: the charge reference, the gross amount and the payer.
type ChargeEventData struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"` // in kobo
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// TransferEventData carries the fields of a transfer.* payload the reconciler
// needs. The reference is the one we supplied at initiation, echoed back.
type TransferEventData struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}
