// Package models defines the data types that flow through the processing
// pipeline, from fetched emails to delivered payment records.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The webhook contract serializes amounts as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// PaymentRecord is the canonical, delivery-ready representation of one
// extracted payment. Immutable once created.
type PaymentRecord struct {
	TransactionID string          `json:"transaction_id"`
	CustomerID    string          `json:"customer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Date          string          `json:"date"`
	Purpose       string          `json:"purpose"`
	SourceFile    string          `json:"source_file"`
}

// DedupKey returns the identity of the record in the tracking ledger.
// The same transaction id in two differently named source files counts as
// two distinct payments.
func (p PaymentRecord) DedupKey() (transactionID, sourceFile string) {
	return p.TransactionID, p.SourceFile
}

// WebhookPayload is the JSON body posted to the configured endpoint.
type WebhookPayload struct {
	Timestamp string             `json:"timestamp"`
	Data      WebhookPayloadData `json:"data"`
}

// WebhookPayloadData carries the payment batch inside a webhook payload.
type WebhookPayloadData struct {
	PaymentsCount int             `json:"payments_count"`
	Payments      []PaymentRecord `json:"payments"`
}

// NewWebhookPayload builds the payload for one batch, stamping the
// generation time in UTC.
func NewWebhookPayload(now time.Time, payments []PaymentRecord) WebhookPayload {
	if payments == nil {
		payments = []PaymentRecord{}
	}
	return WebhookPayload{
		Timestamp: now.UTC().Format(time.RFC3339),
		Data: WebhookPayloadData{
			PaymentsCount: len(payments),
			Payments:      payments,
		},
	}
}
