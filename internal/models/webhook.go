package models

import (
	"encoding/json"
	"time"
)

// Webhook event statuses. The pair (provider, event_id) is unique; only one
// worker may hold status 'processing' for a given event at a time.
const (
	WebhookStatusPending    = "pending"
	WebhookStatusProcessing = "processing"
	WebhookStatusProcessed  = "processed"
	WebhookStatusFailed     = "failed"
)

// Rejection reasons returned when an event lock cannot be acquired.
const (
	ReasonAlreadyProcessed    = "already_processed"
	ReasonCurrentlyProcessing = "currently_processing"
)

// WebhookEvent is the deduplication record for one externally delivered
// gateway notification.
type WebhookEvent struct {
	ID            int64           `json:"id"`
	Provider      string          `json:"provider"`
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	ProviderTxnID string          `json:"provider_txn_id,omitempty"`
	TargetStatus  string          `json:"target_status,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	RetryCount    int             `json:"retry_count"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// IdempotencyResult is the outcome of an event lock acquisition attempt.
// Either ShouldProcess is true and the caller owns the event (and must call
// MarkProcessed or MarkFailed exactly once), or Reason explains the
// rejection.
type IdempotencyResult struct {
	ShouldProcess bool   `json:"shouldProcess"`
	WebhookID     int64  `json:"webhookId,omitempty"`
	IsRetry       bool   `json:"isRetry,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
