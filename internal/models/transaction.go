package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TxTypeDeposit    = "deposit"
	TxTypeWithdrawal = "withdrawal"
	TxTypeInvestment = "investment"
	TxTypePayout     = "payout"
	TxTypeFee        = "fee"
	TxTypeRefund     = "refund"
)

// Transaction statuses
const (
	TxStatusPending    = "pending"
	TxStatusProcessing = "processing"
	TxStatusCompleted  = "completed"
	TxStatusFailed     = "failed"
	TxStatusCancelled  = "cancelled"
)

// Confirmation sources
const (
	ConfirmationSourceWebhook = "gateway_webhook"
	ConfirmationSourceVerify  = "gateway_verify"
	ConfirmationSourceManual  = "manual_confirm"
	ConfirmationSourceSystem  = "system"
)

// Metadata is a free-form JSONB column.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
}

// Confirmation records who settled a transaction and with what idempotency
// key, so a redelivered gateway event can be detected as a no-op.
type Confirmation struct {
	Source         string    `json:"source"`
	Method         string    `json:"method,omitempty"`
	Note           string    `json:"note,omitempty"`
	Status         string    `json:"status"`
	At             time.Time `json:"at"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

func (c *Confirmation) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func (c *Confirmation) Scan(src any) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("unsupported confirmation type %T", src)
	}
}

// RelatedObject links a transaction to the entity it settles.
type RelatedObject struct {
	Kind string `json:"kind"` // investment, refund, adjustment
	ID   string `json:"id"`
}

// Transaction is a ledger row. Rows are never mutated once settled; refunds
// and adjustments are new rows referencing the original.
type Transaction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	Provider      string          `json:"provider,omitempty"`
	ProviderTxnID string          `json:"provider_txn_id,omitempty"`
	Related       *RelatedObject  `json:"related_object,omitempty"`
	Fees          decimal.Decimal `json:"fees"`
	Metadata      Metadata        `json:"metadata,omitempty"`
	Confirmation  *Confirmation   `json:"confirmation,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// BalanceDetails is the atomic aggregate returned by the
// get_user_balance_details SQL function. Balance nets completed
// transactions; pending withdrawals and pending investments are reserved
// but not yet debited.
type BalanceDetails struct {
	Balance             decimal.Decimal `json:"balance"`
	PendingWithdrawals  decimal.Decimal `json:"pendingWithdrawals"`
	PendingInvestments  decimal.Decimal `json:"pendingInvestments"`
	AvailableToWithdraw decimal.Decimal `json:"availableToWithdraw"`
}

// ValidTransactionType reports whether t is one of the ledger row types.
func ValidTransactionType(t string) bool {
	switch t {
	case TxTypeDeposit, TxTypeWithdrawal, TxTypeInvestment, TxTypePayout, TxTypeFee, TxTypeRefund:
		return true
	}
	return false
}

// ValidTransactionStatus reports whether s is a known lifecycle status.
func ValidTransactionStatus(s string) bool {
	switch s {
	case TxStatusPending, TxStatusProcessing, TxStatusCompleted, TxStatusFailed, TxStatusCancelled:
		return true
	}
	return false
}
