package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTransaction(transactionID, userID, txType string, amount decimal.Decimal, status string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "LEDGER_RECORD",
		TransactionID: transactionID,
		UserID:        userID,
		Amount:        amount.StringFixed(2),
		Status:        status,
		Details:       map[string]string{"type": txType},
	})
}

func (a *Logger) LogConfirmation(transactionID, source, status, idempotencyKey string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "CONFIRMATION",
		TransactionID: transactionID,
		Status:        status,
		Details: map[string]string{
			"source":          source,
			"idempotency_key": idempotencyKey,
		},
	})
}

func (a *Logger) LogReservation(investmentID, userID string, amount decimal.Decimal, investmentType string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "FUNDS_RESERVED",
		TransactionID: investmentID,
		UserID:        userID,
		Amount:        amount.StringFixed(2),
		Status:        "SUCCESS",
		Details:       map[string]string{"investment_type": investmentType},
	})
}

func (a *Logger) LogWebhook(provider, eventID, outcome string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "WEBHOOK",
		Status:    outcome,
		Details: map[string]string{
			"provider": provider,
			"event_id": eventID,
		},
	})
}

func (a *Logger) LogError(transactionID, userID string, err error) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		UserID:        userID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
