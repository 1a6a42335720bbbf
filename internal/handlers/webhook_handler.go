package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/propvest/backend/internal/models"
	"github.com/propvest/backend/internal/services"
)

// SignatureHeader carries the gateway's HMAC-SHA256 hex digest of the raw
// request body.
const SignatureHeader = "X-Webhook-Signature"

// WebhookHandler receives payment-gateway deliveries. Every request passes
// the idempotency gate before any side-effecting work; the ledger update and
// the terminal mark happen exactly once per acquired lock.
type WebhookHandler struct {
	webhooks     *services.WebhookService
	transactions *services.TransactionService
	secrets      map[string]string // provider -> signing secret
}

func NewWebhookHandler(webhooks *services.WebhookService, transactions *services.TransactionService, secrets map[string]string) *WebhookHandler {
	return &WebhookHandler{
		webhooks:     webhooks,
		transactions: transactions,
		secrets:      secrets,
	}
}

// gatewayEvent is the illustrative payload shape shared by the supported
// gateways; only the dedup key and the transaction reference matter here.
type gatewayEvent struct {
	EventID       string `json:"event_id"`
	Reference     string `json:"reference"`
	EventType     string `json:"event_type"`
	Status        string `json:"status"`
	ProviderTxnID string `json:"provider_txn_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

// HandleGatewayEvent processes one webhook delivery
// @Summary Receive a payment gateway webhook
// @Description Deduplicates deliveries per (provider, event_id) and applies the transaction status transition at most once
// @Tags webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Gateway provider"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]string
// @Router /webhooks/{provider} [post]
func (h *WebhookHandler) HandleGatewayEvent(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	secret, known := h.secrets[provider]
	if !known {
		log.Printf("[WEBHOOK] Delivery for unknown provider %q from %s", provider, r.RemoteAddr)
		http.Error(w, "Unknown provider", http.StatusNotFound)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(maxBytes)))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := verifySignature(secret, body, r.Header.Get(SignatureHeader)); err != nil {
		log.Printf("[WEBHOOK] Signature verification failed for provider %s: %v", provider, err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event gatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	eventID := event.EventID
	if eventID == "" {
		eventID = event.Reference
	}
	if eventID == "" {
		http.Error(w, "event_id is required", http.StatusBadRequest)
		return
	}

	result, err := h.webhooks.AcquireEventLock(provider, eventID, event.EventType, body)
	if err != nil {
		log.Printf("[WEBHOOK] Lock acquisition failed for %s/%s: %v", provider, eventID, err)
		http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
		return
	}

	if !result.ShouldProcess {
		// Duplicates get a 200 so the gateway stops redelivering.
		log.Printf("[WEBHOOK] Skipping %s/%s: %s", provider, eventID, result.Reason)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ignored",
			"reason": result.Reason,
		})
		return
	}

	h.processAcquired(w, provider, eventID, result, &event)
}

func (h *WebhookHandler) processAcquired(w http.ResponseWriter, provider, eventID string, lock *models.IdempotencyResult, event *gatewayEvent) {
	targetStatus, ok := mapEventStatus(event)
	if !ok {
		// An event this platform does not act on is completed as a no-op so
		// the gateway stops redelivering it.
		if err := h.webhooks.MarkProcessed(lock.WebhookID, services.ProcessedInfo{TargetStatus: ""}); err != nil {
			log.Printf("[WEBHOOK] Failed to mark no-op event %s/%s: %v", provider, eventID, err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ignored",
			"reason": "unsupported_event_type",
		})
		return
	}

	providerTxnID := event.ProviderTxnID
	if providerTxnID == "" {
		providerTxnID = event.Reference
	}

	tx, err := h.transactions.UpdateTransactionStatus("", providerTxnID, targetStatus, services.ConfirmationContext{
		Source:         models.ConfirmationSourceWebhook,
		Method:         provider,
		Note:           event.EventType,
		IdempotencyKey: provider + ":" + eventID,
	})
	if err != nil {
		var notFound *services.NotFoundError
		if errors.As(err, &notFound) {
			// The ledger row may not exist yet (webhook raced the initiating
			// request). Fail the event so a redelivery can retry it.
			if markErr := h.webhooks.MarkFailed(lock.WebhookID, err.Error()); markErr != nil {
				log.Printf("[WEBHOOK] Failed to mark %s/%s failed: %v", provider, eventID, markErr)
			}
			http.Error(w, "Transaction not found", http.StatusNotFound)
			return
		}

		log.Printf("[WEBHOOK] Processing failed for %s/%s: %v", provider, eventID, err)
		if markErr := h.webhooks.MarkFailed(lock.WebhookID, err.Error()); markErr != nil {
			log.Printf("[WEBHOOK] Failed to mark %s/%s failed: %v", provider, eventID, markErr)
		}
		http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
		return
	}

	if err := h.webhooks.MarkProcessed(lock.WebhookID, services.ProcessedInfo{
		TransactionID: tx.ID,
		ProviderTxnID: providerTxnID,
		TargetStatus:  targetStatus,
	}); err != nil {
		// The ledger update committed; the event record is out of sync but
		// the idempotency key on the transaction makes a replay harmless.
		log.Printf("[WEBHOOK] Ledger updated but mark-processed failed for %s/%s: %v", provider, eventID, err)
	}

	log.Printf("[WEBHOOK] Processed %s/%s -> %s (retry=%v)", provider, eventID, targetStatus, lock.IsRetry)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "processed",
		"isRetry": lock.IsRetry,
	})
}

// mapEventStatus translates a gateway event into the ledger status it
// targets.
func mapEventStatus(event *gatewayEvent) (string, bool) {
	switch strings.ToLower(event.Status) {
	case "success", "successful", "succeeded", "completed", "paid":
		return models.TxStatusCompleted, true
	case "failed", "declined", "error":
		return models.TxStatusFailed, true
	case "cancelled", "canceled", "abandoned":
		return models.TxStatusCancelled, true
	}
	return "", false
}

func verifySignature(secret string, body []byte, signature string) error {
	if signature == "" {
		return errors.New("missing signature header")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("signature mismatch")
	}
	return nil
}
