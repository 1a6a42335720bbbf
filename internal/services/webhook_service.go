package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/propvest/backend/internal/audit"
	"github.com/propvest/backend/internal/models"
)

// WebhookService is the idempotency gate for gateway deliveries. Payment
// gateways redeliver webhooks on timeout or ambiguous response; the gate
// guarantees at most one concurrent processing attempt and at most one
// successful completion per (provider, event_id), independent of delivery
// count or worker concurrency.
//
// Correctness comes entirely from the backing store: a unique key on
// (provider, event_id) for lock acquisition and optimistic UPDATE ... WHERE
// status = <observed> for retry transitions. No in-memory state is held, so
// the gate works across multiple server instances.
type WebhookService struct {
	db         *sql.DB
	redis      *redis.Client
	staleAfter time.Duration
	audit      *audit.Logger
}

const (
	// lockMaxAttempts bounds the acquisition retry loop. The race on the
	// initial insert resolves on the next observation, so contention past a
	// few attempts means another worker owns the event.
	lockMaxAttempts = 3
	lockRetryDelay  = 50 * time.Millisecond

	// defaultStaleAfter reclaims processing locks abandoned by a crashed
	// worker.
	defaultStaleAfter = 15 * time.Minute

	notificationQueue = "webhook_notifications"
)

func NewWebhookService(db *sql.DB, redisClient *redis.Client) *WebhookService {
	return &WebhookService{
		db:         db,
		redis:      redisClient,
		staleAfter: defaultStaleAfter,
		audit:      audit.NewLogger(),
	}
}

// ProcessedInfo links a processed webhook to the ledger row it settled.
type ProcessedInfo struct {
	TransactionID string
	ProviderTxnID string
	TargetStatus  string
}

// AcquireEventLock claims the right to process one gateway delivery.
// Callers must invoke this before doing any side-effecting work, and must
// call MarkProcessed or MarkFailed exactly once per successful acquisition.
func (s *WebhookService) AcquireEventLock(provider, eventID, eventType string, payload json.RawMessage) (*models.IdempotencyResult, error) {
	if provider == "" || eventID == "" {
		return nil, &ValidationError{Field: "event_id", Message: "provider and event_id are required"}
	}

	for attempt := 0; attempt < lockMaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(lockRetryDelay << (attempt - 1))
		}

		// Insert-if-absent is the lock-acquisition primitive: only the
		// worker whose insert took effect gets the row back.
		var id int64
		err := s.db.QueryRow(`
			INSERT INTO webhook_events (provider, event_id, event_type, status, payload, retry_count, created_at, updated_at)
			VALUES ($1, $2, $3, 'processing', $4, 0, NOW(), NOW())
			ON CONFLICT (provider, event_id) DO NOTHING
			RETURNING id
		`, provider, eventID, eventType, []byte(payload)).Scan(&id)
		if err == nil {
			s.audit.LogWebhook(provider, eventID, "LOCK_ACQUIRED")
			return &models.IdempotencyResult{ShouldProcess: true, WebhookID: id, IsRetry: false}, nil
		}
		if err != sql.ErrNoRows {
			return nil, &StorageError{Op: "insert webhook event", Err: err}
		}

		// The row already exists; observe it and resolve.
		var (
			existingID int64
			status     string
			updatedAt  time.Time
		)
		err = s.db.QueryRow(`
			SELECT id, status, updated_at
			FROM webhook_events
			WHERE provider = $1 AND event_id = $2
		`, provider, eventID).Scan(&existingID, &status, &updatedAt)
		if err == sql.ErrNoRows {
			// Vanished between upsert and read; try the insert again.
			continue
		}
		if err != nil {
			return nil, &StorageError{Op: "load webhook event", Err: err}
		}

		switch status {
		case models.WebhookStatusProcessed:
			// Terminal success: a late or duplicate delivery is a permanent
			// no-op.
			return &models.IdempotencyResult{ShouldProcess: false, Reason: models.ReasonAlreadyProcessed}, nil

		case models.WebhookStatusProcessing:
			if time.Since(updatedAt) < s.staleAfter {
				return &models.IdempotencyResult{ShouldProcess: false, Reason: models.ReasonCurrentlyProcessing}, nil
			}
			// The owning worker is presumed dead; reclaim with the same
			// optimistic transition used for failed rows.
			claimed, claimErr := s.claimExisting(existingID, status)
			if claimErr != nil {
				return nil, claimErr
			}
			if claimed {
				log.Printf("[WEBHOOK] Reclaimed stale processing lock for %s/%s", provider, eventID)
				s.audit.LogWebhook(provider, eventID, "LOCK_RECLAIMED")
				return &models.IdempotencyResult{ShouldProcess: true, WebhookID: existingID, IsRetry: true}, nil
			}

		case models.WebhookStatusPending, models.WebhookStatusFailed:
			claimed, claimErr := s.claimExisting(existingID, status)
			if claimErr != nil {
				return nil, claimErr
			}
			if claimed {
				s.audit.LogWebhook(provider, eventID, "LOCK_RETRY")
				return &models.IdempotencyResult{ShouldProcess: true, WebhookID: existingID, IsRetry: true}, nil
			}

		default:
			return nil, &StorageError{Op: "resolve webhook event", Err: ErrConcurrencyConflict}
		}
		// Zero rows affected: another worker won the race. Loop and observe
		// again.
	}

	return &models.IdempotencyResult{ShouldProcess: false, Reason: models.ReasonCurrentlyProcessing}, nil
}

// claimExisting performs the optimistic-locked transition to processing.
// The WHERE status clause makes the transition exclusive: zero rows affected
// means another worker got there first.
func (s *WebhookService) claimExisting(id int64, expectedStatus string) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE webhook_events
		SET status = 'processing', retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, expectedStatus)
	if err != nil {
		return false, &StorageError{Op: "claim webhook event", Err: err}
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "claim webhook event", Err: err}
	}
	return rows == 1, nil
}

// MarkProcessed transitions an owned event to its terminal success state.
func (s *WebhookService) MarkProcessed(webhookID int64, info ProcessedInfo) error {
	result, err := s.db.Exec(`
		UPDATE webhook_events
		SET status = 'processed', transaction_id = $2, provider_txn_id = $3, target_status = $4,
		    error_message = '', processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, webhookID, info.TransactionID, info.ProviderTxnID, info.TargetStatus)
	if err != nil {
		return &StorageError{Op: "mark webhook processed", Err: err}
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return &StorageError{Op: "mark webhook processed", Err: err}
	}
	if rows == 0 {
		// Someone reclaimed the lock out from under this worker.
		return ErrConcurrencyConflict
	}

	s.notifyProcessed(webhookID, info)
	return nil
}

// MarkFailed records a processing failure. Failed events stay eligible for
// retry; retry_count increments on the next acquisition.
func (s *WebhookService) MarkFailed(webhookID int64, errorMessage string) error {
	result, err := s.db.Exec(`
		UPDATE webhook_events
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, webhookID, errorMessage)
	if err != nil {
		return &StorageError{Op: "mark webhook failed", Err: err}
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return &StorageError{Op: "mark webhook failed", Err: err}
	}
	if rows == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}

// notifyProcessed pushes the settled event onto the notification queue.
// Queueing is best-effort: a missing or unreachable Redis only logs.
func (s *WebhookService) notifyProcessed(webhookID int64, info ProcessedInfo) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"webhook_id":      webhookID,
		"transaction_id":  info.TransactionID,
		"provider_txn_id": info.ProviderTxnID,
		"target_status":   info.TargetStatus,
	})
	if err != nil {
		return
	}
	if err := s.redis.RPush(context.Background(), notificationQueue, data).Err(); err != nil {
		log.Printf("[WEBHOOK] Failed to queue notification for webhook %d: %v", webhookID, err)
	}
}
