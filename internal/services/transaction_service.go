package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/propvest/backend/internal/audit"
	"github.com/propvest/backend/internal/config"
	"github.com/propvest/backend/internal/models"
)

// TransactionService is the balance/transaction ledger. It records financial
// events as immutable rows, reads balances through a single atomic SQL
// function, and applies idempotent status transitions with confirmation
// provenance. All funds-gating goes through atomic SQL functions; the
// service never does a client-side check-then-act on balances.
type TransactionService struct {
	db          *sql.DB
	investments *InvestmentService
	limits      *config.InvestmentLimits
	audit       *audit.Logger
	validator   *ValidationHelper
}

func NewTransactionService(db *sql.DB, investments *InvestmentService, limits *config.InvestmentLimits) *TransactionService {
	if limits == nil {
		limits = config.LoadInvestmentLimits()
	}
	return &TransactionService{
		db:          db,
		investments: investments,
		limits:      limits,
		audit:       audit.NewLogger(),
		validator:   NewValidationHelper(),
	}
}

type RecordTransactionInput struct {
	UserID        string          `json:"user_id" validate:"required"`
	Type          string          `json:"type" validate:"required,oneof=deposit withdrawal investment payout fee refund"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	Status        string          `json:"status"`
	Provider      string          `json:"provider"`
	ProviderTxnID string          `json:"provider_txn_id"`
	Related       *models.RelatedObject
	Fees          decimal.Decimal `json:"fees"`
	Metadata      models.Metadata `json:"metadata"`
}

// ConfirmationContext carries the provenance of a status transition.
type ConfirmationContext struct {
	Source         string `validate:"required,oneof=gateway_webhook gateway_verify manual_confirm system"`
	Method         string
	Note           string
	IdempotencyKey string
}

type WithdrawalInput struct {
	UserID   string          `json:"user_id" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,len=3"`
	Provider string          `json:"provider" validate:"required"`
	Metadata models.Metadata `json:"metadata"`
}

const transactionColumns = `id, user_id, type, amount, currency, status, provider, provider_txn_id,
	       related_kind, related_id, fees, metadata, confirmation, created_at, updated_at, completed_at`

// RecordTransaction inserts a new ledger row with zero side effects beyond
// the insert. Existing rows are never mutated by this path.
func (ts *TransactionService) RecordTransaction(input *RecordTransactionInput) (*models.Transaction, error) {
	if err := ts.validator.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	if input.Fees.IsNegative() {
		return nil, &ValidationError{Field: "fees", Message: "fees cannot be negative"}
	}
	status := input.Status
	if status == "" {
		status = models.TxStatusPending
	}
	if !models.ValidTransactionStatus(status) {
		return nil, &ValidationError{Field: "status", Message: "unknown transaction status: " + status}
	}

	tx := &models.Transaction{
		ID:            uuid.NewString(),
		UserID:        input.UserID,
		Type:          input.Type,
		Amount:        input.Amount,
		Currency:      strings.ToUpper(input.Currency),
		Status:        status,
		Provider:      input.Provider,
		ProviderTxnID: input.ProviderTxnID,
		Related:       input.Related,
		Fees:          input.Fees,
		Metadata:      input.Metadata,
	}

	var relatedKind, relatedID any
	if tx.Related != nil {
		relatedKind, relatedID = tx.Related.Kind, tx.Related.ID
	}

	err := ts.db.QueryRow(`
		INSERT INTO transactions
		(id, user_id, type, amount, currency, status, provider, provider_txn_id, related_kind, related_id, fees, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at
	`, tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Currency, tx.Status, tx.Provider, tx.ProviderTxnID,
		relatedKind, relatedID, tx.Fees, tx.Metadata).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, &StorageError{Op: "record transaction", Err: err}
	}

	ts.audit.LogTransaction(tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Status)
	return tx, nil
}

// GetAvailableBalance reads the balance aggregate through a single atomic
// SQL function call. Fetching rows and summing client-side is vulnerable to
// read skew under concurrent writers and is deliberately not done here.
func (ts *TransactionService) GetAvailableBalance(userID string) (*models.BalanceDetails, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "user_id is required"}
	}

	details := &models.BalanceDetails{}
	err := ts.db.QueryRow(`
		SELECT balance, pending_withdrawals, pending_investments, available_to_withdraw
		FROM get_user_balance_details($1)
	`, userID).Scan(&details.Balance, &details.PendingWithdrawals, &details.PendingInvestments, &details.AvailableToWithdraw)
	if err != nil {
		return nil, &StorageError{Op: "get_user_balance_details", Err: err}
	}
	return details, nil
}

// RequestWithdrawal reserves funds for a withdrawal through the atomic
// request_withdrawal SQL function. On insufficient funds the function
// rejects without creating a row.
func (ts *TransactionService) RequestWithdrawal(input *WithdrawalInput) (*models.Transaction, error) {
	if err := ts.validator.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	if input.Amount.LessThan(ts.limits.WithdrawalMinimum) {
		return nil, &ValidationError{
			Field:   "amount",
			Message: "minimum withdrawal is " + ts.limits.WithdrawalMinimum.StringFixed(2),
		}
	}

	tx := &models.Transaction{}
	var relatedKind, relatedID sql.NullString
	err := ts.db.QueryRow(`
		SELECT `+transactionColumns+`
		FROM request_withdrawal($1, $2, $3, $4, $5)
	`, input.UserID, input.Amount, strings.ToUpper(input.Currency), input.Provider, input.Metadata).Scan(
		&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Currency, &tx.Status, &tx.Provider, &tx.ProviderTxnID,
		&relatedKind, &relatedID, &tx.Fees, &tx.Metadata, &tx.Confirmation, &tx.CreatedAt, &tx.UpdatedAt, &tx.CompletedAt,
	)
	if err != nil {
		if insufficient := ts.mapInsufficientFunds(err, input.UserID, input.Amount); insufficient != nil {
			return nil, insufficient
		}
		return nil, &StorageError{Op: "request_withdrawal", Err: err}
	}
	if relatedKind.Valid {
		tx.Related = &models.RelatedObject{Kind: relatedKind.String, ID: relatedID.String}
	}

	ts.audit.LogTransaction(tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Status)
	return tx, nil
}

// UpdateTransactionStatus applies an idempotent status transition keyed by
// provider_txn_id (scoped to userID when given). A repeat delivery carrying
// the idempotency key already stored on the row, for the same target status,
// returns the existing row unchanged.
//
// When the transition completes an investment-type transaction, the linked
// investment is activated inside the same database transaction so a failure
// of either write rolls back both.
func (ts *TransactionService) UpdateTransactionStatus(userID, providerTxnID, newStatus string, confirm ConfirmationContext) (*models.Transaction, error) {
	if providerTxnID == "" {
		return nil, &ValidationError{Field: "provider_txn_id", Message: "provider_txn_id is required"}
	}
	if !models.ValidTransactionStatus(newStatus) {
		return nil, &ValidationError{Field: "status", Message: "unknown transaction status: " + newStatus}
	}
	if err := ts.validator.ValidateStruct(&confirm); err != nil {
		return nil, err
	}

	dbTx, err := ts.db.Begin()
	if err != nil {
		return nil, &StorageError{Op: "begin status update", Err: err}
	}
	defer dbTx.Rollback()

	tx, err := ts.lockTransactionTx(dbTx, userID, providerTxnID)
	if err != nil {
		return nil, err
	}

	// Idempotency guard: the same gateway event must never be applied twice.
	if tx.Confirmation != nil && confirm.IdempotencyKey != "" &&
		tx.Confirmation.IdempotencyKey == confirm.IdempotencyKey &&
		tx.Confirmation.Status == newStatus {
		log.Printf("[LEDGER] Duplicate confirmation for %s (key %s), returning existing row", providerTxnID, confirm.IdempotencyKey)
		return tx, nil
	}

	confirmation := &models.Confirmation{
		Source:         confirm.Source,
		Method:         confirm.Method,
		Note:           confirm.Note,
		Status:         newStatus,
		At:             time.Now().UTC(),
		IdempotencyKey: confirm.IdempotencyKey,
	}

	var completedAt *time.Time
	if newStatus == models.TxStatusCompleted {
		now := time.Now().UTC()
		completedAt = &now
	}

	err = dbTx.QueryRow(`
		UPDATE transactions
		SET status = $2, confirmation = $3, completed_at = COALESCE($4, completed_at), updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, tx.ID, newStatus, confirmation, completedAt).Scan(&tx.UpdatedAt)
	if err != nil {
		return nil, &StorageError{Op: "update transaction status", Err: err}
	}
	tx.Status = newStatus
	tx.Confirmation = confirmation
	if completedAt != nil {
		tx.CompletedAt = completedAt
	}

	// Cascade: a completed investment transaction activates its investment.
	if newStatus == models.TxStatusCompleted && tx.Type == models.TxTypeInvestment &&
		tx.Related != nil && tx.Related.Kind == "investment" {
		if err := ts.investments.activateForTransactionTx(dbTx, tx.Related.ID); err != nil {
			ts.audit.LogError(tx.ID, tx.UserID, err)
			return nil, err
		}
	}

	if err := dbTx.Commit(); err != nil {
		return nil, &StorageError{Op: "commit status update", Err: err}
	}

	ts.audit.LogConfirmation(tx.ID, confirm.Source, newStatus, confirm.IdempotencyKey)
	return tx, nil
}

func (ts *TransactionService) lockTransactionTx(dbTx *sql.Tx, userID, providerTxnID string) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE provider_txn_id = $1`
	args := []any{providerTxnID}
	if userID != "" {
		query += ` AND user_id = $2`
		args = append(args, userID)
	}
	query += ` FOR UPDATE`

	tx := &models.Transaction{}
	var relatedKind, relatedID sql.NullString
	err := dbTx.QueryRow(query, args...).Scan(
		&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Currency, &tx.Status, &tx.Provider, &tx.ProviderTxnID,
		&relatedKind, &relatedID, &tx.Fees, &tx.Metadata, &tx.Confirmation, &tx.CreatedAt, &tx.UpdatedAt, &tx.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "transaction", Key: providerTxnID}
	}
	if err != nil {
		return nil, &StorageError{Op: "load transaction", Err: err}
	}
	if relatedKind.Valid {
		tx.Related = &models.RelatedObject{Kind: relatedKind.String, ID: relatedID.String}
	}
	return tx, nil
}

func (ts *TransactionService) mapInsufficientFunds(err error, userID string, requested decimal.Decimal) *InsufficientFundsError {
	var pqErr *pq.Error
	isInsufficient := strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
	if errors.As(err, &pqErr) {
		isInsufficient = isInsufficient || (pqErr.Code == "P0001" && strings.Contains(strings.ToLower(pqErr.Message), "insufficient"))
	}
	if !isInsufficient {
		return nil
	}

	available := decimal.Zero
	if details, balErr := ts.GetAvailableBalance(userID); balErr == nil {
		available = details.AvailableToWithdraw
	}
	return &InsufficientFundsError{Requested: requested, Available: available}
}

// HTTP handlers

// GetBalance returns the caller's balance details
// @Summary Get available balance
// @Description Balance, reserved pending withdrawals/investments and available-to-withdraw
// @Tags transactions
// @Produce json
// @Success 200 {object} models.BalanceDetails
// @Failure 401 {object} ErrorResponse
// @Router /balance [get]
func (ts *TransactionService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	details, err := ts.GetAvailableBalance(userID)
	if err != nil {
		log.Printf("[LEDGER] Balance read failed for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}

// Deposit records a pending deposit awaiting gateway confirmation
// @Summary Initiate a deposit
// @Tags transactions
// @Accept json
// @Produce json
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Router /deposits [post]
func (ts *TransactionService) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req struct {
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
		Provider string          `json:"provider"`
	}
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	tx, err := ts.RecordTransaction(&RecordTransactionInput{
		UserID:        userID,
		Type:          models.TxTypeDeposit,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Provider:      req.Provider,
		ProviderTxnID: fmt.Sprintf("DEP-%s", uuid.NewString()),
	})
	if err != nil {
		SendServiceError(w, err)
		return
	}

	log.Printf("[LEDGER] Pending deposit %s recorded for user %s", tx.ProviderTxnID, userID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tx)
}

// Withdraw reserves funds for a withdrawal
// @Summary Request a withdrawal
// @Tags transactions
// @Accept json
// @Produce json
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Router /withdrawals [post]
func (ts *TransactionService) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var input WithdrawalInput
	if err := dec.Decode(&input); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	input.UserID = userID

	tx, err := ts.RequestWithdrawal(&input)
	if err != nil {
		log.Printf("[LEDGER] Withdrawal rejected for user %s: %v", userID, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tx)
}

// ListTransactions retrieves the caller's transactions with optional filters
// @Summary List transactions
// @Tags transactions
// @Produce json
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by type"
// @Param limit query int false "Max rows (default 50, max 100)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Router /transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	status := r.URL.Query().Get("status")
	txType := r.URL.Query().Get("type")
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	transactions, err := ts.fetchTransactions(userID, status, txType, limit)
	if err != nil {
		log.Printf("[LEDGER] List failed for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetTransaction retrieves one transaction by ledger ID or provider reference
// @Summary Get transaction
// @Tags transactions
// @Produce json
// @Param reference path string true "Transaction ID or provider reference"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{reference} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	reference := chi.URLParam(r, "reference")
	tx := &models.Transaction{}
	var relatedKind, relatedID sql.NullString
	err := ts.db.QueryRow(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1 AND (id = $2 OR provider_txn_id = $2)
		LIMIT 1
	`, userID, reference).Scan(
		&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Currency, &tx.Status, &tx.Provider, &tx.ProviderTxnID,
		&relatedKind, &relatedID, &tx.Fees, &tx.Metadata, &tx.Confirmation, &tx.CreatedAt, &tx.UpdatedAt, &tx.CompletedAt,
	)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[LEDGER] Failed to fetch transaction %s: %v", reference, err)
		SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		return
	}
	if relatedKind.Valid {
		tx.Related = &models.RelatedObject{Kind: relatedKind.String, ID: relatedID.String}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tx)
}

func (ts *TransactionService) fetchTransactions(userID, status, txType string, limit int) ([]models.Transaction, error) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}
	argIndex := 2

	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}
	if txType != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, txType)
		argIndex++
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at DESC`
	query += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := ts.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		tx := models.Transaction{}
		var relatedKind, relatedID sql.NullString
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Currency, &tx.Status, &tx.Provider, &tx.ProviderTxnID,
			&relatedKind, &relatedID, &tx.Fees, &tx.Metadata, &tx.Confirmation, &tx.CreatedAt, &tx.UpdatedAt, &tx.CompletedAt,
		); err != nil {
			return nil, err
		}
		if relatedKind.Valid {
			tx.Related = &models.RelatedObject{Kind: relatedKind.String, ID: relatedID.String}
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}
