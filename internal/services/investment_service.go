package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/propvest/backend/internal/audit"
	"github.com/propvest/backend/internal/config"
	"github.com/propvest/backend/internal/models"
)

type InvestmentService struct {
	db        *sql.DB
	limits    *config.InvestmentLimits
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewInvestmentService(db *sql.DB, limits *config.InvestmentLimits) *InvestmentService {
	if limits == nil {
		limits = config.LoadInvestmentLimits()
	}
	return &InvestmentService{
		db:        db,
		limits:    limits,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

type CreateInvestmentInput struct {
	UserID         string          `json:"user_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	InvestmentType string          `json:"investment_type" validate:"required,oneof=crypto property plan"`
	ROIRate        decimal.Decimal `json:"roi_rate"`
	SanityID       string          `json:"sanity_id" validate:"required"`
	DurationMonths int             `json:"duration_months"`
	PlanMinimum    decimal.Decimal `json:"plan_minimum"`
}

const investmentColumns = `id, user_id, amount_invested, investment_type, roi_rate, sanity_id, status,
	       start_date, end_date, duration_months, roi_amount, created_at, updated_at`

// CreateInvestment reserves funds and creates the investment in one atomic
// call to reserve_funds_for_investment. The balance check and the insert
// happen inside the SQL function; two concurrent requests cannot both pass
// the check.
func (s *InvestmentService) CreateInvestment(input *CreateInvestmentInput) (*models.Investment, error) {
	if err := s.validator.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	if input.ROIRate.IsNegative() {
		return nil, &ValidationError{Field: "roi_rate", Message: "rate cannot be negative"}
	}
	if input.InvestmentType == models.InvestmentTypePlan && input.DurationMonths <= 0 {
		return nil, &ValidationError{Field: "duration_months", Message: "duration_months is required for plan investments"}
	}

	// Policy floor is a pre-check so too-small requests fail fast without
	// consuming a round-trip to the atomic layer.
	min := s.limits.MinimumFor(input.InvestmentType, input.PlanMinimum)
	if input.Amount.LessThan(min) {
		return nil, &ValidationError{
			Field:   "amount",
			Message: "minimum investment for " + input.InvestmentType + " is " + min.StringFixed(2),
		}
	}

	inv := &models.Investment{}
	err := s.db.QueryRow(`
		SELECT `+investmentColumns+`
		FROM reserve_funds_for_investment($1, $2, $3, $4, $5, $6)
	`, input.UserID, input.Amount, input.InvestmentType, input.ROIRate, input.SanityID, input.DurationMonths).Scan(
		&inv.ID, &inv.UserID, &inv.AmountInvested, &inv.InvestmentType, &inv.ROIRate, &inv.SanityID,
		&inv.Status, &inv.StartDate, &inv.EndDate, &inv.DurationMonths, &inv.ROIAmount,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if insufficient := s.mapInsufficientFunds(err, input.UserID, input.Amount); insufficient != nil {
			return nil, insufficient
		}
		return nil, &StorageError{Op: "reserve_funds_for_investment", Err: err}
	}

	s.audit.LogReservation(inv.ID, inv.UserID, inv.AmountInvested, inv.InvestmentType)
	return inv, nil
}

// UpdateInvestmentStatus is a guarded single-row update. It does not contend
// for shared balance state the way creation does.
func (s *InvestmentService) UpdateInvestmentStatus(id, status string) (*models.Investment, error) {
	if !models.ValidInvestmentStatus(status) {
		return nil, &ValidationError{Field: "status", Message: "unknown investment status: " + status}
	}

	inv := &models.Investment{}
	err := s.db.QueryRow(`
		UPDATE investments
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+investmentColumns+`
	`, id, status).Scan(
		&inv.ID, &inv.UserID, &inv.AmountInvested, &inv.InvestmentType, &inv.ROIRate, &inv.SanityID,
		&inv.Status, &inv.StartDate, &inv.EndDate, &inv.DurationMonths, &inv.ROIAmount,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "investment", Key: id}
	}
	if err != nil {
		return nil, &StorageError{Op: "update investment status", Err: err}
	}
	return inv, nil
}

// ActivateInvestment moves a pending investment to active on payment
// confirmation.
func (s *InvestmentService) ActivateInvestment(id string) (*models.Investment, error) {
	return s.UpdateInvestmentStatus(id, models.InvestmentStatusActive)
}

// CompleteInvestment closes out a matured investment, stamping the final ROI
// and the end date.
func (s *InvestmentService) CompleteInvestment(id string) (*models.Investment, error) {
	inv, err := s.getInvestment(id)
	if err != nil {
		return nil, err
	}

	months := inv.DurationMonths
	if months <= 0 {
		// Open-ended investments settle at their elapsed value.
		current, roiErr := CalculateCurrentROI(inv, time.Now())
		if roiErr != nil {
			return nil, roiErr
		}
		months = current.MonthsElapsed
	}

	projection, err := CalculateProjectedReturns(inv.AmountInvested, inv.ROIRate, maxInt(months, 1), CompoundMonthly)
	if err != nil {
		return nil, err
	}

	updated := &models.Investment{}
	err = s.db.QueryRow(`
		UPDATE investments
		SET status = $2, roi_amount = $3, end_date = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING `+investmentColumns+`
	`, id, models.InvestmentStatusCompleted, projection.ROIAmount).Scan(
		&updated.ID, &updated.UserID, &updated.AmountInvested, &updated.InvestmentType, &updated.ROIRate,
		&updated.SanityID, &updated.Status, &updated.StartDate, &updated.EndDate, &updated.DurationMonths,
		&updated.ROIAmount, &updated.CreatedAt, &updated.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "investment", Key: id}
	}
	if err != nil {
		return nil, &StorageError{Op: "complete investment", Err: err}
	}
	return updated, nil
}

// activateForTransactionTx flips a pending investment to active inside the
// caller's database transaction. This is the cascade leg of a completed
// investment-type ledger transaction; running it on the same *sql.Tx means a
// failure of either write rolls back both.
func (s *InvestmentService) activateForTransactionTx(tx *sql.Tx, id string) error {
	result, err := tx.Exec(`
		UPDATE investments
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.InvestmentStatusActive, models.InvestmentStatusPending)
	if err != nil {
		return &StorageError{Op: "activate investment", Err: err}
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return &StorageError{Op: "activate investment", Err: err}
	}
	if rows == 1 {
		return nil
	}

	// Zero rows: either the investment is already active (an idempotent
	// replay) or it does not exist.
	var status string
	err = tx.QueryRow(`SELECT status FROM investments WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return &NotFoundError{Entity: "investment", Key: id}
	}
	if err != nil {
		return &StorageError{Op: "activate investment", Err: err}
	}
	if status == models.InvestmentStatusActive || status == models.InvestmentStatusCompleted {
		return nil
	}
	return ErrConcurrencyConflict
}

func (s *InvestmentService) getInvestment(id string) (*models.Investment, error) {
	inv := &models.Investment{}
	err := s.db.QueryRow(`
		SELECT `+investmentColumns+`
		FROM investments
		WHERE id = $1
	`, id).Scan(
		&inv.ID, &inv.UserID, &inv.AmountInvested, &inv.InvestmentType, &inv.ROIRate, &inv.SanityID,
		&inv.Status, &inv.StartDate, &inv.EndDate, &inv.DurationMonths, &inv.ROIAmount,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "investment", Key: id}
	}
	if err != nil {
		return nil, &StorageError{Op: "get investment", Err: err}
	}
	return inv, nil
}

// mapInsufficientFunds recognizes the rejection raised by the atomic
// reservation functions. The follow-up balance read is for error detail
// only, never for gating.
func (s *InvestmentService) mapInsufficientFunds(err error, userID string, requested decimal.Decimal) *InsufficientFundsError {
	var pqErr *pq.Error
	isInsufficient := strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
	if errors.As(err, &pqErr) {
		isInsufficient = isInsufficient || (pqErr.Code == "P0001" && strings.Contains(strings.ToLower(pqErr.Message), "insufficient"))
	}
	if !isInsufficient {
		return nil
	}

	available := decimal.Zero
	var details models.BalanceDetails
	row := s.db.QueryRow(`
		SELECT balance, pending_withdrawals, pending_investments, available_to_withdraw
		FROM get_user_balance_details($1)
	`, userID)
	if scanErr := row.Scan(&details.Balance, &details.PendingWithdrawals, &details.PendingInvestments, &details.AvailableToWithdraw); scanErr == nil {
		available = details.AvailableToWithdraw
	}

	return &InsufficientFundsError{Requested: requested, Available: available}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// HTTP handlers

// CreateInvestmentHandler creates an investment for the authenticated user
// @Summary Create an investment
// @Description Atomically reserve funds and create an investment
// @Tags investments
// @Accept json
// @Produce json
// @Success 201 {object} models.Investment
// @Failure 400 {object} ErrorResponse
// @Router /investments [post]
func (s *InvestmentService) CreateInvestmentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var input CreateInvestmentInput
	if err := dec.Decode(&input); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	input.UserID = userID

	inv, err := s.CreateInvestment(&input)
	if err != nil {
		log.Printf("[INVESTMENT] Create failed for user %s: %v", userID, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(inv)
}

// GetInvestmentHandler retrieves one investment owned by the caller
// @Summary Get investment by ID
// @Tags investments
// @Produce json
// @Success 200 {object} models.Investment
// @Failure 404 {object} ErrorResponse
// @Router /investments/{id} [get]
func (s *InvestmentService) GetInvestmentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	id := chi.URLParam(r, "id")
	inv, err := s.getInvestment(id)
	if err != nil {
		SendServiceError(w, err)
		return
	}
	if inv.UserID != userID {
		SendErrorResponse(w, "investment not found: "+id, http.StatusNotFound, nil)
		return
	}

	// Valuation rides along for active investments.
	response := map[string]any{"investment": inv}
	if inv.Status == models.InvestmentStatusActive {
		if roi, roiErr := CalculateCurrentROI(inv, time.Now()); roiErr == nil {
			response["roi"] = roi
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ListInvestmentsHandler lists the caller's investments
// @Summary List investments
// @Tags investments
// @Produce json
// @Param status query string false "Filter by status"
// @Success 200 {object} object{investments=[]models.Investment,count=int}
// @Router /investments [get]
func (s *InvestmentService) ListInvestmentsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	status := r.URL.Query().Get("status")
	query := `
		SELECT ` + investmentColumns + `
		FROM investments
		WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT 100`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[INVESTMENT] List failed for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch investments", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	investments := []models.Investment{}
	for rows.Next() {
		var inv models.Investment
		if err := rows.Scan(
			&inv.ID, &inv.UserID, &inv.AmountInvested, &inv.InvestmentType, &inv.ROIRate, &inv.SanityID,
			&inv.Status, &inv.StartDate, &inv.EndDate, &inv.DurationMonths, &inv.ROIAmount,
			&inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			SendErrorResponse(w, "Failed to fetch investments", http.StatusInternalServerError, nil)
			return
		}
		investments = append(investments, inv)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"investments": investments,
		"count":       len(investments),
	})
}
