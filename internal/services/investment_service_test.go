package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/propvest/backend/internal/config"
	"github.com/propvest/backend/internal/models"
)

func investmentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "amount_invested", "investment_type", "roi_rate", "sanity_id", "status",
		"start_date", "end_date", "duration_months", "roi_amount", "created_at", "updated_at",
	})
}

func TestInvestmentService_CreateInvestment(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewInvestmentService(db, config.LoadInvestmentLimits())

	t.Run("reserves funds and creates a pending investment", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("FROM reserve_funds_for_investment").
			WillReturnRows(investmentRows().
				AddRow("inv-1", "user1", "500.00", "property", "12.5", "prop-1", "pending",
					now, nil, 0, "0", now, now))

		inv, err := service.CreateInvestment(&CreateInvestmentInput{
			UserID:         "user1",
			Amount:         decimal.NewFromInt(500),
			InvestmentType: models.InvestmentTypeProperty,
			ROIRate:        decimal.NewFromFloat(12.5),
			SanityID:       "prop-1",
		})
		assert.NoError(t, err)
		assert.Equal(t, models.InvestmentStatusPending, inv.Status)
		assert.Equal(t, "500.00", inv.AmountInvested.StringFixed(2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("enforces the property floor", func(t *testing.T) {
		_, err := service.CreateInvestment(&CreateInvestmentInput{
			UserID:         "user1",
			Amount:         decimal.NewFromInt(50),
			InvestmentType: models.InvestmentTypeProperty,
			SanityID:       "prop-1",
		})
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Equal(t, "amount", vErr.Field)
		assert.Contains(t, vErr.Message, "100.00")
	})

	t.Run("enforces the crypto floor", func(t *testing.T) {
		_, err := service.CreateInvestment(&CreateInvestmentInput{
			UserID:         "user1",
			Amount:         decimal.NewFromInt(20),
			InvestmentType: models.InvestmentTypeCrypto,
			SanityID:       "btc-1",
		})
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Message, "50.00")
	})

	t.Run("plan minimum overrides the default floor", func(t *testing.T) {
		_, err := service.CreateInvestment(&CreateInvestmentInput{
			UserID:         "user1",
			Amount:         decimal.NewFromInt(200),
			InvestmentType: models.InvestmentTypePlan,
			SanityID:       "plan-1",
			DurationMonths: 12,
			PlanMinimum:    decimal.NewFromInt(500),
		})
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Message, "500.00")
	})

	t.Run("plans require a duration", func(t *testing.T) {
		_, err := service.CreateInvestment(&CreateInvestmentInput{
			UserID:         "user1",
			Amount:         decimal.NewFromInt(100),
			InvestmentType: models.InvestmentTypePlan,
			SanityID:       "plan-1",
		})
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Equal(t, "duration_months", vErr.Field)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := service.CreateInvestment(&CreateInvestmentInput{
			UserID:         "user1",
			Amount:         decimal.Zero,
			InvestmentType: models.InvestmentTypeCrypto,
			SanityID:       "btc-1",
		})
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Equal(t, "amount", vErr.Field)
	})

	t.Run("maps the atomic rejection to insufficient funds", func(t *testing.T) {
		mock.ExpectQuery("FROM reserve_funds_for_investment").
			WillReturnError(&pq.Error{Code: "P0001", Message: "Insufficient funds: available 100, requested 500"})
		mock.ExpectQuery("FROM get_user_balance_details").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "pending_withdrawals", "pending_investments", "available_to_withdraw"}).
				AddRow("100", "0", "0", "100"))

		_, err := service.CreateInvestment(&CreateInvestmentInput{
			UserID:         "user1",
			Amount:         decimal.NewFromInt(500),
			InvestmentType: models.InvestmentTypeProperty,
			SanityID:       "prop-1",
		})
		var fundsErr *InsufficientFundsError
		assert.ErrorAs(t, err, &fundsErr)
		assert.Equal(t, "500.00", fundsErr.Requested.StringFixed(2))
		assert.Equal(t, "100.00", fundsErr.Available.StringFixed(2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInvestmentService_UpdateInvestmentStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewInvestmentService(db, config.LoadInvestmentLimits())

	t.Run("activates a pending investment", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("UPDATE investments SET status = \\$2").
			WithArgs("inv-1", "active").
			WillReturnRows(investmentRows().
				AddRow("inv-1", "user1", "500.00", "property", "12.5", "prop-1", "active",
					now, nil, 0, "0", now, now))

		inv, err := service.ActivateInvestment("inv-1")
		assert.NoError(t, err)
		assert.Equal(t, models.InvestmentStatusActive, inv.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("investment not found", func(t *testing.T) {
		mock.ExpectQuery("UPDATE investments SET status = \\$2").
			WithArgs("missing", "active").
			WillReturnError(sql.ErrNoRows)

		_, err := service.ActivateInvestment("missing")
		var nfErr *NotFoundError
		assert.ErrorAs(t, err, &nfErr)
		assert.Equal(t, "investment", nfErr.Entity)
	})

	t.Run("rejects an unknown status", func(t *testing.T) {
		_, err := service.UpdateInvestmentStatus("inv-1", "matured")
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Equal(t, "status", vErr.Field)
	})
}

func TestInvestmentService_CompleteInvestment(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewInvestmentService(db, config.LoadInvestmentLimits())

	t.Run("stamps the final roi at term", func(t *testing.T) {
		start := time.Now().AddDate(-1, 0, 0)
		end := time.Now()
		mock.ExpectQuery("FROM investments WHERE id = \\$1").
			WithArgs("inv-1").
			WillReturnRows(investmentRows().
				AddRow("inv-1", "user1", "1000.00", "plan", "12", "plan-1", "active",
					start, nil, 12, "0", start, start))
		mock.ExpectQuery("UPDATE investments SET status = \\$2").
			WithArgs("inv-1", "completed", sqlmock.AnyArg()).
			WillReturnRows(investmentRows().
				AddRow("inv-1", "user1", "1000.00", "plan", "12", "plan-1", "completed",
					start, end, 12, "126.83", start, end))

		inv, err := service.CompleteInvestment("inv-1")
		assert.NoError(t, err)
		assert.Equal(t, models.InvestmentStatusCompleted, inv.Status)
		assert.Equal(t, "126.83", inv.ROIAmount.StringFixed(2))
		assert.NotNil(t, inv.EndDate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInvestmentService_ActivateForTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewInvestmentService(db, config.LoadInvestmentLimits())

	t.Run("flips pending to active", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE investments SET status = \\$2").
			WithArgs("inv-1", "active", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.activateForTransactionTx(tx, "inv-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("an already active investment is an idempotent replay", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE investments SET status = \\$2").
			WithArgs("inv-1", "active", "pending").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM investments").
			WithArgs("inv-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))

		err := service.activateForTransactionTx(tx, "inv-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing investment", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE investments SET status = \\$2").
			WithArgs("missing", "active", "pending").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM investments").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		err := service.activateForTransactionTx(tx, "missing")
		var nfErr *NotFoundError
		assert.ErrorAs(t, err, &nfErr)
	})

	t.Run("unexpected state is a conflict", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE investments SET status = \\$2").
			WithArgs("inv-1", "active", "pending").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM investments").
			WithArgs("inv-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("cancelled"))

		err := service.activateForTransactionTx(tx, "inv-1")
		assert.ErrorIs(t, err, ErrConcurrencyConflict)
	})
}
