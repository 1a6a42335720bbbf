package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(validationErr, &fieldErrs) {
			errorResp.Details = make(map[string]string)
			for _, err := range fieldErrs {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		} else {
			errorResp.Details = map[string]string{"message": validationErr.Error()}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendServiceError maps a typed service error onto the JSON error payload
// with the right status code. Storage internals are never leaked to the
// caller.
func SendServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr   *ValidationError
		fundsErr        *InsufficientFundsError
		notFoundErr     *NotFoundError
		fieldValidation validator.ValidationErrors
	)

	switch {
	case errors.As(err, &validationErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		resp := ErrorResponse{Error: validationErr.Message}
		if validationErr.Field != "" {
			resp.Details = map[string]string{validationErr.Field: validationErr.Message}
		}
		json.NewEncoder(w).Encode(resp)
	case errors.As(err, &fieldValidation):
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
	case errors.As(err, &fundsErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error":     "Insufficient funds",
			"requested": fundsErr.Requested.StringFixed(2),
			"available": fundsErr.Available.StringFixed(2),
		})
	case errors.As(err, &notFoundErr):
		SendErrorResponse(w, notFoundErr.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrConcurrencyConflict):
		SendErrorResponse(w, "Conflicting update in progress", http.StatusConflict, nil)
	default:
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
