package transport

import (
	"errors"
	"net/http"

	"aquastore/internal/middleware"
	"aquastore/internal/repository"
	"aquastore/internal/service"

	"go.uber.org/zap"
)

// respondServiceError maps service and repository errors onto HTTP responses.
// Validation problems come back as 400 with per-field details; stock and
// status conflicts as 409; missing records as 404. Anything unexpected is
// logged and reported as a bare 500.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		fieldErrors := make([]middleware.ValidationError, 0, len(verr.Fields))
		for field, message := range verr.Fields {
			fieldErrors = append(fieldErrors, middleware.ValidationError{
				Field:   field,
				Message: message,
			})
		}
		middleware.RespondWithValidationErrors(w, fieldErrors)
		return
	}

	var stockErr *repository.InsufficientStockError
	if errors.As(err, &stockErr) {
		middleware.RespondWithError(w, http.StatusConflict, stockErr.Error())
		return
	}

	var transitionErr *repository.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		middleware.RespondWithError(w, http.StatusConflict, transitionErr.Error())
		return
	}

	switch {
	case errors.Is(err, repository.ErrProductNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, repository.ErrOrderNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, repository.ErrNotificationNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "notification not found")
	case errors.Is(err, repository.ErrUserNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "user not found")
	default:
		logger.Error("Unhandled service error", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}
