package api

import (
	"errors"
	"net/http"

	"metricgate/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
// Execution timeouts map to 504 so callers can distinguish them from engine
// failures (502) and retry with a smaller scope if they choose.
func httpStatusFromDomainError(err error) int {
	var validation *domain.ValidationError
	var planGen *domain.PlanGenerationError
	var execution *domain.ExecutionError
	var rateLimit *domain.RateLimitError
	var auth *domain.AuthError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.As(err, &rateLimit):
		return http.StatusTooManyRequests
	case errors.As(err, &planGen):
		return http.StatusBadGateway
	case errors.As(err, &execution):
		if execution.Kind == domain.ExecutionTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
