package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"taigabridge/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteDomainError maps service errors to responses. Missing and expired sessions share
// one generic 401 so callers cannot tell which tokens once existed.
func WriteDomainError(w http.ResponseWriter, err error) {
	var (
		validationErr *domain.ValidationError
		rateErr       *domain.RateLimitedError
		capErr        *domain.ConcurrencyLimitError
	)
	switch {
	case errors.As(err, &validationErr):
		WriteJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{
			Code:    "validation_error",
			Message: "invalid request",
			Fields:  validationErr.Fields,
		}})
	case errors.Is(err, domain.ErrValidation):
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid request")
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds()))
		WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many failed login attempts")
	case errors.Is(err, domain.ErrRateLimited):
		WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many failed login attempts")
	case errors.As(err, &capErr):
		WriteError(w, http.StatusConflict, "concurrency_limit_exceeded", capErr.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid login or password")
	case domain.IsUnauthenticated(err):
		WriteError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	case errors.Is(err, domain.ErrInsecureUpstream):
		WriteError(w, http.StatusBadRequest, "insecure_upstream", "taiga host must use https")
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrUpstream):
		WriteError(w, http.StatusBadGateway, "upstream_error", "taiga request failed")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
