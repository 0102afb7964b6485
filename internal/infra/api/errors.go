package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"paywall-access/internal/domain"
)

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	Field      string `json:"field,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the domain error taxonomy onto HTTP. Order matters: a signature
// failure is also a conflict, and must read as 401.
func statusFor(err error) (int, errorBody) {
	var (
		ve *domain.ValidationError
		rl *domain.RateLimitError
	)
	switch {
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many requests", RetryAfter: rl.RetryAfterSeconds()}
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorBody{Error: "validation", Message: ve.Reason, Field: ve.Field}
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, errorBody{Error: "validation", Message: "invalid argument"}
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, errorBody{Error: "unauthenticated"}
	case errors.Is(err, domain.ErrSignatureMismatch):
		return http.StatusUnauthorized, errorBody{Error: "signature_mismatch", Message: "payment signature could not be verified"}
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden, errorBody{Error: "access_denied", Message: "no active access to this resource"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found"}
	case errors.Is(err, domain.ErrNotPurchasable):
		return http.StatusConflict, errorBody{Error: "not_purchasable", Message: "resource is not available for purchase"}
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, errorBody{Error: "conflict", Message: "purchase state conflict"}
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, errorBody{Error: "upstream", Message: "payment or storage provider unavailable, retry later"}
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, errorBody{Error: "rate_limited", RetryAfter: 1}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal error"}
}

func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	status, body := statusFor(err)
	switch status {
	case http.StatusTooManyRequests:
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	case http.StatusBadGateway:
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, body)
}
