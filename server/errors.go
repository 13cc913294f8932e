package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/blockberries/lockberry/engine"
	"github.com/blockberries/lockberry/types"
)

// Request errors
var (
	ErrMissingCaller = errors.New("missing X-Caller header")
	ErrForbidden     = errors.New("caller may not act for this account")
	ErrBadRequest    = errors.New("malformed request")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrClientTime    = fmt.Errorf("%w: client supplied time is not accepted", ErrBadRequest)
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingCaller):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden),
		errors.Is(err, types.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, types.ErrZeroAmount),
		errors.Is(err, types.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNothingToSettle),
		errors.Is(err, types.ErrShutdown),
		errors.Is(err, types.ErrAlreadyShutdown),
		errors.Is(err, types.ErrTimeRegression):
		return http.StatusConflict
	case errors.Is(err, types.ErrOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, RequestID: requestID(r.Context())})
}
