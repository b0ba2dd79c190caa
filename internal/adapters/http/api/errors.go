package api

import (
	"errors"
	"net/http"

	"github.com/okian/greenpoints/internal/adapters/wallet"
	"github.com/okian/greenpoints/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("rate limited")
	ErrPayload     = errors.New("payload too large")
)

// Error tags a failure with the handler operation and a sentinel kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WrapKind wraps err under kind for operation op.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewKind returns a bare kind error for operation op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// classify maps an error to its HTTP status and machine-readable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, ErrPayload):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, model.ErrAuthentication), errors.Is(err, wallet.ErrInvalidPassword):
		return http.StatusForbidden, "authentication_failed"
	case errors.Is(err, wallet.ErrNotFound), errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrDuplicateSubmission):
		return http.StatusConflict, "duplicate_submission"
	case errors.Is(err, model.ErrInvalidItem):
		return http.StatusBadRequest, "invalid_item"
	case errors.Is(err, model.ErrNoEligibleAccounts):
		return http.StatusBadRequest, "no_eligible_accounts"
	case errors.Is(err, model.ErrInvalidArgument), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
