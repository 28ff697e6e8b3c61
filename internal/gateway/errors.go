package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingCredential  = errors.New("missing client_key or secret_key")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrCredentialInactive = errors.New("credential is inactive")
	ErrCredentialExpired  = errors.New("credential expired")
	ErrIPNotAllowed       = errors.New("ip not allowed")
	ErrRouteNotAllowed    = errors.New("route not allowed for this credential")
	ErrRateLimited        = errors.New("too many requests")
	ErrUpstreamStore      = errors.New("upstream store error")
)

// InactiveError reports a credential whose status is not active.
type InactiveError struct {
	Status Status
}

func (e *InactiveError) Error() string {
	return fmt.Sprintf("credential is %s", e.Status)
}

func (e *InactiveError) Unwrap() error {
	return ErrCredentialInactive
}

func upstream(store string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstreamStore, store, err)
}

// StatusCode maps a gateway error onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, ErrCredentialInactive), errors.Is(err, ErrCredentialExpired),
		errors.Is(err, ErrIPNotAllowed), errors.Is(err, ErrRouteNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for err. Upstream failures are not
// described to the client.
func Message(err error) string {
	var inactive *InactiveError
	switch {
	case errors.As(err, &inactive):
		return "Credential is " + string(inactive.Status)
	case errors.Is(err, ErrMissingCredential):
		return "Missing client_key or secret_key"
	case errors.Is(err, ErrInvalidCredential):
		return "Invalid credential"
	case errors.Is(err, ErrCredentialInactive):
		return "Credential is inactive"
	case errors.Is(err, ErrCredentialExpired):
		return "Credential expired"
	case errors.Is(err, ErrIPNotAllowed):
		return "IP not allowed"
	case errors.Is(err, ErrRouteNotAllowed):
		return "Route not allowed for this credential"
	case errors.Is(err, ErrRateLimited):
		return "Too Many Requests"
	default:
		return "Internal server error"
	}
}

// Outcome is the short label used for metrics and decision events.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrCredentialInactive):
		return "credential_inactive"
	case errors.Is(err, ErrCredentialExpired):
		return "credential_expired"
	case errors.Is(err, ErrIPNotAllowed):
		return "ip_not_allowed"
	case errors.Is(err, ErrRouteNotAllowed):
		return "route_not_allowed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "upstream_error"
	}
}
