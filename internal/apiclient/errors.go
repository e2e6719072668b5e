package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	dErrors "tradax/pkg/domain-errors"
)

// NetworkMessage is the human-readable message carried by every network error.
const NetworkMessage = "Network error: Please check your internet connection"

// HTTPError is returned when the backend answered with a non-2xx status.
// Message is the best human-readable explanation extracted from the body.
type HTTPError struct {
	Client     string
	Method     string
	Path       string
	StatusCode int
	Status     string
	Message    string
	Body       []byte
}

// Error returns the extracted message only, so it can be shown to the user as is.
func (e *HTTPError) Error() string {
	return e.Message
}

// Unauthorized reports a 401, the signal that the session needs re-authentication.
func (e *HTTPError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// AsHTTPError extracts an *HTTPError from err's chain.
func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// IsNetwork reports whether err is a transport-level failure rather than a
// response from the server.
func IsNetwork(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeNetwork)
}

// IsTimeout reports whether a network failure was caused by a deadline.
func IsTimeout(err error) bool {
	if !IsNetwork(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsRetryable is a hint for callers that implement their own retry policy.
// The client itself never retries. Network failures, 429 and 502-504 qualify;
// callers must still decide whether the request is safe to repeat (GET is,
// login and trade are not).
func IsRetryable(err error) bool {
	if IsNetwork(err) {
		return !errors.Is(err, context.Canceled)
	}
	he, ok := AsHTTPError(err)
	if !ok {
		return false
	}
	switch he.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func networkError(client string, err error) error {
	return &dErrors.Error{
		Code:    dErrors.CodeNetwork,
		Message: NetworkMessage,
		Err:     fmt.Errorf("%s: %w", client, err),
	}
}
