package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the gateway's failure taxonomy. Rate-limit, nonce and
// network failures are recoverable and retried with backoff; authentication
// failures and any other exchange-reported error abort the fetch.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrInvalidNonce   = errors.New("invalid nonce")
	ErrNetwork        = errors.New("network failure")
)

// APIError carries the exchange's own error strings alongside the endpoint
// that produced them.
type APIError struct {
	Endpoint string
	Messages []string
	wrapped  error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kraken API error on %s: %s", e.Endpoint, strings.Join(e.Messages, "; "))
}

func (e *APIError) Unwrap() error { return e.wrapped }

// classifyAPIError maps the error strings Kraken returns in its response
// envelope onto the gateway taxonomy.
func classifyAPIError(endpoint string, messages []string) error {
	joined := strings.Join(messages, "; ")
	apiErr := &APIError{Endpoint: endpoint, Messages: messages}

	switch {
	case strings.Contains(joined, "EAPI:Rate limit exceeded"),
		strings.Contains(joined, "EService:Busy"):
		apiErr.wrapped = ErrRateLimited
	case strings.Contains(joined, "EAPI:Invalid nonce"):
		apiErr.wrapped = ErrInvalidNonce
	case strings.Contains(joined, "EAPI:Invalid key"),
		strings.Contains(joined, "EAPI:Invalid signature"),
		strings.Contains(joined, "EGeneral:Permission denied"):
		apiErr.wrapped = ErrAuthentication
	}
	return apiErr
}

// IsRecoverable reports whether an error is worth retrying with backoff.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrInvalidNonce) ||
		errors.Is(err, ErrNetwork)
}
