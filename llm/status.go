package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrFromStatus maps an HTTP failure to the provider error taxonomy.
// The provider name and body keep the original detail for logs.
func ErrFromStatus(provider string, status int, body string) error {
	body = strings.TrimSpace(body)
	var kind error
	switch {
	case status == 401 || status == 403:
		kind = ErrUnauthorized
	case status == 429:
		kind = ErrRateLimited
	case status == 404 || status == 501:
		kind = ErrModelUnavailable
	case status == 408 || status == 504:
		kind = ErrTimeout
	case status >= 500:
		kind = ErrModelUnavailable
	default:
		kind = ErrMalformedResponse
	}
	return fmt.Errorf("%s http %d: %s: %w", provider, status, body, kind)
}

// WrapTransportErr classifies client-side failures (dial errors, deadline
// expiry) before they reach the caller.
func WrapTransportErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %v: %w", provider, err, ErrTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %v: %w", provider, err, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", provider, err)
}
