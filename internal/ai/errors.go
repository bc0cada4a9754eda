package ai

import (
	"context"
	"errors"
)

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrRateLimited         = errors.New("ai provider rate limited")
	// ErrRejected is a 4xx from the provider: bad request, bad credentials.
	ErrRejected = errors.New("ai provider rejected request")
	// ErrUnsupported means the provider has no model for the capability.
	ErrUnsupported = errors.New("ai capability not supported by provider")
)

// Retryable reports whether a provider error may succeed on another attempt.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrRejected), errors.Is(err, ErrUnsupported):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// ClassifyStatus maps an HTTP status from a provider to a sentinel.
func ClassifyStatus(code int) error {
	switch {
	case code == 429:
		return ErrRateLimited
	case code == 408 || code == 504:
		return ErrInferenceTimeout
	case code >= 500:
		return ErrProviderUnavailable
	case code >= 400:
		return ErrRejected
	}
	return nil
}
