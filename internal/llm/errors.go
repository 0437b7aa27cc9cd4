package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// ErrorType classifies provider errors for UI handling
type ErrorType string

const (
	ErrorTypeRateLimit          ErrorType = "rate_limit"          // 429
	ErrorTypeQuotaExceeded      ErrorType = "quota_exceeded"      // usage cap reached
	ErrorTypeInsufficientCredit ErrorType = "insufficient_credit" // 402
	ErrorTypeProviderDown       ErrorType = "provider_down"       // 5xx
	ErrorTypeAuth               ErrorType = "auth"                // 401
	ErrorTypeModeration         ErrorType = "moderation"          // 403
	ErrorTypeBadRequest         ErrorType = "bad_request"         // 400/404/422
	ErrorTypeUnknown            ErrorType = "unknown"
)

// ProviderError is a structured error returned by model clients.
type ProviderError struct {
	Type      ErrorType
	Provider  string
	Code      string
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s, %s)", e.Provider, e.Message, e.Type, e.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Type)
}

// IsProviderError checks if err is a ProviderError and returns it
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// NewProviderError creates a new ProviderError with the given parameters
func NewProviderError(provider string, errType ErrorType, code, message string) *ProviderError {
	return &ProviderError{
		Type:      errType,
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: errType == ErrorTypeRateLimit || errType == ErrorTypeProviderDown,
	}
}

// FromHTTPStatus builds a ProviderError from an HTTP status code.
func FromHTTPStatus(provider string, status int, message string) *ProviderError {
	if message == "" {
		message = http.StatusText(status)
	}
	return NewProviderError(provider, ClassifyStatus(status), strconv.Itoa(status), message)
}

// ClassifyStatus maps an HTTP status to an ErrorType.
func ClassifyStatus(status int) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusPaymentRequired:
		return ErrorTypeInsufficientCredit
	case status == http.StatusUnauthorized:
		return ErrorTypeAuth
	case status == http.StatusForbidden:
		return ErrorTypeModeration
	case status == http.StatusBadRequest, status == http.StatusNotFound, status == http.StatusUnprocessableEntity:
		return ErrorTypeBadRequest
	case status >= 500:
		return ErrorTypeProviderDown
	default:
		return ErrorTypeUnknown
	}
}
