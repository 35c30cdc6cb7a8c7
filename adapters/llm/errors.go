package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Provider failure sentinels. Clients wrap them so callers can classify
// failures without reading provider text.
var (
	ErrRateLimited   = errors.New("llm: rate limited")
	ErrUnavailable   = errors.New("llm: service unavailable")
	ErrMisconfigured = errors.New("llm: misconfigured")
)

// Class is the coarse category of a failed model call
type Class int

const (
	ClassUnknown Class = iota
	ClassRateLimited
	ClassUnavailable
	ClassMisconfigured
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassUnavailable:
		return "unavailable"
	case ClassMisconfigured:
		return "misconfigured"
	default:
		return "unknown"
	}
}

// User-facing messages, one per class. Provider text never reaches the caller.
const (
	MsgRateLimited   = "I'm currently experiencing high demand. Please try again in a few moments."
	MsgUnavailable   = "AI service is temporarily unavailable. Please contact support if this persists."
	MsgMisconfigured = "AI service configuration error. Please contact support."
	MsgUnknown       = "I encountered an error processing your request. Please try again or contact support if this continues."
)

// Classify maps an error onto a Class. Sentinels win; otherwise the error text
// is matched against status codes and common provider phrasing.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrUnavailable):
		return ClassUnavailable
	case errors.Is(err, ErrMisconfigured):
		return ClassMisconfigured
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "rate"):
		return ClassRateLimited
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return ClassUnavailable
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized"):
		return ClassMisconfigured
	}
	return ClassUnknown
}

// SafeMessage returns the fixed message for err's class
func SafeMessage(err error) string {
	switch Classify(err) {
	case ClassRateLimited:
		return MsgRateLimited
	case ClassUnavailable:
		return MsgUnavailable
	case ClassMisconfigured:
		return MsgMisconfigured
	default:
		return MsgUnknown
	}
}

// APIError is a non-2xx provider response
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	sentinel   error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s api error: status=%d code=%s message=%s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error: status=%d message=%s", e.Provider, e.StatusCode, e.Message)
}

// Unwrap exposes the sentinel chosen from the status code
func (e *APIError) Unwrap() error {
	return e.sentinel
}

// newAPIError attaches the sentinel matching status
func newAPIError(provider string, status int, code, message string) *APIError {
	return &APIError{
		Provider:   provider,
		StatusCode: status,
		Code:       code,
		Message:    message,
		sentinel:   sentinelForStatus(status),
	}
}

func sentinelForStatus(status int) error {
	switch {
	case status == 429:
		return ErrRateLimited
	case status == 401 || status == 403:
		return ErrMisconfigured
	case status == 404 || status >= 500:
		return ErrUnavailable
	case status == 400:
		// bad request bodies come from our side: wrong model name, bad params
		return ErrMisconfigured
	}
	return nil
}
