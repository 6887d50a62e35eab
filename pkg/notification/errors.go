package notification

import (
	"errors"
	"fmt"
)

// ConfigurationError means a dispatcher is not ready to send: a credential, a
// certificate path or an endpoint is missing or invalid. It is raised before any I/O.
type ConfigurationError struct {
	Provider string
	Field    string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] invalid configuration %q: %v", e.Provider, e.Field, e.Err)
	}
	return fmt.Sprintf("[%s] invalid configuration %q", e.Provider, e.Field)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ValidationError rejects a device token or a raw payload the provider cannot accept.
type ValidationError struct {
	Provider string
	Device   string
	Msg      string
}

func (e *ValidationError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("[%s] invalid device-token %s: %s", e.Provider, e.Device, e.Msg)
	}
	return fmt.Sprintf("[%s] %s", e.Provider, e.Msg)
}

// RequestError is a transport-level failure: the request never produced a parsed
// provider response (connect, write, TLS, or a non-success HTTP status with no body
// we understand).
type RequestError struct {
	Provider   string
	Device     string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] request failed with status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("[%s] request failed: %v", e.Provider, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ResponseError means the provider answered, but with a failure shape we do not
// recognise.
type ResponseError struct {
	Provider   string
	StatusCode int
	Msg        string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("[%s] unexpected response (status %d): %s", e.Provider, e.StatusCode, e.Msg)
}

// ResponseReasonError carries a recognised provider failure reason.
type ResponseReasonError struct {
	Provider   string
	Reason     Reason
	StatusCode int
}

// NewResponseReasonError normalises the raw reason into the closed taxonomy.
func NewResponseReasonError(provider, reason string, statusCode int) *ResponseReasonError {
	return &ResponseReasonError{
		Provider:   provider,
		Reason:     ParseReason(reason),
		StatusCode: statusCode,
	}
}

func (e *ResponseReasonError) Error() string {
	return fmt.Sprintf("[%s] request failed with reason [%d]: %s", e.Provider, e.StatusCode, e.Reason)
}

func (e *ResponseReasonError) IsInvalidDeviceToken() bool { return e.Reason.IsInvalidDeviceToken() }
func (e *ResponseReasonError) IsRateLimited() bool        { return e.Reason.IsRateLimited() }

// ProtocolViolationError means the response is structurally inconsistent with the
// request, e.g. FCM reporting results for a different number of devices.
type ProtocolViolationError struct {
	Provider string
	Msg      string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("[%s] protocol violation: %s", e.Provider, e.Msg)
}

// AuthError is a failed OAuth token exchange.
type AuthError struct {
	Provider    string
	Code        string
	Description string
	Err         error
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] authorization failed [%s] - %s", e.Provider, e.Code, e.Description)
	}
	return fmt.Sprintf("[%s] authorization failed: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Class is the coarse classification callers act on.
type Class string

const (
	ClassNone         Class = ""
	ClassInvalidToken Class = "invalid-token"
	ClassRateLimited  Class = "rate-limited"
	ClassTransient    Class = "transient"
	ClassFatal        Class = "fatal"
)

// Classify maps any dispatch error onto a Class. A nil error is ClassNone.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var reasonErr *ResponseReasonError
	if errors.As(err, &reasonErr) {
		switch {
		case reasonErr.IsInvalidDeviceToken():
			return ClassInvalidToken
		case reasonErr.IsRateLimited():
			return ClassRateLimited
		case reasonErr.Reason.IsTransient():
			return ClassTransient
		}
		return ClassFatal
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) && validationErr.Device != "" {
		return ClassInvalidToken
	}

	var requestErr *RequestError
	if errors.As(err, &requestErr) {
		return ClassTransient
	}
	return ClassFatal
}

// IsInvalidDeviceToken reports whether err says the device token is dead.
func IsInvalidDeviceToken(err error) bool {
	return Classify(err) == ClassInvalidToken
}

// IsRateLimited reports whether err is a provider throttling response.
func IsRateLimited(err error) bool {
	return Classify(err) == ClassRateLimited
}
