package domain

import "errors"

// ErrorKind classifies failures so HTTP handlers can map every error to a
// status code in one place.
type ErrorKind int

const (
	KindBadRequest ErrorKind = iota + 1
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindProvider
	KindConfig
	KindInternal
)

// Error carries a kind plus a message safe to expose to clients.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func BadRequest(msg string) error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

func Unauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func Forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// ProviderError wraps an upstream generation or asset-upload failure. The
// upstream message is passed through when available.
func ProviderError(msg string, err error) error {
	return &Error{Kind: KindProvider, Message: msg, Err: err}
}

// ConfigError marks missing or invalid credentials. Adapters fail fast with
// it before any network call.
func ConfigError(msg string) error {
	return &Error{Kind: KindConfig, Message: msg}
}

func InternalError(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message from an error chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
