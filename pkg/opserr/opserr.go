package opserr

import (
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// Kind classifies failures surfaced by the lifecycle core.
type Kind string

const (
	// KindMissingArgument means a required input was absent.
	KindMissingArgument Kind = "MissingArgument"
	// KindNotFound means a named cloud object does not exist.
	KindNotFound Kind = "NotFound"
	// KindAmbiguous means several objects matched and the caller must disambiguate.
	KindAmbiguous Kind = "Ambiguous"
	// KindIncompatible means the instance version is outside the supported window.
	KindIncompatible Kind = "Incompatible"
	// KindInvalidState covers disconnected clusters, missing OIDC and a cluster without the IoT Operations extension.
	KindInvalidState Kind = "InvalidState"
	// KindMissingExtension means no candidate custom location carries the required extension type.
	KindMissingExtension Kind = "MissingExtension"
	// KindConfig means a malformed feature key or an unknown feature value.
	KindConfig Kind = "ConfigError"
)

// Error is a typed error carrying its Kind so callers can branch on it.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// HTTPStatus returns the status code of the management-plane response error in err's chain.
func HTTPStatus(err error) (int, bool) {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode, true
	}
	return 0, false
}

// IsNotFound reports whether err is a NotFound kind or an HTTP 404 from the management plane.
func IsNotFound(err error) bool {
	if Is(err, KindNotFound) {
		return true
	}
	status, ok := HTTPStatus(err)
	return ok && status == 404
}
