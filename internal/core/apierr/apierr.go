// Package apierr defines the error taxonomy surfaced to API clients.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	InvalidQuery          Kind = "InvalidQuery"
	InvalidParameterValue Kind = "InvalidParameterValue"
	ItemNotFound          Kind = "ItemNotFound"
	Conflict              Kind = "Conflict"
	GenericProviderError  Kind = "GenericProviderError"
)

// Status returns the http status code for the kind
func (k Kind) Status() int {
	switch k {
	case InvalidQuery, InvalidParameterValue:
		return http.StatusBadRequest
	case ItemNotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind        Kind
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Description, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Description: fmt.Sprintf(format, args...), Cause: cause}
}

func Query(format string, args ...any) *Error { return New(InvalidQuery, format, args...) }

func Value(format string, args ...any) *Error {
	return New(InvalidParameterValue, format, args...)
}

func NotFound(format string, args ...any) *Error { return New(ItemNotFound, format, args...) }

func Conflictf(format string, args ...any) *Error { return New(Conflict, format, args...) }

func Provider(cause error, format string, args ...any) *Error {
	return Wrap(GenericProviderError, cause, format, args...)
}

// As extracts an *Error from err. Anything else is reported as a provider error.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Provider(err, "internal provider error")
}

func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

type body struct {
	Code        int    `json:"code"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Body renders the client visible json object. The cause is never included.
func (e *Error) Body() []byte {
	b, _ := json.Marshal(body{
		Code:        e.Kind.Status(),
		Type:        string(e.Kind),
		Description: e.Description,
	})
	return b
}
