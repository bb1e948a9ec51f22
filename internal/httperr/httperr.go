// Package httperr models errors that carry an HTTP status so handlers at
// the process boundary can map them without inspecting internals.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	err    error
	status int
}

func New(err error, status int) *Error {
	return &Error{err: err, status: status}
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if text := http.StatusText(e.status); text != "" {
		return text
	}
	return fmt.Sprintf("%d", e.status)
}

func (e *Error) Status() int { return e.status }

func (e *Error) Unwrap() error { return e.err }

func BadRequest(format string, args ...any) *Error {
	return New(fmt.Errorf(format, args...), http.StatusBadRequest)
}

func NotFound(format string, args ...any) *Error {
	return New(fmt.Errorf(format, args...), http.StatusNotFound)
}

func BadGateway(format string, args ...any) *Error {
	return New(fmt.Errorf(format, args...), http.StatusBadGateway)
}

func Internal(format string, args ...any) *Error {
	return New(fmt.Errorf(format, args...), http.StatusInternalServerError)
}

// StatusOf returns the classified status of err, or 500 for anything
// unclassified.
func StatusOf(err error) int {
	var he *Error
	if errors.As(err, &he) {
		return he.Status()
	}
	return http.StatusInternalServerError
}

// IsStatus reports whether err is classified with the given status.
func IsStatus(err error, status int) bool {
	var he *Error
	return errors.As(err, &he) && he.Status() == status
}

// Write maps err onto the response. Classified errors expose their message;
// everything else becomes a generic 500 so internals never leak to callers.
func Write(w http.ResponseWriter, err error) {
	var he *Error
	if errors.As(err, &he) {
		http.Error(w, he.Error(), he.Status())
		return
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
