// Package errors provides the structured error code system used by sentinel-rag.
//
// Error Code Format: AABBCCC (7 digits)
//
//	AA  (00-99): Service code, 00 is shared, 20 is the RAG service
//	BB  (00-99): Category code, see the Category constants
//	CCC (000-999): Sequence number within the category
//
// Every Errno maps to an HTTP status and carries EN/ZH messages.
//
// Usage:
//
//	return errors.ErrInvalidParam.WithMessage("question is required")
//
//	return errors.ErrServiceUnavailable.WithCause(err)
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Errno represents a structured error with code and messages.
type Errno struct {
	// Code is the unique error code.
	Code int `json:"code"`

	// HTTP is the HTTP status code to return.
	HTTP int `json:"-"`

	MessageEN string `json:"message"`
	MessageZH string `json:"message_zh,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Errno) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("errno %d: %s: %v", e.Code, e.MessageEN, e.cause)
	}
	return fmt.Sprintf("errno %d: %s", e.Code, e.MessageEN)
}

// Unwrap returns the underlying cause.
func (e *Errno) Unwrap() error {
	return e.cause
}

// Is matches any Errno with the same code.
func (e *Errno) Is(target error) bool {
	t, ok := target.(*Errno)
	return ok && e.Code == t.Code
}

func (e *Errno) clone() *Errno {
	c := *e
	return &c
}

// WithCause returns a copy of e wrapping cause. Registered values are never mutated.
func (e *Errno) WithCause(cause error) *Errno {
	c := e.clone()
	c.cause = cause
	return c
}

// WithMessage returns a copy of e with a custom English message.
func (e *Errno) WithMessage(msg string) *Errno {
	c := e.clone()
	c.MessageEN = msg
	return c
}

// WithMessagef is WithMessage with formatting.
func (e *Errno) WithMessagef(format string, args ...any) *Errno {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// Message returns the message for lang, falling back to English.
// Any "zh" language tag selects the Chinese message.
func (e *Errno) Message(lang string) string {
	if e.MessageZH != "" && strings.HasPrefix(strings.ToLower(lang), "zh") {
		return e.MessageZH
	}
	return e.MessageEN
}

// HTTPStatus returns the HTTP status code.
func (e *Errno) HTTPStatus() int {
	if e.HTTP != 0 {
		return e.HTTP
	}
	return http.StatusInternalServerError
}

// Format supports %+v, which also prints the Chinese message and the cause chain.
func (e *Errno) Format(s fmt.State, verb rune) {
	switch {
	case verb == 'v' && s.Flag('+'):
		_, _ = fmt.Fprintf(s, "errno %d [HTTP %d]: %s", e.Code, e.HTTPStatus(), e.MessageEN)
		if e.MessageZH != "" {
			_, _ = fmt.Fprintf(s, " (%s)", e.MessageZH)
		}
		if e.cause != nil {
			_, _ = fmt.Fprintf(s, "\ncaused by: %+v", e.cause)
		}
	case verb == 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	default:
		_, _ = fmt.Fprint(s, e.Error())
	}
}

var (
	registry   = make(map[int]*Errno)
	registryMu sync.RWMutex
)

func register(e *Errno) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := registry[e.Code]; ok {
		return fmt.Errorf("errno code %d already registered: %s", e.Code, existing.MessageEN)
	}
	registry[e.Code] = e
	return nil
}

// Register records e so responses can resolve its status from the code alone.
// It panics on a duplicate code.
func Register(e *Errno) *Errno {
	if err := register(e); err != nil {
		panic(err)
	}
	return e
}

// MustRegister is an alias for Register.
func MustRegister(e *Errno) *Errno {
	return Register(e)
}

// Lookup returns the registered Errno for the given code.
func Lookup(code int) (*Errno, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[code]
	return e, ok
}

// FromError converts any error to an Errno.
//
// The outermost Errno in the chain wins. A bare context cancellation or
// deadline maps to ErrCanceled or ErrTimeout, anything else becomes ErrInternal.
func FromError(err error) *Errno {
	if err == nil {
		return nil
	}
	var e *Errno
	switch {
	case stderrors.As(err, &e):
		return e
	case stderrors.Is(err, context.DeadlineExceeded):
		return ErrTimeout.WithCause(err)
	case stderrors.Is(err, context.Canceled):
		return ErrCanceled.WithCause(err)
	default:
		return ErrInternal.WithCause(err)
	}
}

// IsCode reports whether any Errno in the chain has the given code.
func IsCode(err error, code int) bool {
	for err != nil {
		if e, ok := err.(*Errno); ok && e.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// GetCode returns the code of the outermost Errno in the chain, or -1.
func GetCode(err error) int {
	var e *Errno
	if stderrors.As(err, &e) {
		return e.Code
	}
	return -1
}
