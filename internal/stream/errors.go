package stream

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure.
type Kind string

const (
	// KindUnauthorized is an HTTP 401 from the endpoint.
	KindUnauthorized Kind = "unauthorized"
	// KindStream is any other non-2xx response.
	KindStream Kind = "stream"
	// KindNetwork covers setup, transport and decoding failures, explicit
	// cancellation and the overall timeout. It carries no status code.
	KindNetwork Kind = "network"
)

// Sentinels for errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrStream       = errors.New("stream error")
	ErrNetwork      = errors.New("network error")
)

// Error is the single error shape delivered to stream consumers.
type Error struct {
	Kind       Kind
	StatusCode int // 0 when absent
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s (status %d)", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrStream:
		return e.Kind == KindStream
	case ErrNetwork:
		return e.Kind == KindNetwork
	}
	return false
}

func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

func statusError(code int, body string) *Error {
	kind := KindStream
	if code == 401 {
		kind = KindUnauthorized
	}
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return &Error{Kind: kind, StatusCode: code, Err: err}
}
