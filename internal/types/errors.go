package types

import (
	"errors"
	"fmt"
)

// Kind classifies failures reported to callers.
type Kind string

const (
	KindInvalidStyle         Kind = "InvalidStyle"
	KindFrameProcessing      Kind = "FrameProcessingError"
	KindBackendUnavailable   Kind = "BackendUnavailable"
	KindMalformedBoundingBox Kind = "MalformedBoundingBox"
	KindUnsupportedFormat    Kind = "UnsupportedFormat"
	KindVideoUnavailable     Kind = "VideoUnavailable"
	KindInvalidInput         Kind = "InvalidInput"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInvalidStyle         = &Error{Kind: KindInvalidStyle}
	ErrFrameProcessing      = &Error{Kind: KindFrameProcessing}
	ErrBackendUnavailable   = &Error{Kind: KindBackendUnavailable}
	ErrMalformedBoundingBox = &Error{Kind: KindMalformedBoundingBox}
	ErrUnsupportedFormat    = &Error{Kind: KindUnsupportedFormat}
	ErrVideoUnavailable     = &Error{Kind: KindVideoUnavailable}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
)

// Error is a failure with a kind and a human readable detail.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// Errorf builds an *Error. err may be nil.
func Errorf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Detail == "" && t.Err == nil
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
