package importers

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the import engine.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindNotFound      ErrorKind = "not_found"
	KindParse         ErrorKind = "parse"
	KindWrite         ErrorKind = "write"
	KindScheduling    ErrorKind = "scheduling"
	KindRetrieval     ErrorKind = "retrieval"
)

// Sentinels for errors.Is against an *Error of the matching kind.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrParse         = errors.New("parse error")
	ErrWrite         = errors.New("write error")
	ErrScheduling    = errors.New("scheduling error")
	ErrRetrieval     = errors.New("retrieval error")
)

var kindSentinels = map[ErrorKind]error{
	KindConfiguration: ErrConfiguration,
	KindNotFound:      ErrNotFound,
	KindParse:         ErrParse,
	KindWrite:         ErrWrite,
	KindScheduling:    ErrScheduling,
	KindRetrieval:     ErrRetrieval,
}

// Error is the engine's typed error. Op names the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return newError(kind, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of err, or "" when err is not an engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
