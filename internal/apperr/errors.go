// Package apperr holds the error kinds shared by the directory, the message store and the service.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
	ErrForeignKey = errors.New("referenced row does not exist")
	ErrStore      = errors.New("store failure")
)

// OpError ties an operation name and a kind to the underlying cause.
// errors.Is matches both the kind and the cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func E(op string, kind error, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}

func Validation(op, msg string) error {
	return &OpError{Op: op, Kind: ErrValidation, Err: errors.New(msg)}
}

func NotFound(op, what string) error {
	return &OpError{Op: op, Kind: ErrNotFound, Err: errors.New(what)}
}

func Store(op string, err error) error {
	return &OpError{Op: op, Kind: ErrStore, Err: err}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsForeignKey(err error) bool { return errors.Is(err, ErrForeignKey) }
