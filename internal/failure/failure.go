// Package failure classifies errors raised while driving the bosh CLI.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a failure category.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindInstaller     Kind = "installer"
	KindTimeout       Kind = "timeout"
	KindNonZeroExit   Kind = "non_zero_exit"
	KindSpawn         Kind = "spawn"
	KindConnection    Kind = "connection"
	KindParse         Kind = "parse"
	KindInterrupted   Kind = "interrupted"
	KindValidation    Kind = "validation"
)

// Error is a classified failure. Transient marks a typed transient category
// attached by the executor, such as a refused connection behind a non-zero exit.
type Error struct {
	Kind       Kind
	Operation  string
	Message    string
	Diagnostic string
	Transient  Kind
	Err        error
}

func (failureError *Error) Error() string {
	var builder strings.Builder
	if failureError.Operation != "" {
		builder.WriteString(failureError.Operation)
		builder.WriteString(": ")
	}
	builder.WriteString(failureError.Message)
	if failureError.Diagnostic != "" {
		builder.WriteString(": ")
		builder.WriteString(failureError.Diagnostic)
	}
	if failureError.Err != nil && failureError.Diagnostic == "" {
		builder.WriteString(": ")
		builder.WriteString(failureError.Err.Error())
	}
	return builder.String()
}

func (failureError *Error) Unwrap() error {
	return failureError.Err
}

// Is matches another *Error by kind so that errors.Is(err, failure.Timeout) works.
func (failureError *Error) Is(target error) bool {
	var targetError *Error
	if !errors.As(target, &targetError) {
		return false
	}
	if targetError.Message != "" || targetError.Operation != "" {
		return false
	}
	return targetError.Kind == failureError.Kind || (targetError.Kind != "" && targetError.Kind == failureError.Transient)
}

var (
	Configuration = &Error{Kind: KindConfiguration}
	Installer     = &Error{Kind: KindInstaller}
	Timeout       = &Error{Kind: KindTimeout}
	NonZeroExit   = &Error{Kind: KindNonZeroExit}
	Spawn         = &Error{Kind: KindSpawn}
	Connection    = &Error{Kind: KindConnection}
	Parse         = &Error{Kind: KindParse}
	Interrupted   = &Error{Kind: KindInterrupted}
	Validation    = &Error{Kind: KindValidation}
)

// New builds a classified failure without an underlying cause.
func New(kind Kind, operation string, message string) *Error {
	return &Error{Kind: kind, Operation: operation, Message: message}
}

// Wrap builds a classified failure around cause.
func Wrap(kind Kind, operation string, message string, cause error) *Error {
	return &Error{Kind: kind, Operation: operation, Message: message, Err: cause}
}

// Validationf reports a blank or malformed caller parameter.
func Validationf(operation string, format string, arguments ...any) *Error {
	return New(KindValidation, operation, fmt.Sprintf(format, arguments...))
}

// KindOf returns the kind of the outermost classified failure in the chain.
func KindOf(err error) (Kind, bool) {
	var failureError *Error
	if errors.As(err, &failureError) {
		return failureError.Kind, true
	}
	return "", false
}

// TransientOf returns the typed transient category attached to err, if any.
func TransientOf(err error) (Kind, bool) {
	var failureError *Error
	if !errors.As(err, &failureError) {
		return "", false
	}
	switch failureError.Kind {
	case KindTimeout, KindConnection, KindSpawn:
		return failureError.Kind, true
	}
	if failureError.Transient != "" {
		return failureError.Transient, true
	}
	return "", false
}
