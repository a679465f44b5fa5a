// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package halerr defines the error kinds returned by the driver registry and
// the IO expander layer.
//
// Every public call in devreg and ioexp returns either nil or an error that
// matches exactly one Kind with errors.Is:
//
//	if errors.Is(err, halerr.NotFound) {
//		...
//	}
package halerr

import (
	"errors"
	"strings"
)

// Kind is a stable, comparable error identifier.
//
// A Kind implements error so it can be used directly as a sentinel.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	InvalidParam   Kind = "invalid_param"
	InvalidState   Kind = "invalid_state"
	NotFound       Kind = "not_found"
	NoSupported    Kind = "no_supported"
	Already        Kind = "already"
	Memory         Kind = "memory"
	Lock           Kind = "lock"
	Unlock         Kind = "unlock"
	Internal       Kind = "internal"
	InputDirection Kind = "input_direction"
)

// Error carries a Kind plus the operation that failed and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New returns an *Error of kind k for operation op.
func New(k Kind, op, msg string) error {
	return &Error{Kind: k, Op: op, Msg: msg}
}

// Wrap returns an *Error of kind k for operation op with cause err.
func Wrap(k Kind, op string, err error) error {
	return &Error{Kind: k, Op: op, Err: err}
}

// KindOf extracts the Kind of err.
//
// It returns "" for nil and Internal for errors that carry no Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Internal
}

// Ensure returns err unchanged when it already carries a Kind, and wraps it as
// kind k for operation op otherwise.
func Ensure(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var kk Kind
	if errors.As(err, &kk) {
		return err
	}
	return Wrap(k, op, err)
}
