// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package nerr defines the error taxonomy carried on a transaction's
// control block.
package nerr

import "fmt"

// Code is one of the fixed error classes a transaction can terminate with.
type Code string

// Error classes a transaction can terminate with.
const (
	OOM        Code = "OOM"
	Sys        Code = "SYS"
	DBLocked   Code = "DB_LOCKED"
	PkgNoExist Code = "PKG_NO_EXIST"
	PkgExist   Code = "PKG_EXIST"
	BrokenDep  Code = "BROKEN_DEP"
	SyntaxErr  Code = "SYNTAX_ERR"
	// TooManyDeps signals a package declaring more dependencies than the
	// record format's 60-entry cap. Not part of the original taxonomy;
	// added so the hard-cap failure has a typed code instead of reusing
	// SYS for what is really a validation failure.
	TooManyDeps Code = "TOO_MANY_DEPS"
)

// maxHints is the number of diagnostic string hints a control block carries.
const maxHints = 5

// Error is the typed error carried on a transaction's control block.
//
// It carries a fixed-size hint array rather than a slice so that the
// zero value is always safe to inspect, mirroring the control block's
// fixed errHint[5] in the original design.
type Error struct {
	Code  Code
	Hints [maxHints]string
	// NumHints is how many of Hints are populated, in order.
	NumHints int
	// Errno is the underlying syscall/OS error for Code == Sys, if any.
	Errno error
}

// New builds an Error of the given code with up to five hints.
func New(code Code, hints ...string) *Error {
	e := &Error{Code: code}
	for i, h := range hints {
		if i >= maxHints {
			break
		}
		e.Hints[i] = h
		e.NumHints++
	}
	return e
}

// WrapSys wraps a syscall/OS error as a SYS error, with optional hints
// (usually the path that failed).
func WrapSys(err error, hints ...string) *Error {
	e := New(Sys, hints...)
	e.Errno = err
	return e
}

func (e *Error) Error() string {
	if e.Errno != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Errno)
	}
	if e.NumHints == 0 {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Hints[:e.NumHints])
}

func (e *Error) Unwrap() error {
	return e.Errno
}
