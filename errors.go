// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "fmt"

// UnexpectedEOF is returned when a field could not be read because the
// image ended before the field's bytes did.
type UnexpectedEOF struct {
	Field string
}

func (e *UnexpectedEOF) Error() string {
	return fmt.Sprintf("unexpected EOF reading field %q", e.Field)
}

// NewUnexpectedEOF builds an UnexpectedEOF for the named field.
func NewUnexpectedEOF(field string) error {
	return &UnexpectedEOF{Field: field}
}

// Invalid is returned when a field was read but its value is not a valid
// value for a PE image.
type Invalid struct {
	Reason string
}

func (e *Invalid) Error() string {
	return "invalid PE image: " + e.Reason
}

// NewInvalid builds an Invalid for the given reason.
func NewInvalid(reason string) error {
	return &Invalid{Reason: reason}
}
