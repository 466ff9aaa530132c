// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

// Error keys reported when a license is rejected. They double as message
// catalog keys so the rejection can be shown in the user's language.
const (
	ErrKeyInvalid         = "license.error.invalid"
	ErrKeyEmpty           = "license.error.empty"
	ErrKeyServerMismatch  = "license.error.server_mismatch"
	ErrKeyBuildTooNew     = "license.error.build_too_new"
	ErrKeyRoleNotLicensed = "license.error.role_not_licensed"
)

// ArgRole names the role in ErrKeyRoleNotLicensed.
const ArgRole = "role"

// Error pairs a localizable key with the underlying cause.
type Error struct {
	Key  string
	Args map[string]any
	Err  error
}

func NewError(key string, err error) *Error {
	return &Error{Key: key, Err: err}
}

// With sets a message argument and returns e.
func (e *Error) With(name string, value any) *Error {
	if e.Args == nil {
		e.Args = make(map[string]any)
	}
	e.Args[name] = value
	return e
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Key
	}
	return e.Key + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
