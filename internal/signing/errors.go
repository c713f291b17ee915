package signing

import (
	"errors"
	"fmt"
)

// Code is a server-side audit reason for a rejected signed request. Codes are
// never sent to the caller.
type Code string

const (
	CodeMissingHeaders   Code = "missing_headers"
	CodeUnknownClientID  Code = "unknown_client_id"
	CodeClientDisabled   Code = "client_disabled"
	CodeTimestampTooOld  Code = "timestamp_too_old"
	CodeTimestampTooNew  Code = "timestamp_too_new"
	CodeInvalidSignature Code = "invalid_signature"
	CodePathMismatch     Code = "path_mismatch"
	CodeMethodMismatch   Code = "method_mismatch"
	CodeBodyHashMismatch Code = "body_hash_mismatch"
	CodeNonceReplay      Code = "nonce_replay"
)

// Error is a verification failure carrying its audit code.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func fail(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// CodeOf returns the audit code carried by err, or "" if err is not a
// verification failure.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ErrUnknownClient is returned by a ClientResolver for an unknown client id.
var ErrUnknownClient = errors.New("unknown client")
